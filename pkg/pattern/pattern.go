// Package pattern defines the pattern identity model for Muninn.
//
// Muninn treats patterns as opaque entities: the substrate never inspects
// raw input data, it only links pattern identifiers together and manages
// their lifecycle. This package provides:
//   - PatternID: a 64-bit monotonic identity used as the graph key
//   - IDAllocator: an explicit, test-injectable ID source
//   - Pattern: the stored payload (features, confidence, context profile)
//   - Database: the pluggable key-value store patterns live in
//   - Similarity: the pluggable feature-similarity metric
//
// Example Usage:
//
//	alloc := pattern.NewIDAllocator(1)
//	db := pattern.NewMemoryDatabase()
//	defer db.Close()
//
//	p := &pattern.Pattern{
//		ID:         alloc.Next(),
//		Features:   pattern.FeatureVector{0.1, 0.7, 0.2},
//		Confidence: 0.8,
//	}
//	db.Store(p)
//
//	sim := pattern.CosineSimilarity{}
//	score := sim.ComputeFromFeatures(p.Features, other.Features)
package pattern

import (
	"sync/atomic"
	"time"
)

// PatternID is a strongly-typed unique identifier for patterns.
//
// IDs are issued monotonically by an IDAllocator and are never reused
// within a process. The zero value is reserved as "no pattern".
type PatternID uint64

// InvalidPattern is the reserved zero PatternID.
const InvalidPattern PatternID = 0

// FeatureVector is the opaque feature representation of a pattern.
//
// The substrate never interprets individual dimensions; it only hands
// vectors to a Similarity implementation.
type FeatureVector []float32

// Pattern is the stored payload for a learned pattern.
//
// Fields:
//   - ID: Unique identifier issued by an IDAllocator
//   - Features: Feature vector for similarity computation
//   - Confidence: How reliable this pattern is (0.0-1.0)
//   - ContextProfile: Named context weights observed at activation time
//   - ClusterID: Cluster this pattern was assigned to (0 = unclustered)
//   - ParentID: Synthesized hierarchy parent (0 = none)
//   - Members: Component patterns, for composite patterns
//
// Pattern structs are NOT thread-safe; the Database handles concurrency
// and always hands out copies.
type Pattern struct {
	ID             PatternID
	Features       FeatureVector
	Confidence     float64
	ContextProfile map[string]float64
	ClusterID      uint32
	ParentID       PatternID
	Members        []PatternID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Clone returns a deep copy of the pattern.
func (p *Pattern) Clone() *Pattern {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Features != nil {
		cp.Features = make(FeatureVector, len(p.Features))
		copy(cp.Features, p.Features)
	}
	if p.ContextProfile != nil {
		cp.ContextProfile = make(map[string]float64, len(p.ContextProfile))
		for k, v := range p.ContextProfile {
			cp.ContextProfile[k] = v
		}
	}
	if p.Members != nil {
		cp.Members = make([]PatternID, len(p.Members))
		copy(cp.Members, p.Members)
	}
	return &cp
}

// HasMember reports whether id is a direct component of this pattern.
func (p *Pattern) HasMember(id PatternID) bool {
	for _, m := range p.Members {
		if m == id {
			return true
		}
	}
	return false
}

// IDAllocator issues monotonically increasing PatternIDs.
//
// The allocator is explicit process state rather than a hidden global:
// construct one, inject it where IDs are minted (consolidation synthesizes
// parent patterns, for example), and reset it in tests for reproducible
// IDs.
//
// Thread Safety: all methods are safe for concurrent use.
//
// Example:
//
//	alloc := pattern.NewIDAllocator(1)
//	a := alloc.Next() // 1
//	b := alloc.Next() // 2
//
//	// In tests:
//	alloc.Reset(100)
//	c := alloc.Next() // 100
type IDAllocator struct {
	next atomic.Uint64
}

// NewIDAllocator creates an allocator whose first issued ID is start.
// A start of 0 is bumped to 1 so InvalidPattern is never issued.
func NewIDAllocator(start uint64) *IDAllocator {
	if start == 0 {
		start = 1
	}
	a := &IDAllocator{}
	a.next.Store(start)
	return a
}

// Next issues the next PatternID.
func (a *IDAllocator) Next() PatternID {
	return PatternID(a.next.Add(1) - 1)
}

// Peek returns the ID that the next call to Next would issue.
func (a *IDAllocator) Peek() PatternID {
	return PatternID(a.next.Load())
}

// Reset rewinds the allocator so the next issued ID is next.
// Intended for tests and snapshot restore; a value of 0 is bumped to 1.
func (a *IDAllocator) Reset(next uint64) {
	if next == 0 {
		next = 1
	}
	a.next.Store(next)
}
