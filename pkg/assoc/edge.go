// Package assoc implements the directed, typed, weighted association graph
// at the heart of Muninn.
//
// Associations are learned relationships between patterns: "A tends to
// cause B", "A and B belong together", "A contains B". The package
// provides:
//   - Edge: a single association with lock-free mutable scalar fields
//   - Matrix: the concurrent sparse graph store with adjacency indices
//   - PropagateActivation: breadth-first spreading activation
//   - Save/Load: a versioned, checksummed binary snapshot of all edges
//
// Concurrency model: the Matrix holds one RWMutex guarding edge existence
// and all indices. Scalar edge fields (strength, co-occurrence count,
// temporal correlation, last reinforcement) are atomics, so reinforcement
// and decay run under the read lock without blocking lookups. An edge's
// context profile has its own small mutex since it changes rarely.
//
// Example Usage:
//
//	m := assoc.NewMatrix(nil)
//
//	m.AddAssociation(assoc.NewEdge(1, 2, assoc.Causal, 0.6))
//	m.StrengthenAssociation(1, 2, 0.1)
//
//	reached := m.PropagateActivation(1, 1.0, 3, 0.05, nil)
//	for _, act := range reached {
//		fmt.Printf("%d activated at %.2f\n", act.Pattern, act.Activation)
//	}
package assoc

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orneryd/muninn/pkg/pattern"
)

// Type classifies what kind of relationship an association represents.
type Type uint8

const (
	// Causal: the source pattern consistently precedes the target.
	Causal Type = iota
	// Categorical: the patterns belong to the same cluster or category.
	Categorical
	// Spatial: the patterns share activation context.
	Spatial
	// Functional: the patterns serve a related role (default fallback).
	Functional
	// Compositional: one pattern is a structural component of the other.
	Compositional

	numTypes
)

// String returns the lowercase name of the association type.
func (t Type) String() string {
	switch t {
	case Causal:
		return "causal"
	case Categorical:
		return "categorical"
	case Spatial:
		return "spatial"
	case Functional:
		return "functional"
	case Compositional:
		return "compositional"
	default:
		return "unknown"
	}
}

// Types lists all association types in classifier priority order:
// causal evidence is checked first, functional is the fallback.
func Types() []Type {
	return []Type{Causal, Spatial, Categorical, Compositional, Functional}
}

// Edge is a single directed, typed, weighted association.
//
// Scalar fields that maintenance mutates continuously (strength,
// co-occurrence count, temporal correlation, last reinforcement) are
// atomics: they can be updated while the owning Matrix holds only its
// read lock. Structural fields (Source, Target, Type, CreatedAt,
// DecayRate) are immutable after creation.
//
// Invariant: strength is clamped to [0, 1] on every write.
type Edge struct {
	Source    pattern.PatternID
	Target    pattern.PatternID
	Type      Type
	DecayRate float64 // per-second exponential decay constant
	CreatedAt time.Time

	strength     atomic.Uint64 // float64 bits
	coOccurrence atomic.Uint32
	temporalCorr atomic.Uint64 // float64 bits, [-1, 1]
	lastReinf    atomic.Int64  // unix nanoseconds

	ctxMu   sync.RWMutex
	context map[string]float64
}

// NewEdge creates an association with the given initial strength.
// Strength is clamped to [0, 1]; DecayRate defaults to 0 (no intrinsic
// decay) and can be set before the edge is added to a matrix.
func NewEdge(source, target pattern.PatternID, typ Type, strength float64) *Edge {
	e := &Edge{
		Source:    source,
		Target:    target,
		Type:      typ,
		CreatedAt: time.Now(),
	}
	e.SetStrength(strength)
	e.lastReinf.Store(e.CreatedAt.UnixNano())
	return e
}

// clamp01 bounds v to [0, 1], absorbing NaN as 0.
func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Strength returns the current association strength in [0, 1].
func (e *Edge) Strength() float64 {
	return math.Float64frombits(e.strength.Load())
}

// SetStrength stores a new strength, clamped to [0, 1].
func (e *Edge) SetStrength(s float64) {
	e.strength.Store(math.Float64bits(clamp01(s)))
}

// AddStrength applies a bounded delta and returns the new strength.
// The update is a CAS loop so concurrent callers never lose writes.
func (e *Edge) AddStrength(delta float64) float64 {
	for {
		old := e.strength.Load()
		cur := math.Float64frombits(old)
		next := clamp01(cur + delta)
		if e.strength.CompareAndSwap(old, math.Float64bits(next)) {
			return next
		}
	}
}

// CoOccurrenceCount returns how many co-occurrences formed and reinforced
// this edge.
func (e *Edge) CoOccurrenceCount() uint32 {
	return e.coOccurrence.Load()
}

// IncrementCoOccurrence bumps the co-occurrence count by one.
func (e *Edge) IncrementCoOccurrence() uint32 {
	return e.coOccurrence.Add(1)
}

// TemporalCorrelation returns the directional timing signal in [-1, 1].
// Positive means the source tends to precede the target.
func (e *Edge) TemporalCorrelation() float64 {
	return math.Float64frombits(e.temporalCorr.Load())
}

// SetTemporalCorrelation stores a correlation, clamped to [-1, 1].
func (e *Edge) SetTemporalCorrelation(c float64) {
	if math.IsNaN(c) {
		c = 0
	}
	if c < -1 {
		c = -1
	}
	if c > 1 {
		c = 1
	}
	e.temporalCorr.Store(math.Float64bits(c))
}

// LastReinforcement returns the time of the most recent reinforcement
// (or creation, if never reinforced).
func (e *Edge) LastReinforcement() time.Time {
	return time.Unix(0, e.lastReinf.Load())
}

// Touch records a reinforcement at the given time.
func (e *Edge) Touch(t time.Time) {
	e.lastReinf.Store(t.UnixNano())
}

// ContextWeight returns the weight of one context dimension (0 if unset).
func (e *Edge) ContextWeight(dim string) float64 {
	e.ctxMu.RLock()
	defer e.ctxMu.RUnlock()
	return e.context[dim]
}

// SetContextWeight sets the weight of one context dimension.
func (e *Edge) SetContextWeight(dim string, w float64) {
	e.ctxMu.Lock()
	defer e.ctxMu.Unlock()
	if e.context == nil {
		e.context = make(map[string]float64)
	}
	e.context[dim] = w
}

// MergeContext folds the given profile into the edge's context profile
// using an exponential moving average with the given blend factor.
func (e *Edge) MergeContext(profile map[string]float64, blend float64) {
	if len(profile) == 0 {
		return
	}
	e.ctxMu.Lock()
	defer e.ctxMu.Unlock()
	if e.context == nil {
		e.context = make(map[string]float64, len(profile))
	}
	for k, v := range profile {
		e.context[k] = (1-blend)*e.context[k] + blend*v
	}
}

// ContextProfile returns a copy of the edge's context profile.
func (e *Edge) ContextProfile() map[string]float64 {
	e.ctxMu.RLock()
	defer e.ctxMu.RUnlock()
	if len(e.context) == 0 {
		return nil
	}
	cp := make(map[string]float64, len(e.context))
	for k, v := range e.context {
		cp[k] = v
	}
	return cp
}

// ContextualStrength returns the strength modulated by how well the
// supplied context matches the edge's context profile.
//
// An edge with no profile, or a nil query context, returns the base
// strength. Otherwise the result is strength × (0.5 + 0.5 × match), so a
// perfect context match keeps the full strength and a total mismatch
// halves it. The result stays within [0, strength].
func (e *Edge) ContextualStrength(context map[string]float64) float64 {
	s := e.Strength()
	if len(context) == 0 {
		return s
	}
	e.ctxMu.RLock()
	profile := e.context
	if len(profile) == 0 {
		e.ctxMu.RUnlock()
		return s
	}
	match := pattern.ContextSimilarity(profile, context)
	e.ctxMu.RUnlock()
	return s * (0.5 + 0.5*match)
}

// Snapshot is an owned, immutable copy of an edge's state.
//
// The Matrix hands out Snapshots instead of live pointers so callers can
// never hold a reference across a Compact.
type Snapshot struct {
	Source              pattern.PatternID
	Target              pattern.PatternID
	Type                Type
	Strength            float64
	CoOccurrenceCount   uint32
	TemporalCorrelation float64
	DecayRate           float64
	LastReinforcement   time.Time
	CreatedAt           time.Time
	Context             map[string]float64
}

// snapshot captures the edge's current state.
func (e *Edge) snapshot() Snapshot {
	return Snapshot{
		Source:              e.Source,
		Target:              e.Target,
		Type:                e.Type,
		Strength:            e.Strength(),
		CoOccurrenceCount:   e.CoOccurrenceCount(),
		TemporalCorrelation: e.TemporalCorrelation(),
		DecayRate:           e.DecayRate,
		LastReinforcement:   e.LastReinforcement(),
		CreatedAt:           e.CreatedAt,
		Context:             e.ContextProfile(),
	}
}
