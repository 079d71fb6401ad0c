// Package utility scores how important each pattern currently is: access
// statistics feed a weighted utility score, a ring-buffer history detects
// utility trends, and an adaptive threshold converts memory pressure (or
// a utility percentile) into the cut line that pruning and tiering use.
package utility

import (
	"sync"
	"time"

	"github.com/orneryd/muninn/pkg/pattern"
)

// AccessStats is one pattern's (or pattern pair's) access record.
//
// The AccessTracker owns and mutates these; everyone else gets copies.
type AccessStats struct {
	AccessCount int
	LastAccess  time.Time
	CreatedAt   time.Time

	// SmoothedInterval is an exponential moving average of the time
	// between consecutive accesses. Zero until the second access.
	SmoothedInterval time.Duration
}

// intervalSmoothing is the EMA blend factor for inter-access intervals.
const intervalSmoothing = 0.3

// pairKey identifies one unordered pattern pair in canonical order.
type pairKey struct {
	a, b pattern.PatternID
}

func makePairKey(a, b pattern.PatternID) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{a, b}
}

// AccessTracker records per-pattern and per-pair access statistics.
//
// It holds its own lock, deliberately independent of the association
// matrix: utility scoring is advisory and tolerates slightly stale reads,
// so there is no cross-structure lock ordering or atomic snapshot between
// the tracker and the graph. That non-atomicity is a contract, not an
// oversight.
//
// Thread Safety: all methods are safe for concurrent use.
type AccessTracker struct {
	mu       sync.RWMutex
	patterns map[pattern.PatternID]*AccessStats
	pairs    map[pairKey]*AccessStats

	now func() time.Time
}

// NewAccessTracker creates an empty tracker.
func NewAccessTracker() *AccessTracker {
	return &AccessTracker{
		patterns: make(map[pattern.PatternID]*AccessStats),
		pairs:    make(map[pairKey]*AccessStats),
		now:      time.Now,
	}
}

// SetClock replaces the tracker's time source. Intended for tests.
func (t *AccessTracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if now != nil {
		t.now = now
	}
}

// RecordAccess registers one access of a pattern.
func (t *AccessTracker) RecordAccess(id pattern.PatternID) {
	if id == pattern.InvalidPattern {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	ts := t.now()
	s, ok := t.patterns[id]
	if !ok {
		s = &AccessStats{CreatedAt: ts}
		t.patterns[id] = s
	}
	touch(s, ts)
}

// RecordPairAccess registers one traversal of the unordered pair, used by
// the consolidator to find frequently traversed paths.
func (t *AccessTracker) RecordPairAccess(a, b pattern.PatternID) {
	if a == pattern.InvalidPattern || b == pattern.InvalidPattern || a == b {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	ts := t.now()
	key := makePairKey(a, b)
	s, ok := t.pairs[key]
	if !ok {
		s = &AccessStats{CreatedAt: ts}
		t.pairs[key] = s
	}
	touch(s, ts)
}

// touch applies one access at ts to the stats record.
func touch(s *AccessStats, ts time.Time) {
	if s.AccessCount > 0 {
		interval := ts.Sub(s.LastAccess)
		if interval < 0 {
			interval = 0
		}
		if s.SmoothedInterval == 0 {
			s.SmoothedInterval = interval
		} else {
			s.SmoothedInterval = time.Duration(
				(1-intervalSmoothing)*float64(s.SmoothedInterval) +
					intervalSmoothing*float64(interval))
		}
	}
	s.AccessCount++
	s.LastAccess = ts
}

// Stats returns a copy of a pattern's access record. Unknown patterns
// return a zero record and false.
func (t *AccessTracker) Stats(id pattern.PatternID) (AccessStats, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.patterns[id]
	if !ok {
		return AccessStats{}, false
	}
	return *s, true
}

// PairStats returns a copy of the unordered pair's access record.
func (t *AccessTracker) PairStats(a, b pattern.PatternID) (AccessStats, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.pairs[makePairKey(a, b)]
	if !ok {
		return AccessStats{}, false
	}
	return *s, true
}

// AccessCount returns a pattern's access count (0 if never seen).
func (t *AccessTracker) AccessCount(id pattern.PatternID) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.patterns[id]; ok {
		return s.AccessCount
	}
	return 0
}

// MaxAccessCount returns the highest access count across all patterns,
// used to log-scale frequency into [0, 1].
func (t *AccessTracker) MaxAccessCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	max := 0
	for _, s := range t.patterns {
		if s.AccessCount > max {
			max = s.AccessCount
		}
	}
	return max
}

// TrackedPatterns returns the IDs of every pattern with at least one
// recorded access, in unspecified order.
func (t *AccessTracker) TrackedPatterns() []pattern.PatternID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]pattern.PatternID, 0, len(t.patterns))
	for id := range t.patterns {
		ids = append(ids, id)
	}
	return ids
}

// TrackedPairs returns every unordered pair with at least one recorded
// traversal along with its access count, in unspecified order.
func (t *AccessTracker) TrackedPairs() []PairAccess {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]PairAccess, 0, len(t.pairs))
	for key, s := range t.pairs {
		out = append(out, PairAccess{A: key.a, B: key.b, Count: s.AccessCount})
	}
	return out
}

// PairAccess is one unordered pair's traversal count.
type PairAccess struct {
	A, B  pattern.PatternID
	Count int
}

// Forget discards all records for a pattern, including every pair record
// it participates in. Called after a pattern is pruned or merged away.
func (t *AccessTracker) Forget(id pattern.PatternID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.patterns, id)
	for key := range t.pairs {
		if key.a == id || key.b == id {
			delete(t.pairs, key)
		}
	}
}

// Len returns the number of tracked patterns.
func (t *AccessTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.patterns)
}
