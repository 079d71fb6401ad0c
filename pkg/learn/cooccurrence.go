// Package learn implements Muninn's association learning pipeline: the
// sliding-window co-occurrence tracker, the statistical formation gate
// and type classifier, the Hebbian reinforcement policies, winner-take-all
// competition, strength normalization, and the facade composing them
// into record → form → reinforce → predict → maintain.
package learn

import (
	"math"
	"sync"
	"time"

	"github.com/orneryd/muninn/pkg/pattern"
)

// ChiSquaredCritical95 is the chi-squared critical value for p < 0.05 at
// one degree of freedom, the default significance gate for association
// formation.
const ChiSquaredCritical95 = 3.841

// Pair is an unordered pattern pair in canonical (low, high) order.
type Pair struct {
	A, B pattern.PatternID
}

// canonicalPair orders two IDs so (a,b) and (b,a) hash identically.
func canonicalPair(a, b pattern.PatternID) Pair {
	if a > b {
		a, b = b, a
	}
	return Pair{A: a, B: b}
}

// activationEvent is one timestamped pattern firing.
type activationEvent struct {
	at time.Time
	id pattern.PatternID
}

// CoOccurrenceTracker counts which patterns fire together inside a
// sliding time window.
//
// Every recorded activation is paired with all earlier activations still
// inside the window; pairs are counted once in canonical order. The
// tracker also keeps directional precedence counts so the classifier can
// detect causal (A-then-B) structure, and per-pattern totals for the
// chi-squared contingency test.
//
// PruneOldActivations must run periodically: the event deque grows with
// activation volume until it is pruned.
//
// Thread Safety: all methods are safe for concurrent use.
type CoOccurrenceTracker struct {
	mu     sync.Mutex
	window time.Duration

	events     []activationEvent // time-ordered deque; pruned from the front
	pairCounts map[Pair]int
	precedes   map[[2]pattern.PatternID]int // ordered (first, second) counts
	totals     map[pattern.PatternID]int
	total      int

	now func() time.Time
}

// NewCoOccurrenceTracker creates a tracker with the given co-occurrence
// window. Non-positive windows default to one second.
func NewCoOccurrenceTracker(window time.Duration) *CoOccurrenceTracker {
	if window <= 0 {
		window = time.Second
	}
	return &CoOccurrenceTracker{
		window:     window,
		pairCounts: make(map[Pair]int),
		precedes:   make(map[[2]pattern.PatternID]int),
		totals:     make(map[pattern.PatternID]int),
		now:        time.Now,
	}
}

// SetClock replaces the tracker's time source. Intended for tests.
func (t *CoOccurrenceTracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if now != nil {
		t.now = now
	}
}

// RecordActivation registers that a pattern fired now, pairing it with
// every activation still inside the window. Returns the distinct partner
// patterns this activation co-occurred with, newest first; only these
// pairs accumulated evidence.
func (t *CoOccurrenceTracker) RecordActivation(id pattern.PatternID) []pattern.PatternID {
	if id == pattern.InvalidPattern {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	ts := t.now()
	cutoff := ts.Add(-t.window)

	var partners []pattern.PatternID
	seen := make(map[pattern.PatternID]struct{})
	for i := len(t.events) - 1; i >= 0; i-- {
		ev := t.events[i]
		if ev.at.Before(cutoff) {
			break // events are time ordered; everything earlier is stale
		}
		if ev.id == id {
			continue
		}
		// Count each distinct partner once per activation.
		if _, dup := seen[ev.id]; dup {
			continue
		}
		seen[ev.id] = struct{}{}
		t.pairCounts[canonicalPair(id, ev.id)]++
		t.precedes[[2]pattern.PatternID{ev.id, id}]++
		partners = append(partners, ev.id)
	}

	t.events = append(t.events, activationEvent{at: ts, id: id})
	t.totals[id]++
	t.total++
	return partners
}

// CoOccurrenceCount returns how often the unordered pair has co-occurred.
func (t *CoOccurrenceTracker) CoOccurrenceCount(a, b pattern.PatternID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pairCounts[canonicalPair(a, b)]
}

// ActivationCount returns how many times the pattern has fired.
func (t *CoOccurrenceTracker) ActivationCount(id pattern.PatternID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totals[id]
}

// TotalActivations returns the count of all recorded activations.
func (t *CoOccurrenceTracker) TotalActivations() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// ChiSquared computes the standard 2×2 contingency chi-squared statistic
// for the pair: does seeing A make seeing B more likely than chance?
//
// Unknown patterns and degenerate tables (a zero marginal) return 0,
// never an error.
func (t *CoOccurrenceTracker) ChiSquared(a, b pattern.PatternID) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.chiSquaredLocked(a, b)
}

func (t *CoOccurrenceTracker) chiSquaredLocked(a, b pattern.PatternID) float64 {
	n := float64(t.total)
	if n == 0 {
		return 0
	}

	o11 := float64(t.pairCounts[canonicalPair(a, b)])
	o12 := float64(t.totals[a]) - o11
	o21 := float64(t.totals[b]) - o11
	o22 := n - o11 - o12 - o21
	if o12 < 0 {
		o12 = 0
	}
	if o21 < 0 {
		o21 = 0
	}
	if o22 < 0 {
		o22 = 0
	}

	r1, r2 := o11+o12, o21+o22
	c1, c2 := o11+o21, o12+o22
	denom := r1 * r2 * c1 * c2
	if denom == 0 {
		return 0
	}

	diff := o11*o22 - o12*o21
	chi := n * diff * diff / denom
	if math.IsNaN(chi) || math.IsInf(chi, 0) {
		return 0
	}
	return chi
}

// IsSignificant reports whether the pair's chi-squared statistic exceeds
// the critical value (ChiSquaredCritical95 when critical <= 0).
func (t *CoOccurrenceTracker) IsSignificant(a, b pattern.PatternID, critical float64) bool {
	if critical <= 0 {
		critical = ChiSquaredCritical95
	}
	return t.ChiSquared(a, b) >= critical
}

// TemporalCorrelation returns the directional timing signal for the pair
// in [-1, 1]: +1 means a always fired before b, −1 the reverse, 0 means
// no consistent ordering (or no data).
func (t *CoOccurrenceTracker) TemporalCorrelation(a, b pattern.PatternID) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.temporalCorrelationLocked(a, b)
}

func (t *CoOccurrenceTracker) temporalCorrelationLocked(a, b pattern.PatternID) float64 {
	ab := float64(t.precedes[[2]pattern.PatternID{a, b}])
	ba := float64(t.precedes[[2]pattern.PatternID{b, a}])
	if ab+ba == 0 {
		return 0
	}
	return (ab - ba) / (ab + ba)
}

// TrackedPairs returns a snapshot of every pair seen co-occurring at
// least once, in unspecified order.
func (t *CoOccurrenceTracker) TrackedPairs() []Pair {
	t.mu.Lock()
	defer t.mu.Unlock()

	pairs := make([]Pair, 0, len(t.pairCounts))
	for p := range t.pairCounts {
		pairs = append(pairs, p)
	}
	return pairs
}

// PruneOldActivations evicts activations older than cutoff from the
// front of the deque. Pair and precedence counts are cumulative evidence
// and are NOT rewound; only the raw event stream is bounded.
// Returns the number of events evicted.
func (t *CoOccurrenceTracker) PruneOldActivations(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := 0
	for idx < len(t.events) && t.events[idx].at.Before(cutoff) {
		idx++
	}
	if idx == 0 {
		return 0
	}
	// Copy the tail down so the backing array doesn't pin evicted events.
	remaining := len(t.events) - idx
	copy(t.events, t.events[idx:])
	t.events = t.events[:remaining]
	return idx
}

// PendingEvents returns the number of activations currently in the deque.
func (t *CoOccurrenceTracker) PendingEvents() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.events)
}
