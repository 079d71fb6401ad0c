package utility

import (
	"sync"
	"time"

	"github.com/orneryd/muninn/pkg/pattern"
)

// Sample is one recorded (utility, timestamp) observation.
type Sample struct {
	Utility float64
	At      time.Time
}

// Trend classifies the direction a pattern's utility is moving.
type Trend int

const (
	// TrendFlat means utility is stable (or there is too little data).
	TrendFlat Trend = iota
	// TrendRising means utility is increasing over the window.
	TrendRising
	// TrendFalling means utility is decreasing over the window.
	TrendFalling
)

// String returns the lowercase trend name.
func (t Trend) String() string {
	switch t {
	case TrendRising:
		return "rising"
	case TrendFalling:
		return "falling"
	default:
		return "flat"
	}
}

// trendEpsilon is the per-hour slope magnitude below which a trend
// counts as flat.
const trendEpsilon = 1e-3

// history is one pattern's fixed-capacity ring of samples.
type history struct {
	samples []Sample // ring buffer
	head    int      // next write position
	filled  bool
}

// Tracker keeps a bounded ring-buffer history of utility samples per
// pattern, used only for trend detection; current utility must always
// come from the Calculator, never from here.
//
// Thread Safety: all methods are safe for concurrent use.
type Tracker struct {
	mu       sync.RWMutex
	capacity int
	perID    map[pattern.PatternID]*history
}

// NewTracker creates a history tracker keeping up to capacity samples
// per pattern. Non-positive capacities default to 32.
func NewTracker(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = 32
	}
	return &Tracker{
		capacity: capacity,
		perID:    make(map[pattern.PatternID]*history),
	}
}

// Record appends a utility observation for the pattern, evicting the
// oldest once the ring is full.
func (t *Tracker) Record(id pattern.PatternID, utility float64, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.perID[id]
	if !ok {
		h = &history{samples: make([]Sample, t.capacity)}
		t.perID[id] = h
	}
	h.samples[h.head] = Sample{Utility: utility, At: at}
	h.head++
	if h.head == t.capacity {
		h.head = 0
		h.filled = true
	}
}

// Samples returns the pattern's recorded samples, oldest first.
func (t *Tracker) Samples(id pattern.PatternID) []Sample {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h, ok := t.perID[id]
	if !ok {
		return nil
	}
	return h.ordered()
}

// ordered lays the ring out oldest-first.
func (h *history) ordered() []Sample {
	if !h.filled {
		out := make([]Sample, h.head)
		copy(out, h.samples[:h.head])
		return out
	}
	out := make([]Sample, 0, len(h.samples))
	out = append(out, h.samples[h.head:]...)
	out = append(out, h.samples[:h.head]...)
	return out
}

// TrendOf fits a least-squares slope (utility per hour) through the
// pattern's samples and classifies it. Fewer than two samples are always
// flat.
func (t *Tracker) TrendOf(id pattern.PatternID) Trend {
	slope := t.Slope(id)
	switch {
	case slope > trendEpsilon:
		return TrendRising
	case slope < -trendEpsilon:
		return TrendFalling
	default:
		return TrendFlat
	}
}

// Slope returns the least-squares utility-per-hour slope through the
// pattern's samples (0 with fewer than two samples).
func (t *Tracker) Slope(id pattern.PatternID) float64 {
	samples := t.Samples(id)
	if len(samples) < 2 {
		return 0
	}

	// Hours relative to the first sample keep the regression numerically
	// tame over long uptimes.
	t0 := samples[0].At
	var sumX, sumY, sumXY, sumXX float64
	for _, s := range samples {
		x := s.At.Sub(t0).Hours()
		sumX += x
		sumY += s.Utility
		sumXY += x * s.Utility
		sumXX += x * x
	}
	n := float64(len(samples))
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// Forget discards the pattern's history.
func (t *Tracker) Forget(id pattern.PatternID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.perID, id)
}

// Len returns the number of patterns with recorded history.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.perID)
}
