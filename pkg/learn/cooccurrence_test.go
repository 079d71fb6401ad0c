package learn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/orneryd/muninn/pkg/pattern"
)

func TestRecordActivationPairsWithinWindow(t *testing.T) {
	clock := newFakeClock()
	tr := NewCoOccurrenceTracker(2 * time.Second)
	tr.SetClock(clock.Now)

	assert.Empty(t, tr.RecordActivation(1), "first activation has no partners")
	clock.Advance(time.Second)
	assert.Equal(t, []pattern.PatternID{1}, tr.RecordActivation(2))
	assert.Equal(t, 1, tr.CoOccurrenceCount(1, 2))
	assert.Equal(t, 1, tr.CoOccurrenceCount(2, 1), "pair counts are unordered")

	// Outside the window: no pairing.
	clock.Advance(10 * time.Second)
	assert.Empty(t, tr.RecordActivation(3))
	assert.Equal(t, 0, tr.CoOccurrenceCount(1, 3))
	assert.Equal(t, 0, tr.CoOccurrenceCount(2, 3))
}

func TestRecordActivationDedupesPartners(t *testing.T) {
	clock := newFakeClock()
	tr := NewCoOccurrenceTracker(5 * time.Second)
	tr.SetClock(clock.Now)

	tr.RecordActivation(1)
	clock.Advance(time.Second)
	tr.RecordActivation(1)
	clock.Advance(time.Second)

	// Two pattern-1 firings in the window, but the pair is counted once.
	assert.Equal(t, []pattern.PatternID{1}, tr.RecordActivation(2))
	assert.Equal(t, 1, tr.CoOccurrenceCount(1, 2))

	assert.Equal(t, 2, tr.ActivationCount(1))
	assert.Equal(t, 1, tr.ActivationCount(2))
	assert.Equal(t, 3, tr.TotalActivations())
}

func TestRecordActivationIgnoresInvalid(t *testing.T) {
	tr := NewCoOccurrenceTracker(time.Second)
	assert.Empty(t, tr.RecordActivation(pattern.InvalidPattern))
	assert.Equal(t, 0, tr.TotalActivations())
}

func TestTemporalCorrelationDirectional(t *testing.T) {
	clock := newFakeClock()
	tr := NewCoOccurrenceTracker(2 * time.Second)
	tr.SetClock(clock.Now)

	for i := 0; i < 5; i++ {
		tr.RecordActivation(1)
		clock.Advance(time.Second)
		tr.RecordActivation(2)
		clock.Advance(10 * time.Second)
	}

	assert.InDelta(t, 1.0, tr.TemporalCorrelation(1, 2), 1e-12, "1 always precedes 2")
	assert.InDelta(t, -1.0, tr.TemporalCorrelation(2, 1), 1e-12)
	assert.Equal(t, 0.0, tr.TemporalCorrelation(1, 99), "no data")
}

func TestTemporalCorrelationMixedOrdering(t *testing.T) {
	clock := newFakeClock()
	tr := NewCoOccurrenceTracker(2 * time.Second)
	tr.SetClock(clock.Now)

	for i := 0; i < 4; i++ {
		first, second := pattern.PatternID(1), pattern.PatternID(2)
		if i%2 == 1 {
			first, second = second, first
		}
		tr.RecordActivation(first)
		clock.Advance(time.Second)
		tr.RecordActivation(second)
		clock.Advance(10 * time.Second)
	}

	assert.Equal(t, 0.0, tr.TemporalCorrelation(1, 2), "alternating order cancels out")
}

func TestChiSquaredSignificance(t *testing.T) {
	clock := newFakeClock()
	tr := NewCoOccurrenceTracker(2 * time.Second)
	tr.SetClock(clock.Now)

	// Patterns 1 and 2 always fire together; pattern 3 fires alone.
	for i := 0; i < 5; i++ {
		tr.RecordActivation(1)
		clock.Advance(time.Second)
		tr.RecordActivation(2)
		clock.Advance(10 * time.Second)
		tr.RecordActivation(3)
		clock.Advance(10 * time.Second)
		tr.RecordActivation(3)
		clock.Advance(10 * time.Second)
	}

	assert.True(t, tr.IsSignificant(1, 2, 0), "perfect co-occurrence against background noise")
	assert.Greater(t, tr.ChiSquared(1, 2), ChiSquaredCritical95)
}

func TestChiSquaredInsufficientEvidence(t *testing.T) {
	clock := newFakeClock()
	tr := NewCoOccurrenceTracker(2 * time.Second)
	tr.SetClock(clock.Now)

	// One co-occurrence with nothing else observed: chi² = 2 < 3.841.
	tr.RecordActivation(1)
	clock.Advance(time.Second)
	tr.RecordActivation(2)

	assert.False(t, tr.IsSignificant(1, 2, 0))
	assert.Equal(t, 0.0, tr.ChiSquared(7, 8), "unknown pair scores 0")
}

func TestChiSquaredEmptyTracker(t *testing.T) {
	tr := NewCoOccurrenceTracker(time.Second)
	assert.Equal(t, 0.0, tr.ChiSquared(1, 2))
	assert.False(t, tr.IsSignificant(1, 2, 0))
}

func TestPruneOldActivationsKeepsEvidence(t *testing.T) {
	clock := newFakeClock()
	tr := NewCoOccurrenceTracker(2 * time.Second)
	tr.SetClock(clock.Now)

	tr.RecordActivation(1)
	clock.Advance(time.Second)
	tr.RecordActivation(2)
	clock.Advance(time.Hour)
	tr.RecordActivation(3)

	evicted := tr.PruneOldActivations(clock.Now().Add(-time.Minute))
	assert.Equal(t, 2, evicted)
	assert.Equal(t, 1, tr.PendingEvents())

	// Cumulative evidence survives eviction of the raw events.
	assert.Equal(t, 1, tr.CoOccurrenceCount(1, 2))
	assert.Equal(t, 1, tr.ActivationCount(1))

	assert.Equal(t, 0, tr.PruneOldActivations(clock.Now().Add(-time.Minute)), "idempotent")
}

func TestTrackedPairs(t *testing.T) {
	clock := newFakeClock()
	tr := NewCoOccurrenceTracker(5 * time.Second)
	tr.SetClock(clock.Now)

	tr.RecordActivation(1)
	clock.Advance(time.Second)
	tr.RecordActivation(2)
	clock.Advance(time.Second)
	tr.RecordActivation(3)

	pairs := tr.TrackedPairs()
	assert.ElementsMatch(t, []Pair{{A: 1, B: 2}, {A: 1, B: 3}, {A: 2, B: 3}}, pairs)
}
