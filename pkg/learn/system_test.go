package learn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/muninn/pkg/assoc"
	"github.com/orneryd/muninn/pkg/pattern"
)

func newTestSystem(t *testing.T) (*System, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	s, err := NewSystem(DefaultSystemConfig(), assoc.NewMatrix(nil), nil, nil, nil)
	require.NoError(t, err)
	s.SetClock(clock.Now)
	return s, clock
}

// replaySequence feeds the pattern sequence through the system `rounds`
// times, spacing activations so only consecutive patterns co-occur inside
// the default 2-second window.
func replaySequence(s *System, clock *fakeClock, rounds int, seq []pattern.PatternID) {
	for r := 0; r < rounds; r++ {
		for _, id := range seq {
			s.RecordPatternActivation(id)
			clock.Advance(1500 * time.Millisecond)
		}
		clock.Advance(30 * time.Second)
	}
}

func TestSystemConfigValidate(t *testing.T) {
	cfg := DefaultSystemConfig()
	assert.NoError(t, cfg.Validate())

	cfg.EventRetention = time.Second
	cfg.CoOccurrenceWindow = time.Minute
	assert.Error(t, cfg.Validate(), "retention must cover the window")
}

func TestSequenceLearningEndToEnd(t *testing.T) {
	s, clock := newTestSystem(t)
	seq := []pattern.PatternID{1, 2, 3, 4}

	replaySequence(s, clock, 10, seq)

	formed := s.FormNewAssociations()
	assert.Equal(t, 3, formed)

	m := s.Matrix()
	for i := 0; i+1 < len(seq); i++ {
		snap, ok := m.GetAssociation(seq[i], seq[i+1])
		require.True(t, ok, "%d → %d must form", seq[i], seq[i+1])
		assert.Equal(t, assoc.Causal, snap.Type, "strict ordering classifies as causal")
		assert.InDelta(t, 1.0, snap.TemporalCorrelation, 1e-9)
	}

	// Non-consecutive patterns never co-occurred, so no edges.
	assert.False(t, m.HasAssociation(1, 3))
	assert.False(t, m.HasAssociation(1, 4))
	assert.False(t, m.HasAssociation(2, 4))

	// Forming is idempotent: existing pairs are skipped.
	assert.Equal(t, 0, s.FormNewAssociations())
}

func TestPredictRanksReinforcedEdgeFirst(t *testing.T) {
	s, clock := newTestSystem(t)
	replaySequence(s, clock, 10, []pattern.PatternID{1, 2, 3, 4})
	require.Equal(t, 3, s.FormNewAssociations())

	for i := 0; i < 5; i++ {
		require.True(t, s.Reinforce(1, 2, true))
	}

	got := s.Predict(1, 3)
	require.NotEmpty(t, got)
	assert.Equal(t, pattern.PatternID(2), got[0], "the reinforced direct edge ranks first")

	assert.Nil(t, s.Predict(1, 0))
	assert.Empty(t, s.Predict(99, 3), "unknown source predicts nothing")
}

func TestPredictRefinesOverHops(t *testing.T) {
	cfg := DefaultSystemConfig()
	cfg.PredictHops = 3
	cfg.PredictMinActivation = 0.0
	m := assoc.NewMatrix(nil)
	s, err := NewSystem(cfg, m, nil, nil, nil)
	require.NoError(t, err)

	m.AddAssociation(assoc.NewEdge(1, 2, assoc.Causal, 0.9))
	m.AddAssociation(assoc.NewEdge(2, 3, assoc.Causal, 0.9))
	m.AddAssociation(assoc.NewEdge(1, 4, assoc.Causal, 0.2))

	got := s.Predict(1, 3)
	require.Len(t, got, 3)
	assert.Equal(t, pattern.PatternID(2), got[0])
	assert.Equal(t, pattern.PatternID(3), got[1], "a strong two-hop chain outranks a weak direct edge")
	assert.Equal(t, pattern.PatternID(4), got[2])
}

func TestReinforceFeedback(t *testing.T) {
	s, clock := newTestSystem(t)
	replaySequence(s, clock, 10, []pattern.PatternID{1, 2, 3})
	require.Equal(t, 2, s.FormNewAssociations())

	before, _ := s.Matrix().GetAssociation(1, 2)
	require.True(t, s.Reinforce(1, 2, true))
	afterCorrect, _ := s.Matrix().GetAssociation(1, 2)
	assert.Greater(t, afterCorrect.Strength, before.Strength)

	require.True(t, s.Reinforce(1, 2, false))
	afterWrong, _ := s.Matrix().GetAssociation(1, 2)
	assert.Less(t, afterWrong.Strength, afterCorrect.Strength)

	assert.False(t, s.Reinforce(7, 8, true), "no edge, no feedback")
}

func TestReinforceBatch(t *testing.T) {
	s, clock := newTestSystem(t)
	replaySequence(s, clock, 10, []pattern.PatternID{1, 2, 3})
	require.Equal(t, 2, s.FormNewAssociations())

	applied := s.ReinforceBatch([]PredictionOutcome{
		{Source: 1, Predicted: 2, Correct: true},
		{Source: 2, Predicted: 3, Correct: false},
		{Source: 1, Predicted: 99, Correct: true}, // no such edge
	})
	assert.Equal(t, 2, applied)
}

func TestRecordActivationBumpsExistingEdges(t *testing.T) {
	s, clock := newTestSystem(t)
	replaySequence(s, clock, 5, []pattern.PatternID{1, 2, 3})
	require.Equal(t, 2, s.FormNewAssociations())

	before, _ := s.Matrix().GetAssociation(1, 2)

	s.RecordPatternActivation(1)
	clock.Advance(time.Second)
	s.RecordPatternActivation(2)

	after, _ := s.Matrix().GetAssociation(1, 2)
	assert.Greater(t, after.CoOccurrenceCount, before.CoOccurrenceCount)
}

func TestActivationBumpsOnlyFiringPartners(t *testing.T) {
	s, clock := newTestSystem(t)
	replaySequence(s, clock, 5, []pattern.PatternID{1, 2, 3})
	require.Equal(t, 2, s.FormNewAssociations())

	firstBefore, _ := s.Matrix().GetAssociation(1, 2)
	secondBefore, _ := s.Matrix().GetAssociation(2, 3)

	// 1 and 2 fire together; 3 stays silent.
	s.RecordPatternActivation(1)
	clock.Advance(time.Second)
	s.RecordPatternActivation(2)

	firstAfter, _ := s.Matrix().GetAssociation(1, 2)
	secondAfter, _ := s.Matrix().GetAssociation(2, 3)
	assert.Greater(t, firstAfter.CoOccurrenceCount, firstBefore.CoOccurrenceCount)
	assert.Equal(t, secondBefore.CoOccurrenceCount, secondAfter.CoOccurrenceCount,
		"an edge only counts joint firings of its own endpoints")
}

func TestPerformMaintenanceBaselineThenDecay(t *testing.T) {
	s, clock := newTestSystem(t)
	replaySequence(s, clock, 10, []pattern.PatternID{1, 2, 3})
	require.Equal(t, 2, s.FormNewAssociations())

	first := s.PerformMaintenance()
	assert.Equal(t, 0, first.Decayed, "first run only establishes the baseline")
	assert.Equal(t, time.Duration(0), first.Elapsed)

	clock.Advance(time.Hour)
	second := s.PerformMaintenance()
	assert.Equal(t, 2, second.Decayed)
	assert.Equal(t, time.Hour, second.Elapsed)
}

func TestPerformMaintenanceEvictsStaleEvents(t *testing.T) {
	s, clock := newTestSystem(t)
	s.RecordPatternActivation(1)
	clock.Advance(time.Second)
	s.RecordPatternActivation(2)
	require.Equal(t, 2, s.Tracker().PendingEvents())

	clock.Advance(10 * time.Minute) // past the 5-minute retention
	counts := s.PerformMaintenance()
	assert.Equal(t, 2, counts.EventsEvicted)
	assert.Equal(t, 0, s.Tracker().PendingEvents())
}

func TestMaintenanceNormalizesAndCompetes(t *testing.T) {
	s, _ := newTestSystem(t)
	m := s.Matrix()
	m.AddAssociation(assoc.NewEdge(1, 2, assoc.Causal, 0.9))
	m.AddAssociation(assoc.NewEdge(1, 3, assoc.Causal, 0.8))
	m.AddAssociation(assoc.NewEdge(1, 4, assoc.Causal, 0.7))

	counts := s.PerformMaintenance()
	assert.GreaterOrEqual(t, counts.Competitions, 1)
	assert.GreaterOrEqual(t, counts.Normalized, 1)

	sum := 0.0
	for _, snap := range m.Outgoing(1) {
		sum += snap.Strength
	}
	assert.InDelta(t, 1.0, sum, 0.02)
}
