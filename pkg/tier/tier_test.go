package tier

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/muninn/pkg/pattern"
)

// smallConfig keeps capacities tiny so eviction paths are reachable.
func smallConfig() Config {
	return Config{
		Levels: [4]LevelConfig{
			{Capacity: 1, PromoteAbove: 0.7, DemoteBelow: 0.5},
			{Capacity: 4, PromoteAbove: 0.4, DemoteBelow: 0.25},
			{Capacity: 8, PromoteAbove: 0.15, DemoteBelow: 0.08},
			{Capacity: 16, PromoteAbove: 0, DemoteBelow: 0},
		},
		TransitionBatchSize: 64,
		TransitionInterval:  time.Minute,
	}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Levels[1].Capacity = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Levels[0].PromoteAbove = 1.5
	assert.Error(t, cfg.Validate())

	// Promote at or below demote lets patterns thrash across the boundary.
	cfg = DefaultConfig()
	cfg.Levels[0].PromoteAbove = 0.5
	cfg.Levels[0].DemoteBelow = 0.5
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.TransitionBatchSize = 0
	assert.Error(t, cfg.Validate())
}

func TestTrackForgetTierOf(t *testing.T) {
	m, err := NewManager(DefaultConfig(), nil, nil)
	require.NoError(t, err)

	assert.True(t, m.Track(1, Warm))
	assert.False(t, m.Track(1, Cold), "already tracked stays put")
	assert.False(t, m.Track(pattern.InvalidPattern, Warm))
	assert.False(t, m.Track(2, Level(7)))

	level, ok := m.TierOf(1)
	require.True(t, ok)
	assert.Equal(t, Warm, level)

	_, ok = m.TierOf(99)
	assert.False(t, ok)

	assert.Equal(t, 1, m.Count(Warm))
	assert.Equal(t, 0, m.Count(Active))
	assert.Equal(t, 0, m.Count(Level(-1)))

	assert.True(t, m.Forget(1))
	assert.False(t, m.Forget(1))
	assert.Equal(t, 0, m.Count(Warm))
}

func TestGetStats(t *testing.T) {
	m, err := NewManager(DefaultConfig(), nil, nil)
	require.NoError(t, err)

	m.Track(1, Active)
	m.Track(2, Warm)
	m.Track(3, Warm)
	m.Track(4, Archive)

	stats := m.GetStats()
	assert.Equal(t, 4, stats.Tracked)
	assert.Equal(t, [4]int{1, 2, 0, 1}, stats.CountByTier)
}

func TestPromotionAndDemotion(t *testing.T) {
	m, err := NewManager(smallConfig(), nil, nil)
	require.NoError(t, err)

	m.Track(1, Warm)
	m.Track(2, Active)

	moves := m.PerformTierTransitions(map[pattern.PatternID]float64{
		1: 0.9, // clears Active's 0.7 promotion threshold
		2: 0.6, // sits inside Active's hysteresis band
	})

	// Active is full, so the promotion first demotes its occupant.
	require.Len(t, moves, 2)
	assert.Equal(t, Transition{Pattern: 2, From: Active, To: Warm, Utility: 0.6}, moves[0])
	assert.Equal(t, Transition{Pattern: 1, From: Warm, To: Active, Utility: 0.9}, moves[1])

	level, _ := m.TierOf(1)
	assert.Equal(t, Active, level)
	level, _ = m.TierOf(2)
	assert.Equal(t, Warm, level)
}

func TestDemotionBelowThreshold(t *testing.T) {
	m, err := NewManager(smallConfig(), nil, nil)
	require.NoError(t, err)

	m.Track(1, Active)
	m.Track(2, Warm)

	moves := m.PerformTierTransitions(map[pattern.PatternID]float64{
		1: 0.3, // below Active's 0.5 demotion threshold
		2: 0.3, // inside Warm's band, stays
	})

	require.Len(t, moves, 1)
	assert.Equal(t, Transition{Pattern: 1, From: Active, To: Warm, Utility: 0.3}, moves[0])
}

func TestPromotionsOrderedByUtility(t *testing.T) {
	cfg := smallConfig()
	cfg.Levels[0].Capacity = 10
	cfg.TransitionBatchSize = 1
	m, err := NewManager(cfg, nil, nil)
	require.NoError(t, err)

	m.Track(1, Warm)
	m.Track(2, Warm)

	moves := m.PerformTierTransitions(map[pattern.PatternID]float64{1: 0.8, 2: 0.9})

	require.Len(t, moves, 1, "batch size bounds the cycle")
	assert.Equal(t, pattern.PatternID(2), moves[0].Pattern, "highest utility wins the slot")

	level, _ := m.TierOf(1)
	assert.Equal(t, Warm, level)
}

func TestEvictionNeedsBudgetForBothMoves(t *testing.T) {
	cfg := smallConfig()
	cfg.TransitionBatchSize = 1
	m, err := NewManager(cfg, nil, nil)
	require.NoError(t, err)

	m.Track(1, Active)
	m.Track(2, Warm)

	// Promoting 2 would take two moves (evict 1, then promote); a budget
	// of one skips it rather than leaving the eviction half done.
	moves := m.PerformTierTransitions(map[pattern.PatternID]float64{1: 0.6, 2: 0.9})
	assert.Empty(t, moves)

	level, _ := m.TierOf(2)
	assert.Equal(t, Warm, level)
}

func TestUnscoredPatternsKeepTheirTier(t *testing.T) {
	m, err := NewManager(smallConfig(), nil, nil)
	require.NoError(t, err)

	m.Track(1, Active)
	m.Track(2, Cold)

	moves := m.PerformTierTransitions(map[pattern.PatternID]float64{})
	assert.Empty(t, moves)
}

func TestArchiveNeverDemotesActiveNeverPromotes(t *testing.T) {
	m, err := NewManager(smallConfig(), nil, nil)
	require.NoError(t, err)

	m.Track(1, Archive)
	m.Track(2, Active)

	moves := m.PerformTierTransitions(map[pattern.PatternID]float64{1: 0.0, 2: 0.99})
	assert.Empty(t, moves)
}

func TestTierExclusivityUnderChurn(t *testing.T) {
	cfg := smallConfig()
	m, err := NewManager(cfg, nil, nil)
	require.NoError(t, err)

	utilities := make(map[pattern.PatternID]float64)
	for i := pattern.PatternID(1); i <= 20; i++ {
		m.Track(i, Cold)
		utilities[i] = float64(i) / 20.0
	}

	for round := 0; round < 5; round++ {
		m.PerformTierTransitions(utilities)

		stats := m.GetStats()
		assert.Equal(t, 20, stats.Tracked)
		total := 0
		for _, n := range stats.CountByTier {
			total += n
		}
		assert.Equal(t, 20, total, "every pattern sits in exactly one tier")
	}
}

func TestRelocateCallback(t *testing.T) {
	var mu sync.Mutex
	var calls []Transition
	relocate := func(id pattern.PatternID, from, to Level) error {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, Transition{Pattern: id, From: from, To: to})
		if id == 2 {
			return errors.New("cold store unavailable")
		}
		return nil
	}

	m, err := NewManager(smallConfig(), relocate, nil)
	require.NoError(t, err)

	m.Track(1, Warm)
	m.Track(2, Active)

	m.PerformTierTransitions(map[pattern.PatternID]float64{1: 0.9, 2: 0.6})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, 2)
	assert.Equal(t, pattern.PatternID(2), calls[0].Pattern)
	assert.Equal(t, pattern.PatternID(1), calls[1].Pattern)

	// A failed relocation never rolls the assignment back.
	level, _ := m.TierOf(2)
	assert.Equal(t, Warm, level)
}

func TestBackgroundLoop(t *testing.T) {
	cfg := smallConfig()
	cfg.Levels[0].Capacity = 10
	cfg.TransitionInterval = 10 * time.Millisecond
	m, err := NewManager(cfg, nil, nil)
	require.NoError(t, err)

	m.Track(1, Warm)
	source := func() map[pattern.PatternID]float64 {
		return map[pattern.PatternID]float64{1: 0.9}
	}

	assert.Error(t, m.Start(nil))
	require.NoError(t, m.Start(source))
	assert.Error(t, m.Start(source), "second start while running")

	require.Eventually(t, func() bool {
		level, ok := m.TierOf(1)
		return ok && level == Active
	}, time.Second, 5*time.Millisecond)

	m.Stop()
	m.Stop() // idempotent
}

func TestStartRejectsBadInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TransitionInterval = 0
	m, err := NewManager(cfg, nil, nil)
	require.NoError(t, err)

	assert.Error(t, m.Start(func() map[pattern.PatternID]float64 { return nil }))
}
