package learn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/orneryd/muninn/pkg/assoc"
	"github.com/orneryd/muninn/pkg/pattern"
)

func newReinforcer(t *testing.T) *ReinforcementManager {
	t.Helper()
	rm, err := NewReinforcementManager(DefaultReinforcementConfig(), nil)
	require.NoError(t, err)
	return rm
}

func TestReinforcementConfigValidate(t *testing.T) {
	cfg := DefaultReinforcementConfig()
	assert.NoError(t, cfg.Validate())

	cfg.LearningRate = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultReinforcementConfig()
	cfg.MinStrength = 0.9
	cfg.MaxStrength = 0.5
	assert.Error(t, cfg.Validate())
}

func TestReinforceDiminishingReturns(t *testing.T) {
	rm := newReinforcer(t)
	e := assoc.NewEdge(1, 2, assoc.Causal, 0.5)

	first := rm.Reinforce(e, 1.0)
	assert.InDelta(t, 0.55, first, 1e-12, "Δs = 0.1 × (1 − 0.5)")

	second := rm.Reinforce(e, 1.0)
	assert.Less(t, second-first, first-0.5, "gains shrink as strength grows")

	assert.Equal(t, second, rm.Reinforce(e, 0), "non-positive reward is a no-op")
	assert.Equal(t, second, rm.Reinforce(e, -1))
}

func TestWeakenDiminishingReturns(t *testing.T) {
	rm := newReinforcer(t)
	e := assoc.NewEdge(1, 2, assoc.Causal, 0.5)

	first := rm.Weaken(e, 1.0)
	assert.InDelta(t, 0.45, first, 1e-12, "Δs = −0.1 × 0.5")

	second := rm.Weaken(e, 1.0)
	assert.Less(t, first-second, 0.5-first, "losses shrink as strength fades")

	assert.Equal(t, second, rm.Weaken(e, 0), "non-positive penalty is a no-op")
}

func TestReinforceNeverEscapesBounds(t *testing.T) {
	rm := newReinforcer(t)
	cfg := DefaultReinforcementConfig()

	e := assoc.NewEdge(1, 2, assoc.Causal, 0.99)
	for i := 0; i < 100; i++ {
		assert.LessOrEqual(t, rm.Reinforce(e, 1.0), cfg.MaxStrength)
	}

	w := assoc.NewEdge(1, 3, assoc.Causal, 0.02)
	for i := 0; i < 100; i++ {
		assert.GreaterOrEqual(t, rm.Weaken(w, 1.0), cfg.MinStrength)
	}
}

func TestReinforcementMonotoneProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg := DefaultReinforcementConfig()
		cfg.LearningRate = rapid.Float64Range(0.01, 1).Draw(t, "rate")
		rm, err := NewReinforcementManager(cfg, nil)
		if err != nil {
			t.Fatal(err)
		}

		e := assoc.NewEdge(1, 2, assoc.Functional, rapid.Float64Range(0, 1).Draw(t, "initial"))
		ops := rapid.IntRange(1, 30).Draw(t, "ops")
		for i := 0; i < ops; i++ {
			before := e.Strength()
			if rapid.Bool().Draw(t, "reinforce") {
				after := rm.Reinforce(e, rapid.Float64Range(0.1, 1).Draw(t, "reward"))
				if after < before && before <= cfg.MaxStrength {
					t.Fatalf("reinforce decreased strength: %g → %g", before, after)
				}
			} else {
				after := rm.Weaken(e, rapid.Float64Range(0.1, 1).Draw(t, "penalty"))
				if after > before && before >= cfg.MinStrength {
					t.Fatalf("weaken increased strength: %g → %g", before, after)
				}
			}
			s := e.Strength()
			if s < cfg.MinStrength || s > cfg.MaxStrength {
				t.Fatalf("strength %g escaped [%g, %g]", s, cfg.MinStrength, cfg.MaxStrength)
			}
		}
	})
}

func TestReinforceTouchesEdge(t *testing.T) {
	clock := newFakeClock()
	rm := newReinforcer(t)
	rm.SetClock(clock.Now)

	e := assoc.NewEdge(1, 2, assoc.Causal, 0.5)
	clock.Advance(time.Hour)
	rm.Reinforce(e, 1.0)
	assert.True(t, e.LastReinforcement().Equal(clock.Now()))
}

func TestApplyDecay(t *testing.T) {
	rm := newReinforcer(t)

	e := assoc.NewEdge(1, 2, assoc.Causal, 0.8)
	e.DecayRate = 0.001

	assert.Equal(t, 0.8, rm.ApplyDecay(e, 0), "zero elapsed is a no-op")

	decayed := rm.ApplyDecay(e, time.Hour)
	assert.Less(t, decayed, 0.8)
	assert.GreaterOrEqual(t, decayed, DefaultReinforcementConfig().MinStrength)

	fixed := assoc.NewEdge(1, 3, assoc.Causal, 0.8)
	assert.Equal(t, 0.8, rm.ApplyDecay(fixed, time.Hour), "zero decay rate is a no-op")
}

func TestDecayAll(t *testing.T) {
	rm := newReinforcer(t)
	m := assoc.NewMatrix(nil)
	for i := 2; i <= 4; i++ {
		e := assoc.NewEdge(1, pattern.PatternID(i), assoc.Causal, 0.8)
		e.DecayRate = 0.001
		m.AddAssociation(e)
	}

	assert.Equal(t, 0, rm.DecayAll(m, 0))
	assert.Equal(t, 3, rm.DecayAll(m, time.Hour))
	m.ForEach(func(e *assoc.Edge) bool {
		assert.Less(t, e.Strength(), 0.8)
		return true
	})
}

func TestPruneWeakAssociations(t *testing.T) {
	rm := newReinforcer(t)
	m := assoc.NewMatrix(nil)
	m.AddAssociation(assoc.NewEdge(1, 2, assoc.Causal, 0.5))
	m.AddAssociation(assoc.NewEdge(1, 3, assoc.Causal, 0.03))
	m.AddAssociation(assoc.NewEdge(1, 4, assoc.Causal, 0.01))

	assert.Equal(t, 2, rm.PruneWeakAssociations(m))
	assert.Equal(t, 1, m.Count())
	assert.True(t, m.HasAssociation(1, 2))
}
