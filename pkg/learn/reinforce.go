package learn

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/orneryd/muninn/pkg/assoc"
)

// ReinforcementConfig tunes Hebbian strength updates.
type ReinforcementConfig struct {
	// LearningRate scales every update. Must be in (0, 1].
	LearningRate float64

	// MinStrength and MaxStrength bound every update. Must satisfy
	// 0 <= Min < Max <= 1.
	MinStrength float64
	MaxStrength float64

	// PruneThreshold removes edges weaker than this during maintenance.
	// Must be in [0, 1).
	PruneThreshold float64
}

// DefaultReinforcementConfig returns standard Hebbian settings.
func DefaultReinforcementConfig() ReinforcementConfig {
	return ReinforcementConfig{
		LearningRate:   0.1,
		MinStrength:    0.01,
		MaxStrength:    1.0,
		PruneThreshold: 0.05,
	}
}

// Validate rejects out-of-range reinforcement settings.
func (c ReinforcementConfig) Validate() error {
	if c.LearningRate <= 0 || c.LearningRate > 1 {
		return fmt.Errorf("learn: learning rate must be in (0, 1], got %g", c.LearningRate)
	}
	if c.MinStrength < 0 || c.MaxStrength > 1 || c.MinStrength >= c.MaxStrength {
		return fmt.Errorf("learn: strength bounds must satisfy 0 <= min < max <= 1, got [%g, %g]",
			c.MinStrength, c.MaxStrength)
	}
	if c.PruneThreshold < 0 || c.PruneThreshold >= 1 {
		return fmt.Errorf("learn: prune threshold must be in [0, 1), got %g", c.PruneThreshold)
	}
	return nil
}

// ReinforcementManager applies Hebbian strength updates to edges.
//
// Strengthening has diminishing returns as strength approaches 1;
// weakening has diminishing returns as strength approaches 0. Both clamp
// into [MinStrength, MaxStrength].
type ReinforcementManager struct {
	config ReinforcementConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewReinforcementManager builds a manager; configuration errors fail
// fast.
func NewReinforcementManager(cfg ReinforcementConfig, logger *zap.Logger) (*ReinforcementManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReinforcementManager{
		config: cfg,
		logger: logger.With(zap.String("component", "reinforcement")),
		now:    time.Now,
	}, nil
}

// SetClock replaces the manager's time source. Intended for tests.
func (rm *ReinforcementManager) SetClock(now func() time.Time) {
	if now != nil {
		rm.now = now
	}
}

// clampBounds bounds s to [MinStrength, MaxStrength].
func (rm *ReinforcementManager) clampBounds(s float64) float64 {
	if math.IsNaN(s) || s < rm.config.MinStrength {
		return rm.config.MinStrength
	}
	if s > rm.config.MaxStrength {
		return rm.config.MaxStrength
	}
	return s
}

// Reinforce strengthens an edge: Δs = rate × (1 − s) × reward, so the
// strength asymptotically approaches 1 with diminishing returns.
// Non-positive rewards are no-ops. Returns the new strength.
func (rm *ReinforcementManager) Reinforce(e *assoc.Edge, reward float64) float64 {
	s := e.Strength()
	if reward <= 0 {
		return s
	}
	next := rm.clampBounds(s + rm.config.LearningRate*(1-s)*reward)
	e.SetStrength(next)
	e.Touch(rm.now())
	return next
}

// Weaken suppresses an edge: Δs = −rate × s × penalty, asymptotically
// approaching 0. Non-positive penalties are no-ops. Returns the new
// strength.
func (rm *ReinforcementManager) Weaken(e *assoc.Edge, penalty float64) float64 {
	s := e.Strength()
	if penalty <= 0 {
		return s
	}
	next := rm.clampBounds(s - rm.config.LearningRate*s*penalty)
	e.SetStrength(next)
	return next
}

// ApplyDecay decays one edge by elapsed wall time using the edge's own
// per-second rate: s(t) = s(0) × e^(−rate × seconds). Returns the new
// strength. The result is still clamped into the configured bounds.
func (rm *ReinforcementManager) ApplyDecay(e *assoc.Edge, elapsed time.Duration) float64 {
	s := e.Strength()
	if elapsed <= 0 || e.DecayRate <= 0 {
		return s
	}
	decayed := s * math.Exp(-e.DecayRate*elapsed.Seconds())
	if decayed > s {
		decayed = s
	}
	next := rm.clampBounds(decayed)
	e.SetStrength(next)
	return next
}

// DecayAll decays every edge in the matrix by elapsed time in one pass
// under the matrix read lock. Returns the number of edges touched.
func (rm *ReinforcementManager) DecayAll(m *assoc.Matrix, elapsed time.Duration) int {
	if elapsed <= 0 {
		return 0
	}
	touched := 0
	m.ForEach(func(e *assoc.Edge) bool {
		rm.ApplyDecay(e, elapsed)
		touched++
		return true
	})
	return touched
}

// PruneWeakAssociations removes every edge below the prune threshold in
// a single pass. Returns the number of edges removed.
func (rm *ReinforcementManager) PruneWeakAssociations(m *assoc.Matrix) int {
	threshold := rm.config.PruneThreshold
	removed := m.RemoveWhere(func(s assoc.Snapshot) bool {
		return s.Strength < threshold
	})
	if removed > 0 {
		rm.logger.Debug("weak associations pruned", zap.Int("removed", removed))
	}
	return removed
}
