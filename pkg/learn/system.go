package learn

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orneryd/muninn/pkg/assoc"
	"github.com/orneryd/muninn/pkg/pattern"
)

// SystemConfig composes the configuration of the whole learning pipeline.
type SystemConfig struct {
	// CoOccurrenceWindow is the sliding window within which two
	// activations count as co-occurring.
	CoOccurrenceWindow time.Duration

	// EventRetention bounds how long raw activation events are kept
	// before PerformMaintenance prunes them.
	EventRetention time.Duration

	Formation     FormationConfig
	Reinforcement ReinforcementConfig
	Competition   CompetitiveConfig
	Normalization NormalizerConfig

	// CompetitionScope selects which edge set competes during
	// maintenance.
	CompetitionScope CompetitionScope

	// NormalizeDirection selects which edge set maintenance normalizes.
	NormalizeDirection NormalizeDirection

	// PredictHops and PredictMinActivation control the optional
	// propagation refinement in Predict. PredictHops <= 1 disables
	// refinement and ranks by direct edge strength only.
	PredictHops          int
	PredictMinActivation float64
}

// DefaultSystemConfig returns a complete default pipeline configuration.
func DefaultSystemConfig() SystemConfig {
	return SystemConfig{
		CoOccurrenceWindow:   2 * time.Second,
		EventRetention:       5 * time.Minute,
		Formation:            DefaultFormationConfig(),
		Reinforcement:        DefaultReinforcementConfig(),
		Competition:          DefaultCompetitiveConfig(),
		Normalization:        DefaultNormalizerConfig(),
		CompetitionScope:     CompeteOutgoing,
		NormalizeDirection:   NormalizeOutgoing,
		PredictHops:          2,
		PredictMinActivation: 0.05,
	}
}

// Validate checks every sub-configuration.
func (c SystemConfig) Validate() error {
	if c.CoOccurrenceWindow <= 0 {
		return fmt.Errorf("learn: co-occurrence window must be > 0, got %s", c.CoOccurrenceWindow)
	}
	if c.EventRetention < c.CoOccurrenceWindow {
		return fmt.Errorf("learn: event retention %s must cover the co-occurrence window %s",
			c.EventRetention, c.CoOccurrenceWindow)
	}
	if err := c.Formation.Validate(); err != nil {
		return err
	}
	if err := c.Reinforcement.Validate(); err != nil {
		return err
	}
	if err := c.Competition.Validate(); err != nil {
		return err
	}
	return c.Normalization.Validate()
}

// PredictionOutcome is one scored prediction feedback item for
// ReinforceBatch.
type PredictionOutcome struct {
	Source    pattern.PatternID
	Predicted pattern.PatternID
	Correct   bool
}

// MaintenanceCounts reports what one maintenance pass did.
type MaintenanceCounts struct {
	Decayed        int // edges decayed by elapsed time
	Competitions   int // patterns where competition applied
	Normalized     int // patterns whose strengths were rescaled
	Pruned         int // edges removed for weakness
	EventsEvicted  int // stale activation events dropped
	Elapsed        time.Duration
	LastMaintained time.Time
}

// System is the facade over the whole association learning pipeline:
// record activations, form new edges from accumulated evidence, reinforce
// from prediction feedback, predict, and run periodic maintenance.
//
// There is no explicit per-pair state machine; a pair's lifecycle is
// implicit in edge presence and strength. Maintenance is idempotent and
// safe to call on any schedule; skipping it only delays convergence.
//
// Thread Safety: all methods are safe for concurrent use.
type System struct {
	config  SystemConfig
	matrix  *assoc.Matrix
	tracker *CoOccurrenceTracker
	rules   *FormationRules
	reinf   *ReinforcementManager
	comp    *CompetitiveLearner
	norm    *StrengthNormalizer
	logger  *zap.Logger

	mu           sync.Mutex // guards lastMaintain and now
	lastMaintain time.Time
	now          func() time.Time
}

// NewSystem wires the full pipeline over the given matrix and pattern
// store. Configuration errors fail fast. db may be nil (classification
// then falls back to Functional); a nil logger disables logging.
func NewSystem(cfg SystemConfig, m *assoc.Matrix, db pattern.Database, sim pattern.Similarity, logger *zap.Logger) (*System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("learn: matrix must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	rules, err := NewFormationRules(cfg.Formation, db, sim, logger)
	if err != nil {
		return nil, err
	}
	reinf, err := NewReinforcementManager(cfg.Reinforcement, logger)
	if err != nil {
		return nil, err
	}
	comp, err := NewCompetitiveLearner(cfg.Competition, logger)
	if err != nil {
		return nil, err
	}
	norm, err := NewStrengthNormalizer(cfg.Normalization, logger)
	if err != nil {
		return nil, err
	}

	return &System{
		config:  cfg,
		matrix:  m,
		tracker: NewCoOccurrenceTracker(cfg.CoOccurrenceWindow),
		rules:   rules,
		reinf:   reinf,
		comp:    comp,
		norm:    norm,
		logger:  logger.With(zap.String("component", "learning_system")),
		now:     time.Now,
	}, nil
}

// SetClock replaces the system's time source, including the tracker's and
// the reinforcement manager's. Intended for tests.
func (s *System) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
	s.tracker.SetClock(now)
	s.reinf.SetClock(now)
}

// Tracker exposes the co-occurrence tracker for inspection.
func (s *System) Tracker() *CoOccurrenceTracker { return s.tracker }

// Matrix exposes the underlying association matrix.
func (s *System) Matrix() *assoc.Matrix { return s.matrix }

// RecordPatternActivation registers that a pattern fired. Existing edges
// between the pattern and the partners it co-occurred with in THIS
// activation get their co-occurrence counters bumped; new edges are only
// created later by FormNewAssociations once the statistical gate passes.
func (s *System) RecordPatternActivation(id pattern.PatternID) {
	for _, other := range s.tracker.RecordActivation(id) {
		bump := func(e *assoc.Edge) { e.IncrementCoOccurrence() }
		if !s.matrix.Mutate(id, other, bump) {
			s.matrix.Mutate(other, id, bump)
		}
	}
}

// FormNewAssociations batch-evaluates every tracked co-occurring pair
// against the formation rules and inserts a typed edge for each pair that
// qualifies and has no edge yet in either direction. Returns the number
// of edges created.
func (s *System) FormNewAssociations() int {
	formed := 0
	for _, p := range s.tracker.TrackedPairs() {
		if s.matrix.HasAssociation(p.A, p.B) || s.matrix.HasAssociation(p.B, p.A) {
			continue
		}
		if !s.rules.ShouldFormAssociation(s.tracker, p.A, p.B) {
			continue
		}
		e := s.rules.BuildAssociation(s.tracker, p.A, p.B)
		if s.matrix.AddAssociation(e) {
			formed++
		}
	}
	if formed > 0 {
		s.logger.Info("associations formed", zap.Int("count", formed))
	}
	return formed
}

// Reinforce applies prediction feedback to the source→predicted edge: a
// correct prediction strengthens it, an incorrect one weakens it. Returns
// false if no such edge exists.
func (s *System) Reinforce(source, predicted pattern.PatternID, correct bool) bool {
	return s.matrix.Mutate(source, predicted, func(e *assoc.Edge) {
		if correct {
			s.reinf.Reinforce(e, 1.0)
		} else {
			s.reinf.Weaken(e, 1.0)
		}
	})
}

// ReinforceBatch applies a batch of prediction outcomes and returns how
// many found a live edge to update.
func (s *System) ReinforceBatch(outcomes []PredictionOutcome) int {
	applied := 0
	for _, o := range outcomes {
		if s.Reinforce(o.Source, o.Predicted, o.Correct) {
			applied++
		}
	}
	return applied
}

// Predict returns the top-k patterns the source predicts, ranked by
// association strength. When PredictHops > 1, the direct ranking is
// refined by spreading activation so strong two-hop chains can outrank
// weak direct edges.
func (s *System) Predict(source pattern.PatternID, k int) []pattern.PatternID {
	if k <= 0 {
		return nil
	}

	if s.config.PredictHops > 1 {
		reached := s.matrix.PropagateActivation(
			source, 1.0, s.config.PredictHops, s.config.PredictMinActivation, nil)
		if len(reached) > k {
			reached = reached[:k]
		}
		out := make([]pattern.PatternID, 0, len(reached))
		for _, a := range reached {
			out = append(out, a.Pattern)
		}
		return out
	}

	top := s.matrix.TopOutgoing(source, k)
	out := make([]pattern.PatternID, 0, len(top))
	for _, snap := range top {
		out = append(out, snap.Target)
	}
	return out
}

// PerformMaintenance runs one full maintenance cycle: decay every edge by
// the elapsed time since the previous run, apply competition, normalize
// strengths, prune weak edges, and evict stale activation events.
//
// The first call establishes the baseline and decays nothing.
func (s *System) PerformMaintenance() MaintenanceCounts {
	s.mu.Lock()
	nowFn := s.now
	ts := nowFn()
	var elapsed time.Duration
	if !s.lastMaintain.IsZero() {
		elapsed = ts.Sub(s.lastMaintain)
	}
	s.lastMaintain = ts
	s.mu.Unlock()

	counts := MaintenanceCounts{Elapsed: elapsed, LastMaintained: ts}

	if elapsed > 0 {
		counts.Decayed = s.reinf.DecayAll(s.matrix, elapsed)
	}

	for _, id := range s.matrix.Patterns() {
		if s.comp.Compete(s.matrix, id, s.config.CompetitionScope) {
			counts.Competitions++
		}
	}

	counts.Normalized = s.norm.NormalizeAll(s.matrix, s.config.NormalizeDirection)
	counts.Pruned = s.reinf.PruneWeakAssociations(s.matrix)
	counts.EventsEvicted = s.tracker.PruneOldActivations(ts.Add(-s.config.EventRetention))

	s.logger.Debug("maintenance complete",
		zap.Duration("elapsed", elapsed),
		zap.Int("decayed", counts.Decayed),
		zap.Int("competitions", counts.Competitions),
		zap.Int("normalized", counts.Normalized),
		zap.Int("pruned", counts.Pruned),
		zap.Int("events_evicted", counts.EventsEvicted))
	return counts
}
