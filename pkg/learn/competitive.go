package learn

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/orneryd/muninn/pkg/assoc"
	"github.com/orneryd/muninn/pkg/pattern"
)

// CompetitionScope selects which edges of a pattern compete.
type CompetitionScope int

const (
	// CompeteOutgoing pits a pattern's outgoing edges against each other.
	CompeteOutgoing CompetitionScope = iota
	// CompeteIncoming pits a pattern's incoming edges against each other.
	CompeteIncoming
)

// CompetitiveConfig tunes winner-take-all competition.
type CompetitiveConfig struct {
	// Beta is the competition rate: the winner gains β(1 − s), every
	// loser keeps s(1 − β). Must be in (0, 1).
	Beta float64

	// MinCompetingAssociations is the smallest qualifying set for
	// competition to apply. Must be >= 2.
	MinCompetingAssociations int

	// MinStrengthThreshold excludes edges weaker than this from the
	// competing set. Must be in [0, 1).
	MinStrengthThreshold float64
}

// DefaultCompetitiveConfig returns mild competition settings.
func DefaultCompetitiveConfig() CompetitiveConfig {
	return CompetitiveConfig{
		Beta:                     0.1,
		MinCompetingAssociations: 2,
		MinStrengthThreshold:     0.1,
	}
}

// Validate rejects out-of-range competition settings.
func (c CompetitiveConfig) Validate() error {
	if c.Beta <= 0 || c.Beta >= 1 {
		return fmt.Errorf("learn: beta must be in (0, 1), got %g", c.Beta)
	}
	if c.MinCompetingAssociations < 2 {
		return fmt.Errorf("learn: min competing associations must be >= 2, got %d", c.MinCompetingAssociations)
	}
	if c.MinStrengthThreshold < 0 || c.MinStrengthThreshold >= 1 {
		return fmt.Errorf("learn: min strength threshold must be in [0, 1), got %g", c.MinStrengthThreshold)
	}
	return nil
}

// CompetitiveLearner applies winner-take-all dynamics over a pattern's
// competing edges: the strongest edge is boosted toward 1, all others
// are suppressed multiplicatively. Because the boost and suppression are
// both order-preserving, the pre-competition maximum stays the maximum.
type CompetitiveLearner struct {
	config CompetitiveConfig
	logger *zap.Logger
}

// NewCompetitiveLearner builds a learner; configuration errors fail fast.
func NewCompetitiveLearner(cfg CompetitiveConfig, logger *zap.Logger) (*CompetitiveLearner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CompetitiveLearner{
		config: cfg,
		logger: logger.With(zap.String("component", "competitive_learner")),
	}, nil
}

// Compete runs winner-take-all over all of a pattern's edges in the given
// scope. Returns false (no-op) when fewer than MinCompetingAssociations
// qualify.
func (cl *CompetitiveLearner) Compete(m *assoc.Matrix, id pattern.PatternID, scope CompetitionScope) bool {
	return cl.compete(m, id, scope, nil)
}

// CompeteByType restricts the competing set to a single association type
// so that, for example, spatial associations never suppress causal ones.
func (cl *CompetitiveLearner) CompeteByType(m *assoc.Matrix, id pattern.PatternID, scope CompetitionScope, typ assoc.Type) bool {
	return cl.compete(m, id, scope, &typ)
}

func (cl *CompetitiveLearner) compete(m *assoc.Matrix, id pattern.PatternID, scope CompetitionScope, typ *assoc.Type) bool {
	applied := false
	competitors := 0

	// Collecting and updating both happen inside one batch-mutate call so
	// no edge pointer survives the matrix read lock.
	run := func(edges []*assoc.Edge) {
		competing := edges[:0]
		for _, e := range edges {
			if typ != nil && e.Type != *typ {
				continue
			}
			if e.Strength() >= cl.config.MinStrengthThreshold {
				competing = append(competing, e)
			}
		}
		if len(competing) < cl.config.MinCompetingAssociations {
			return
		}

		winner := 0
		best := competing[0].Strength()
		for i := 1; i < len(competing); i++ {
			if s := competing[i].Strength(); s > best {
				best = s
				winner = i
			}
		}

		beta := cl.config.Beta
		for i, e := range competing {
			s := e.Strength()
			if i == winner {
				e.SetStrength(s + beta*(1-s))
			} else {
				e.SetStrength(s * (1 - beta))
			}
		}
		applied = true
		competitors = len(competing)
	}

	if scope == CompeteIncoming {
		m.MutateIncoming(id, run)
	} else {
		m.MutateOutgoing(id, run)
	}

	if applied {
		cl.logger.Debug("competition applied",
			zap.Uint64("pattern", uint64(id)),
			zap.Int("competitors", competitors))
	}
	return applied
}
