package learn

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/orneryd/muninn/pkg/assoc"
	"github.com/orneryd/muninn/pkg/pattern"
)

// NormalizeDirection selects which of a pattern's edge sets to normalize.
type NormalizeDirection int

const (
	// NormalizeOutgoing rescales the pattern's outgoing edges.
	NormalizeOutgoing NormalizeDirection = iota
	// NormalizeIncoming rescales the pattern's incoming edges.
	NormalizeIncoming
	// NormalizeBoth rescales outgoing and incoming independently.
	NormalizeBoth
)

// NormalizeOutcome reports what a normalization pass actually did, so
// callers can tell "already normalized" apart from "nothing to do".
type NormalizeOutcome int

const (
	// NormalizeApplied means strengths were rescaled.
	NormalizeApplied NormalizeOutcome = iota
	// AlreadyNormalized means the strengths already summed to 1 within
	// tolerance and were left untouched.
	AlreadyNormalized
	// NoQualifyingEdges means the pattern had no edges above the minimum
	// threshold in the requested direction.
	NoQualifyingEdges
)

// String returns a human-readable outcome name.
func (o NormalizeOutcome) String() string {
	switch o {
	case NormalizeApplied:
		return "applied"
	case AlreadyNormalized:
		return "already_normalized"
	case NoQualifyingEdges:
		return "no_qualifying_edges"
	default:
		return "unknown"
	}
}

// NormalizerConfig tunes strength normalization.
type NormalizerConfig struct {
	// Tolerance is how far from 1.0 the strength sum may drift before a
	// rescale fires. Must be in (0, 1).
	Tolerance float64

	// MinStrength excludes edges weaker than this from the qualifying
	// set. Must be in [0, 1).
	MinStrength float64

	// ZeroBelowMin, when set, forces excluded edges to zero strength
	// instead of leaving them untouched, so the qualifying set owns the
	// pattern's entire strength budget.
	ZeroBelowMin bool
}

// DefaultNormalizerConfig returns standard normalization settings.
func DefaultNormalizerConfig() NormalizerConfig {
	return NormalizerConfig{
		Tolerance:    0.01,
		MinStrength:  0.01,
		ZeroBelowMin: false,
	}
}

// Validate rejects out-of-range normalization settings.
func (c NormalizerConfig) Validate() error {
	if c.Tolerance <= 0 || c.Tolerance >= 1 {
		return fmt.Errorf("learn: tolerance must be in (0, 1), got %g", c.Tolerance)
	}
	if c.MinStrength < 0 || c.MinStrength >= 1 {
		return fmt.Errorf("learn: min strength must be in [0, 1), got %g", c.MinStrength)
	}
	return nil
}

// StrengthNormalizer rescales a pattern's edge strengths so they sum to
// 1, keeping relative proportions intact. This stops a heavily reinforced
// pattern from saturating every edge at maximum strength and losing the
// ranking information between them.
type StrengthNormalizer struct {
	config NormalizerConfig
	logger *zap.Logger
}

// NewStrengthNormalizer builds a normalizer; configuration errors fail
// fast.
func NewStrengthNormalizer(cfg NormalizerConfig, logger *zap.Logger) (*StrengthNormalizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StrengthNormalizer{
		config: cfg,
		logger: logger.With(zap.String("component", "normalizer")),
	}, nil
}

// Normalize rescales the pattern's edges in the given direction.
// NormalizeBoth runs outgoing then incoming and reports NormalizeApplied
// if either side changed.
func (n *StrengthNormalizer) Normalize(m *assoc.Matrix, id pattern.PatternID, dir NormalizeDirection) NormalizeOutcome {
	switch dir {
	case NormalizeBoth:
		out := n.normalizeOne(m, id, NormalizeOutgoing)
		in := n.normalizeOne(m, id, NormalizeIncoming)
		if out == NormalizeApplied || in == NormalizeApplied {
			return NormalizeApplied
		}
		if out == NoQualifyingEdges && in == NoQualifyingEdges {
			return NoQualifyingEdges
		}
		return AlreadyNormalized
	default:
		return n.normalizeOne(m, id, dir)
	}
}

// NormalizeAll normalizes every pattern that has at least one edge in the
// given direction, returning how many patterns were actually rescaled.
func (n *StrengthNormalizer) NormalizeAll(m *assoc.Matrix, dir NormalizeDirection) int {
	applied := 0
	for _, id := range m.Patterns() {
		if n.Normalize(m, id, dir) == NormalizeApplied {
			applied++
		}
	}
	return applied
}

func (n *StrengthNormalizer) normalizeOne(m *assoc.Matrix, id pattern.PatternID, dir NormalizeDirection) NormalizeOutcome {
	outcome := NoQualifyingEdges
	edgeCount := 0
	previousSum := 0.0

	// Measuring and rescaling both happen inside one batch-mutate call so
	// no edge pointer survives the matrix read lock.
	run := func(edges []*assoc.Edge) {
		var qualifying, excluded []*assoc.Edge
		sum := 0.0
		for _, e := range edges {
			if s := e.Strength(); s >= n.config.MinStrength {
				qualifying = append(qualifying, e)
				sum += s
			} else {
				excluded = append(excluded, e)
			}
		}
		if len(qualifying) == 0 || sum <= 0 {
			return
		}
		if math.Abs(sum-1) <= n.config.Tolerance {
			outcome = AlreadyNormalized
			return
		}
		for _, e := range qualifying {
			e.SetStrength(e.Strength() / sum)
		}
		if n.config.ZeroBelowMin {
			for _, e := range excluded {
				e.SetStrength(0)
			}
		}
		outcome = NormalizeApplied
		edgeCount = len(qualifying)
		previousSum = sum
	}

	if dir == NormalizeIncoming {
		m.MutateIncoming(id, run)
	} else {
		m.MutateOutgoing(id, run)
	}

	if outcome == NormalizeApplied {
		n.logger.Debug("strengths normalized",
			zap.Uint64("pattern", uint64(id)),
			zap.Int("edges", edgeCount),
			zap.Float64("previous_sum", previousSum))
	}
	return outcome
}
