package decay

import (
	"fmt"

	"github.com/orneryd/muninn/pkg/pattern"
)

// Competitor is another recently-active pattern competing with the one
// being scored.
type Competitor struct {
	Pattern  *pattern.Pattern
	Strength float64 // the competitor's own current strength/utility
}

// InterferenceConfig tunes the interference model.
type InterferenceConfig struct {
	// SimilarityThreshold is the minimum similarity for a competitor to
	// interfere at all. Must be in [0, 1].
	SimilarityThreshold float64

	// Alpha scales how hard total interference suppresses strength:
	// s' = s × (1 − Alpha × ΣI). Must be in [0, 1].
	Alpha float64
}

// DefaultInterferenceConfig returns moderate interference settings.
func DefaultInterferenceConfig() InterferenceConfig {
	return InterferenceConfig{
		SimilarityThreshold: 0.6,
		Alpha:               0.2,
	}
}

// Validate rejects out-of-range parameters.
func (c InterferenceConfig) Validate() error {
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("decay: similarity threshold must be in [0, 1], got %g", c.SimilarityThreshold)
	}
	if c.Alpha < 0 || c.Alpha > 1 {
		return fmt.Errorf("decay: alpha must be in [0, 1], got %g", c.Alpha)
	}
	return nil
}

// InterferenceCalculator reduces a pattern's strength in proportion to
// the strength and similarity of other recently-active, similar patterns.
//
// Each sufficiently similar competitor contributes
// I = similarity × competitor_strength; the total is applied as
// s' = s × (1 − α × ΣI), clamped to [0, 1].
type InterferenceCalculator struct {
	config     InterferenceConfig
	similarity pattern.Similarity
}

// NewInterferenceCalculator builds a calculator with the given similarity
// metric. Configuration errors fail fast.
func NewInterferenceCalculator(cfg InterferenceConfig, sim pattern.Similarity) (*InterferenceCalculator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sim == nil {
		sim = pattern.CosineSimilarity{}
	}
	return &InterferenceCalculator{config: cfg, similarity: sim}, nil
}

// TotalInterference sums the interference the competitors exert on the
// target pattern. Competitors below the similarity threshold contribute
// nothing; the target never interferes with itself.
func (ic *InterferenceCalculator) TotalInterference(target *pattern.Pattern, competitors []Competitor) float64 {
	if target == nil {
		return 0
	}

	var total float64
	for _, c := range competitors {
		if c.Pattern == nil || c.Pattern.ID == target.ID {
			continue
		}
		sim := ic.similarity.ComputeFromFeatures(target.Features, c.Pattern.Features)
		if sim < ic.config.SimilarityThreshold {
			continue
		}
		total += sim * c.Strength
	}
	return total
}

// Apply suppresses strength by the given total interference:
// s' = s × (1 − α × ΣI), clamped to [0, 1]. Zero interference is an
// exact no-op.
func (ic *InterferenceCalculator) Apply(strength, totalInterference float64) float64 {
	if totalInterference <= 0 {
		return strength
	}
	suppressed := strength * (1 - ic.config.Alpha*totalInterference)
	return clampDecayed(suppressed, strength)
}
