package utility

import (
	"fmt"
	"math"
	"time"

	"github.com/orneryd/muninn/pkg/assoc"
	"github.com/orneryd/muninn/pkg/pattern"
)

// strongAssociationFloor is the strength above which an association
// counts toward a pattern's association-richness component.
const strongAssociationFloor = 0.5

// CalculatorConfig holds the utility weighting.
type CalculatorConfig struct {
	// FrequencyWeight, RecencyWeight, AssociationWeight and
	// ConfidenceWeight must sum to 1 (within a small tolerance).
	FrequencyWeight   float64
	RecencyWeight     float64
	AssociationWeight float64
	ConfidenceWeight  float64

	// RecencyDecay is the per-hour exponential decay of the recency
	// component. Must be > 0.
	RecencyDecay float64
}

// DefaultCalculatorConfig returns balanced utility weights.
func DefaultCalculatorConfig() CalculatorConfig {
	return CalculatorConfig{
		FrequencyWeight:   0.3,
		RecencyWeight:     0.3,
		AssociationWeight: 0.2,
		ConfidenceWeight:  0.2,
		RecencyDecay:      0.05,
	}
}

// weightTolerance is how far the weight sum may drift from 1.
const weightTolerance = 1e-6

// Validate rejects weights that do not sum to 1 and non-positive decay.
func (c CalculatorConfig) Validate() error {
	for _, w := range []float64{c.FrequencyWeight, c.RecencyWeight, c.AssociationWeight, c.ConfidenceWeight} {
		if w < 0 || w > 1 {
			return fmt.Errorf("utility: weights must be in [0, 1], got %g", w)
		}
	}
	sum := c.FrequencyWeight + c.RecencyWeight + c.AssociationWeight + c.ConfidenceWeight
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("utility: weights must sum to 1, got %g", sum)
	}
	if c.RecencyDecay <= 0 {
		return fmt.Errorf("utility: recency decay must be > 0, got %g", c.RecencyDecay)
	}
	return nil
}

// Breakdown is the four utility components before weighting, each in
// [0, 1], plus the combined score. Returned by GetUtilityBreakdown so
// tests and operators can see why a pattern scored the way it did.
type Breakdown struct {
	Frequency   float64
	Recency     float64
	Association float64
	Confidence  float64
	Utility     float64
}

// Calculator computes a pattern's current importance:
//
//	U(p) = w_f·F + w_r·R + w_a·A + w_c·C
//
// F is log-scaled access frequency, R is exponentially decayed recency,
// A is log-scaled aggregate strength of the pattern's strong
// associations, and C is the pattern's own confidence score. All
// components and the result live in [0, 1].
//
// Utility is always recomputed from live inputs; history is for trend
// detection only, never authority.
type Calculator struct {
	config  CalculatorConfig
	tracker *AccessTracker
	matrix  *assoc.Matrix
	db      pattern.Database

	now func() time.Time
}

// NewCalculator builds a calculator over the given collaborators. Weight
// configuration errors fail fast. db may be nil, in which case the
// confidence component reads as 0.
func NewCalculator(cfg CalculatorConfig, tracker *AccessTracker, m *assoc.Matrix, db pattern.Database) (*Calculator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tracker == nil || m == nil {
		return nil, fmt.Errorf("utility: tracker and matrix must not be nil")
	}
	return &Calculator{
		config:  cfg,
		tracker: tracker,
		matrix:  m,
		db:      db,
		now:     time.Now,
	}, nil
}

// SetClock replaces the calculator's time source. Intended for tests.
func (c *Calculator) SetClock(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// Utility returns the pattern's combined utility score in [0, 1].
// Unknown patterns score 0 for every component except confidence.
func (c *Calculator) Utility(id pattern.PatternID) float64 {
	return c.GetUtilityBreakdown(id).Utility
}

// GetUtilityBreakdown returns each component alongside the combined
// score.
func (c *Calculator) GetUtilityBreakdown(id pattern.PatternID) Breakdown {
	b := Breakdown{
		Frequency:   c.frequency(id),
		Recency:     c.recency(id),
		Association: c.association(id),
		Confidence:  c.confidence(id),
	}
	b.Utility = clamp01(c.config.FrequencyWeight*b.Frequency +
		c.config.RecencyWeight*b.Recency +
		c.config.AssociationWeight*b.Association +
		c.config.ConfidenceWeight*b.Confidence)
	return b
}

// UtilityAll scores every tracked pattern in one pass.
func (c *Calculator) UtilityAll() map[pattern.PatternID]float64 {
	ids := c.tracker.TrackedPatterns()
	out := make(map[pattern.PatternID]float64, len(ids))
	for _, id := range ids {
		out[id] = c.Utility(id)
	}
	return out
}

// frequency is log(1+count)/log(1+max_count): log scaling blunts the
// influence of outlier hot patterns.
func (c *Calculator) frequency(id pattern.PatternID) float64 {
	count := c.tracker.AccessCount(id)
	if count == 0 {
		return 0
	}
	max := c.tracker.MaxAccessCount()
	if max <= 0 {
		return 0
	}
	return clamp01(math.Log1p(float64(count)) / math.Log1p(float64(max)))
}

// recency is exp(−decay × hours_since_access).
func (c *Calculator) recency(id pattern.PatternID) float64 {
	stats, ok := c.tracker.Stats(id)
	if !ok || stats.LastAccess.IsZero() {
		return 0
	}
	hours := c.now().Sub(stats.LastAccess).Hours()
	if hours < 0 {
		hours = 0
	}
	return clamp01(math.Exp(-c.config.RecencyDecay * hours))
}

// association aggregates the strength of the pattern's strong edges
// (both directions), log-scaled against the pattern's total degree.
func (c *Calculator) association(id pattern.PatternID) float64 {
	var strong float64
	count := func(snaps []assoc.Snapshot) {
		for _, s := range snaps {
			if s.Strength > strongAssociationFloor {
				strong += s.Strength
			}
		}
	}
	count(c.matrix.Outgoing(id))
	count(c.matrix.Incoming(id))
	if strong == 0 {
		return 0
	}
	degree := float64(c.matrix.Degree(id))
	return clamp01(math.Log1p(strong) / math.Log1p(degree))
}

// confidence is the pattern's own stored confidence score.
func (c *Calculator) confidence(id pattern.PatternID) float64 {
	if c.db == nil {
		return 0
	}
	p, err := c.db.Retrieve(id)
	if err != nil {
		return 0
	}
	return clamp01(p.Confidence)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
