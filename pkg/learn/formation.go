package learn

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/orneryd/muninn/pkg/assoc"
	"github.com/orneryd/muninn/pkg/pattern"
)

// FormationConfig tunes when co-occurrence evidence becomes an edge.
type FormationConfig struct {
	// MinCoOccurrences is the minimum pair count before an association
	// may form. Must be >= 1.
	MinCoOccurrences int

	// MinChiSquared is the significance gate. <= 0 selects the classic
	// 3.841 critical value (p < 0.05, df = 1).
	MinChiSquared float64

	// MinTemporalCorrelation is the |correlation| above which a pair is
	// classified Causal. Must be in (0, 1].
	MinTemporalCorrelation float64

	// MinSpatialSimilarity is the context-profile similarity above which
	// a pair is classified Spatial. Must be in (0, 1].
	MinSpatialSimilarity float64

	// MinCategoricalSimilarity is the feature similarity above which a
	// pair is classified Categorical. Must be in (0, 1].
	MinCategoricalSimilarity float64

	// InitialStrength is the floor for newly formed edges. Must be in
	// (0, 1).
	InitialStrength float64

	// DecayRate is the per-second decay constant stamped on new edges.
	// Must be >= 0.
	DecayRate float64
}

// DefaultFormationConfig returns conservative formation settings.
func DefaultFormationConfig() FormationConfig {
	return FormationConfig{
		MinCoOccurrences:         2,
		MinChiSquared:            ChiSquaredCritical95,
		MinTemporalCorrelation:   0.6,
		MinSpatialSimilarity:     0.7,
		MinCategoricalSimilarity: 0.7,
		InitialStrength:          0.3,
		DecayRate:                0.00001,
	}
}

// Validate rejects out-of-range formation settings.
func (c FormationConfig) Validate() error {
	if c.MinCoOccurrences < 1 {
		return fmt.Errorf("learn: min co-occurrences must be >= 1, got %d", c.MinCoOccurrences)
	}
	if c.MinTemporalCorrelation <= 0 || c.MinTemporalCorrelation > 1 {
		return fmt.Errorf("learn: min temporal correlation must be in (0, 1], got %g", c.MinTemporalCorrelation)
	}
	if c.MinSpatialSimilarity <= 0 || c.MinSpatialSimilarity > 1 {
		return fmt.Errorf("learn: min spatial similarity must be in (0, 1], got %g", c.MinSpatialSimilarity)
	}
	if c.MinCategoricalSimilarity <= 0 || c.MinCategoricalSimilarity > 1 {
		return fmt.Errorf("learn: min categorical similarity must be in (0, 1], got %g", c.MinCategoricalSimilarity)
	}
	if c.InitialStrength <= 0 || c.InitialStrength >= 1 {
		return fmt.Errorf("learn: initial strength must be in (0, 1), got %g", c.InitialStrength)
	}
	if c.DecayRate < 0 {
		return fmt.Errorf("learn: decay rate must be >= 0, got %g", c.DecayRate)
	}
	return nil
}

// FormationRules is the statistical gate and classifier that turns
// co-occurrence evidence into new typed edges.
type FormationRules struct {
	config     FormationConfig
	db         pattern.Database
	similarity pattern.Similarity
	logger     *zap.Logger
}

// NewFormationRules builds formation rules over the given pattern store
// and similarity metric. Configuration errors fail fast. db may be nil,
// in which case classification falls back to Functional for detectors
// that need pattern payloads.
func NewFormationRules(cfg FormationConfig, db pattern.Database, sim pattern.Similarity, logger *zap.Logger) (*FormationRules, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MinChiSquared <= 0 {
		cfg.MinChiSquared = ChiSquaredCritical95
	}
	if sim == nil {
		sim = pattern.CosineSimilarity{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FormationRules{
		config:     cfg,
		db:         db,
		similarity: sim,
		logger:     logger.With(zap.String("component", "formation_rules")),
	}, nil
}

// ShouldFormAssociation reports whether the pair has enough evidence:
// the co-occurrence count must reach MinCoOccurrences AND the
// chi-squared statistic must reach MinChiSquared.
func (r *FormationRules) ShouldFormAssociation(t *CoOccurrenceTracker, a, b pattern.PatternID) bool {
	if t.CoOccurrenceCount(a, b) < r.config.MinCoOccurrences {
		return false
	}
	return t.ChiSquared(a, b) >= r.config.MinChiSquared
}

// ClassifyAssociationType applies the detectors in fixed priority order
// and returns the first match. The order is deliberate policy, not an
// accident of implementation:
//
//  1. Causal: one pattern consistently precedes the other
//  2. Spatial: the patterns share activation context
//  3. Categorical: same cluster, or highly similar features
//  4. Compositional: one pattern structurally contains the other
//  5. Functional: the fallback when nothing else matches
func (r *FormationRules) ClassifyAssociationType(t *CoOccurrenceTracker, a, b pattern.PatternID) assoc.Type {
	corr := t.TemporalCorrelation(a, b)
	if corr >= r.config.MinTemporalCorrelation || -corr >= r.config.MinTemporalCorrelation {
		return assoc.Causal
	}

	pa, pb := r.lookup(a), r.lookup(b)
	if pa != nil && pb != nil {
		if pattern.ContextSimilarity(pa.ContextProfile, pb.ContextProfile) >= r.config.MinSpatialSimilarity {
			return assoc.Spatial
		}
		if pa.ClusterID != 0 && pa.ClusterID == pb.ClusterID {
			return assoc.Categorical
		}
		if r.similarity.ComputeFromFeatures(pa.Features, pb.Features) >= r.config.MinCategoricalSimilarity {
			return assoc.Categorical
		}
		if pa.HasMember(b) || pb.HasMember(a) {
			return assoc.Compositional
		}
	}
	return assoc.Functional
}

// Direction picks the edge direction for the pair. Causal evidence
// orients the edge from the pattern that fires first; with no consistent
// ordering the canonical (lower ID first) direction is used so formation
// stays deterministic.
func (r *FormationRules) Direction(t *CoOccurrenceTracker, a, b pattern.PatternID) (source, target pattern.PatternID) {
	corr := t.TemporalCorrelation(a, b)
	switch {
	case corr > 0:
		return a, b
	case corr < 0:
		return b, a
	default:
		p := canonicalPair(a, b)
		return p.A, p.B
	}
}

// CalculateInitialStrength blends the chi-squared magnitude into the
// configured floor: stronger statistical evidence starts closer to 1,
// but never below InitialStrength.
//
//	s = floor + (1 − floor) × χ² / (χ² + 2·critical)
func (r *FormationRules) CalculateInitialStrength(t *CoOccurrenceTracker, a, b pattern.PatternID) float64 {
	chi := t.ChiSquared(a, b)
	if chi < 0 {
		chi = 0
	}
	floor := r.config.InitialStrength
	s := floor + (1-floor)*chi/(chi+2*r.config.MinChiSquared)
	if s > 1 {
		s = 1
	}
	if s < floor {
		s = floor
	}
	return s
}

// BuildAssociation assembles a fully classified edge for a qualifying
// pair. It does not insert the edge into any matrix.
func (r *FormationRules) BuildAssociation(t *CoOccurrenceTracker, a, b pattern.PatternID) *assoc.Edge {
	source, target := r.Direction(t, a, b)
	typ := r.ClassifyAssociationType(t, a, b)
	strength := r.CalculateInitialStrength(t, a, b)

	e := assoc.NewEdge(source, target, typ, strength)
	e.DecayRate = r.config.DecayRate
	e.SetTemporalCorrelation(t.TemporalCorrelation(source, target))

	if pa := r.lookup(source); pa != nil && len(pa.ContextProfile) > 0 {
		e.MergeContext(pa.ContextProfile, 1.0)
	}
	if pb := r.lookup(target); pb != nil && len(pb.ContextProfile) > 0 {
		e.MergeContext(pb.ContextProfile, 0.5)
	}

	r.logger.Debug("association formed",
		zap.Uint64("source", uint64(source)),
		zap.Uint64("target", uint64(target)),
		zap.String("type", typ.String()),
		zap.Float64("strength", strength))
	return e
}

// lookup fetches a pattern payload, tolerating a nil database and
// unknown IDs.
func (r *FormationRules) lookup(id pattern.PatternID) *pattern.Pattern {
	if r.db == nil {
		return nil
	}
	p, err := r.db.Retrieve(id)
	if err != nil {
		return nil
	}
	return p
}
