package prune

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/orneryd/muninn/pkg/assoc"
	"github.com/orneryd/muninn/pkg/pattern"
)

// AssociationConfig tunes edge pruning.
type AssociationConfig struct {
	// WeakThreshold removes edges weaker than this. Must be in [0, 1).
	WeakThreshold float64

	// MaxPathLength bounds the redundancy search: an alternative path
	// may use at most this many hops. Must be >= 2.
	MaxPathLength int

	// RedundancyPathStrength is the minimum combined strength an
	// alternative path needs before the direct edge counts as redundant.
	// Must be in (0, 1].
	RedundancyPathStrength float64

	// BatchSize caps how many redundant edges one pass may remove.
	// Must be > 0.
	BatchSize int
}

// DefaultAssociationConfig returns conservative edge-pruning settings.
func DefaultAssociationConfig() AssociationConfig {
	return AssociationConfig{
		WeakThreshold:          0.05,
		MaxPathLength:          3,
		RedundancyPathStrength: 0.5,
		BatchSize:              256,
	}
}

// Validate rejects out-of-range settings.
func (c AssociationConfig) Validate() error {
	if c.WeakThreshold < 0 || c.WeakThreshold >= 1 {
		return fmt.Errorf("prune: weak threshold must be in [0, 1), got %g", c.WeakThreshold)
	}
	if c.MaxPathLength < 2 {
		return fmt.Errorf("prune: max path length must be >= 2, got %d", c.MaxPathLength)
	}
	if c.RedundancyPathStrength <= 0 || c.RedundancyPathStrength > 1 {
		return fmt.Errorf("prune: redundancy path strength must be in (0, 1], got %g",
			c.RedundancyPathStrength)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("prune: batch size must be > 0, got %d", c.BatchSize)
	}
	return nil
}

// AssociationResult reports one edge-pruning pass.
type AssociationResult struct {
	WeakRemoved      int
	RedundantRemoved int
}

// AssociationPruner removes weak edges and direct edges made redundant by
// a stronger multi-hop path.
type AssociationPruner struct {
	config AssociationConfig
	matrix *assoc.Matrix
	logger *zap.Logger
}

// NewAssociationPruner builds a pruner; configuration errors fail fast.
func NewAssociationPruner(cfg AssociationConfig, m *assoc.Matrix, logger *zap.Logger) (*AssociationPruner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("prune: matrix must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssociationPruner{
		config: cfg,
		matrix: m,
		logger: logger.With(zap.String("component", "association_pruner")),
	}, nil
}

// PruneWeak removes every edge below the weak threshold in one pass.
func (ap *AssociationPruner) PruneWeak() int {
	threshold := ap.config.WeakThreshold
	removed := ap.matrix.RemoveWhere(func(s assoc.Snapshot) bool {
		return s.Strength < threshold
	})
	if removed > 0 {
		ap.logger.Debug("weak edges removed", zap.Int("removed", removed))
	}
	return removed
}

// IsRedundant reports whether the direct edge (source, target) has an
// alternative multi-hop path whose combined strength (the product of its
// edge strengths) is at least RedundancyPathStrength and not weaker than
// the direct edge itself. Such an edge carries no information the graph
// does not already encode.
func (ap *AssociationPruner) IsRedundant(source, target pattern.PatternID) bool {
	direct, ok := ap.matrix.GetAssociation(source, target)
	if !ok {
		return false
	}
	best := ap.bestAlternativePath(source, target)
	return best >= ap.config.RedundancyPathStrength && best >= direct.Strength
}

// bestAlternativePath runs a bounded-depth best-path search from source
// to target that never uses the direct edge. Combined path strength is
// the product of edge strengths, so it only ever shrinks with depth and
// branches below the redundancy threshold are cut early.
func (ap *AssociationPruner) bestAlternativePath(source, target pattern.PatternID) float64 {
	type node struct {
		id       pattern.PatternID
		strength float64
	}

	best := 0.0
	frontier := []node{{source, 1.0}}
	visited := map[pattern.PatternID]float64{source: 1.0}

	for hop := 0; hop < ap.config.MaxPathLength && len(frontier) > 0; hop++ {
		var next []node
		for _, n := range frontier {
			for _, snap := range ap.matrix.Outgoing(n.id) {
				if n.id == source && snap.Target == target {
					continue // the direct edge is not an alternative
				}
				combined := n.strength * snap.Strength
				if combined < ap.config.RedundancyPathStrength {
					continue
				}
				if snap.Target == target {
					if combined > best {
						best = combined
					}
					continue
				}
				if prev, seen := visited[snap.Target]; seen && prev >= combined {
					continue
				}
				visited[snap.Target] = combined
				next = append(next, node{snap.Target, combined})
			}
		}
		frontier = next
	}
	return best
}

// PruneRedundant scans all edges and removes the redundant ones, bounded
// by BatchSize per call.
func (ap *AssociationPruner) PruneRedundant() int {
	type pair struct {
		source, target pattern.PatternID
	}
	var candidates []pair
	ap.matrix.ForEach(func(e *assoc.Edge) bool {
		candidates = append(candidates, pair{e.Source, e.Target})
		return true
	})

	removed := 0
	for _, c := range candidates {
		if removed >= ap.config.BatchSize {
			break
		}
		if !ap.IsRedundant(c.source, c.target) {
			continue
		}
		if ap.matrix.RemoveAssociation(c.source, c.target) {
			removed++
		}
	}
	if removed > 0 {
		ap.logger.Debug("redundant edges removed", zap.Int("removed", removed))
	}
	return removed
}

// Prune runs the weak pass then the redundancy pass.
func (ap *AssociationPruner) Prune() AssociationResult {
	return AssociationResult{
		WeakRemoved:      ap.PruneWeak(),
		RedundantRemoved: ap.PruneRedundant(),
	}
}
