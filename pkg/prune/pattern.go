// Package prune makes the irreversible forgetting decisions: deleting
// low-utility patterns, merging near-duplicates, and removing weak or
// redundant associations. Every deletion passes a safety predicate first
// so hubs, young patterns, and strongly connected patterns survive even
// when their utility is poor.
package prune

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/orneryd/muninn/pkg/assoc"
	"github.com/orneryd/muninn/pkg/pattern"
)

// PatternConfig tunes pattern pruning and merging.
type PatternConfig struct {
	// MinAssociationsForHub is the degree at or above which a pattern is
	// a hub and never pruned. Must be > 0.
	MinAssociationsForHub int

	// MinPatternAge protects young patterns that have not had time to
	// accumulate utility. Must be >= 0.
	MinPatternAge time.Duration

	// StrongAssociationThreshold protects any pattern holding an edge at
	// or above this strength. Must be in (0, 1].
	StrongAssociationThreshold float64

	// MergeSimilarityThreshold is the feature similarity above which two
	// patterns are merge candidates. Must be in (0, 1].
	MergeSimilarityThreshold float64

	// BatchSize caps how many patterns one PrunePatterns call may
	// remove. Must be > 0.
	BatchSize int
}

// DefaultPatternConfig returns conservative pruning settings.
func DefaultPatternConfig() PatternConfig {
	return PatternConfig{
		MinAssociationsForHub:      5,
		MinPatternAge:              time.Hour,
		StrongAssociationThreshold: 0.8,
		MergeSimilarityThreshold:   0.9,
		BatchSize:                  128,
	}
}

// Validate rejects out-of-range pruning settings.
func (c PatternConfig) Validate() error {
	if c.MinAssociationsForHub <= 0 {
		return fmt.Errorf("prune: hub degree must be > 0, got %d", c.MinAssociationsForHub)
	}
	if c.MinPatternAge < 0 {
		return fmt.Errorf("prune: min pattern age must be >= 0, got %s", c.MinPatternAge)
	}
	if c.StrongAssociationThreshold <= 0 || c.StrongAssociationThreshold > 1 {
		return fmt.Errorf("prune: strong association threshold must be in (0, 1], got %g",
			c.StrongAssociationThreshold)
	}
	if c.MergeSimilarityThreshold <= 0 || c.MergeSimilarityThreshold > 1 {
		return fmt.Errorf("prune: merge similarity threshold must be in (0, 1], got %g",
			c.MergeSimilarityThreshold)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("prune: batch size must be > 0, got %d", c.BatchSize)
	}
	return nil
}

// PatternResult reports one pruning pass. KeptSafe counts patterns that
// failed the utility threshold but were protected by a safety check;
// they are reported, never silently retried.
type PatternResult struct {
	Pruned     int
	KeptSafe   int
	EdgesFreed int
}

// PatternPruner removes low-utility patterns, with safety checks, and
// merges near-duplicates.
type PatternPruner struct {
	config     PatternConfig
	matrix     *assoc.Matrix
	db         pattern.Database
	similarity pattern.Similarity
	logger     *zap.Logger

	now func() time.Time
}

// NewPatternPruner builds a pruner; configuration errors fail fast.
func NewPatternPruner(cfg PatternConfig, m *assoc.Matrix, db pattern.Database, sim pattern.Similarity, logger *zap.Logger) (*PatternPruner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if m == nil || db == nil {
		return nil, fmt.Errorf("prune: matrix and database must not be nil")
	}
	if sim == nil {
		sim = pattern.CosineSimilarity{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PatternPruner{
		config:     cfg,
		matrix:     m,
		db:         db,
		similarity: sim,
		logger:     logger.With(zap.String("component", "pattern_pruner")),
		now:        time.Now,
	}, nil
}

// SetClock replaces the pruner's time source. Intended for tests.
func (pp *PatternPruner) SetClock(now func() time.Time) {
	if now != nil {
		pp.now = now
	}
}

// IsSafeToRemove runs the safety predicate: a pattern may be removed only
// if it is not a hub, not younger than the minimum age, and holds no
// association at or above the strong threshold.
func (pp *PatternPruner) IsSafeToRemove(id pattern.PatternID) bool {
	if pp.matrix.Degree(id) >= pp.config.MinAssociationsForHub {
		return false
	}
	if p, err := pp.db.Retrieve(id); err == nil {
		if pp.now().Sub(p.CreatedAt) < pp.config.MinPatternAge {
			return false
		}
	}
	strong := false
	check := func(snaps []assoc.Snapshot) {
		for _, s := range snaps {
			if s.Strength >= pp.config.StrongAssociationThreshold {
				strong = true
				return
			}
		}
	}
	check(pp.matrix.Outgoing(id))
	if !strong {
		check(pp.matrix.Incoming(id))
	}
	return !strong
}

// PrunePatterns deletes every candidate below the utility threshold that
// passes the safety predicate, bounded by BatchSize. Unsafe candidates
// are counted in KeptSafe. Each removed pattern loses its payload and all
// of its edges.
func (pp *PatternPruner) PrunePatterns(utilities map[pattern.PatternID]float64, threshold float64) PatternResult {
	var res PatternResult
	for id, u := range utilities {
		if res.Pruned >= pp.config.BatchSize {
			break
		}
		if u >= threshold {
			continue
		}
		if !pp.IsSafeToRemove(id) {
			res.KeptSafe++
			continue
		}
		res.EdgesFreed += pp.matrix.RemoveAllFor(id)
		if err := pp.db.Delete(id); err != nil && !errors.Is(err, pattern.ErrNotFound) {
			pp.logger.Warn("pattern payload delete failed",
				zap.Uint64("pattern", uint64(id)), zap.Error(err))
		}
		res.Pruned++
	}
	if res.Pruned > 0 || res.KeptSafe > 0 {
		pp.logger.Info("patterns pruned",
			zap.Int("pruned", res.Pruned),
			zap.Int("kept_safe", res.KeptSafe),
			zap.Int("edges_freed", res.EdgesFreed))
	}
	return res
}

// FindMergeCandidate searches the store for the most similar other
// pattern above the merge threshold. Returns false when none qualifies.
func (pp *PatternPruner) FindMergeCandidate(id pattern.PatternID) (pattern.PatternID, bool) {
	target, err := pp.db.Retrieve(id)
	if err != nil {
		return pattern.InvalidPattern, false
	}

	best := pattern.InvalidPattern
	bestSim := pp.config.MergeSimilarityThreshold
	for _, other := range pp.db.IDs() {
		if other == id {
			continue
		}
		p, err := pp.db.Retrieve(other)
		if err != nil {
			continue
		}
		if sim := pp.similarity.ComputeFromFeatures(target.Features, p.Features); sim >= bestSim {
			best = other
			bestSim = sim
		}
	}
	return best, best != pattern.InvalidPattern
}

// MergePatterns folds the removed pattern into the survivor: every edge
// of removed is re-pointed at survivor, and where that collides with an
// existing edge the surviving strength is the MAX of the two; summing
// would overflow the [0, 1] bound. Self-edges created by the transfer are
// dropped. The removed pattern's payload and remaining edges are deleted.
func (pp *PatternPruner) MergePatterns(survivor, removed pattern.PatternID) error {
	if survivor == removed {
		return fmt.Errorf("prune: cannot merge a pattern into itself")
	}
	if _, err := pp.db.Retrieve(survivor); err != nil {
		return fmt.Errorf("prune: survivor %d: %w", survivor, err)
	}

	transfer := func(snaps []assoc.Snapshot, incoming bool) {
		for _, s := range snaps {
			src, dst := s.Source, s.Target
			if incoming {
				src = s.Source
				dst = survivor
			} else {
				src = survivor
				dst = s.Target
			}
			if src == dst {
				continue
			}
			if existing, ok := pp.matrix.GetAssociation(src, dst); ok {
				if s.Strength > existing.Strength {
					pp.matrix.Mutate(src, dst, func(e *assoc.Edge) {
						e.SetStrength(s.Strength)
					})
				}
				continue
			}
			e := assoc.NewEdge(src, dst, s.Type, s.Strength)
			e.DecayRate = s.DecayRate
			e.SetTemporalCorrelation(s.TemporalCorrelation)
			if len(s.Context) > 0 {
				e.MergeContext(s.Context, 1.0)
			}
			pp.matrix.AddAssociation(e)
		}
	}

	transfer(pp.matrix.Outgoing(removed), false)
	transfer(pp.matrix.Incoming(removed), true)
	pp.matrix.RemoveAllFor(removed)

	if err := pp.db.Delete(removed); err != nil && !errors.Is(err, pattern.ErrNotFound) {
		return fmt.Errorf("prune: deleting merged pattern %d: %w", removed, err)
	}

	pp.logger.Info("patterns merged",
		zap.Uint64("survivor", uint64(survivor)),
		zap.Uint64("removed", uint64(removed)))
	return nil
}
