// Package consolidate reorganizes memory the way sleep does: merging
// near-duplicate patterns, clustering related patterns under synthesized
// parent patterns, compressing frequently traversed paths into shortcut
// edges, and strengthening the most useful patterns during idle periods.
package consolidate

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/orneryd/muninn/pkg/assoc"
	"github.com/orneryd/muninn/pkg/pattern"
	"github.com/orneryd/muninn/pkg/prune"
	"github.com/orneryd/muninn/pkg/utility"
)

// Config tunes the three consolidation passes.
type Config struct {
	// MergeSimilarityThreshold is the feature similarity above which two
	// patterns are duplicates. Must be in (0, 1].
	MergeSimilarityThreshold float64

	// MinClusterSize and MaxClusterSize bound hierarchy clusters. Must
	// satisfy 2 <= Min <= Max.
	MinClusterSize int
	MaxClusterSize int

	// ClusterSimilarityThreshold is the similarity for a pattern to join
	// a cluster. Must be in (0, 1].
	ClusterSimilarityThreshold float64

	// MinPathTraversals is how often a two/three-hop path must have been
	// traversed before it earns a shortcut edge. Must be >= 1.
	MinPathTraversals int

	// ShortcutDiscount scales a shortcut edge's strength below the
	// path's combined strength, pricing in the precision lost by
	// skipping the intermediate pattern. Must be in (0, 1].
	ShortcutDiscount float64

	// MergeBatchSize caps duplicate merges per pass. Must be > 0.
	MergeBatchSize int
}

// DefaultConfig returns conservative consolidation settings.
func DefaultConfig() Config {
	return Config{
		MergeSimilarityThreshold:   0.92,
		MinClusterSize:             3,
		MaxClusterSize:             8,
		ClusterSimilarityThreshold: 0.75,
		MinPathTraversals:          5,
		ShortcutDiscount:           0.8,
		MergeBatchSize:             64,
	}
}

// Validate rejects out-of-range consolidation settings.
func (c Config) Validate() error {
	if c.MergeSimilarityThreshold <= 0 || c.MergeSimilarityThreshold > 1 {
		return fmt.Errorf("consolidate: merge similarity threshold must be in (0, 1], got %g",
			c.MergeSimilarityThreshold)
	}
	if c.MinClusterSize < 2 || c.MaxClusterSize < c.MinClusterSize {
		return fmt.Errorf("consolidate: cluster sizes must satisfy 2 <= min <= max, got [%d, %d]",
			c.MinClusterSize, c.MaxClusterSize)
	}
	if c.ClusterSimilarityThreshold <= 0 || c.ClusterSimilarityThreshold > 1 {
		return fmt.Errorf("consolidate: cluster similarity threshold must be in (0, 1], got %g",
			c.ClusterSimilarityThreshold)
	}
	if c.MinPathTraversals < 1 {
		return fmt.Errorf("consolidate: min path traversals must be >= 1, got %d", c.MinPathTraversals)
	}
	if c.ShortcutDiscount <= 0 || c.ShortcutDiscount > 1 {
		return fmt.Errorf("consolidate: shortcut discount must be in (0, 1], got %g", c.ShortcutDiscount)
	}
	if c.MergeBatchSize <= 0 {
		return fmt.Errorf("consolidate: merge batch size must be > 0, got %d", c.MergeBatchSize)
	}
	return nil
}

// MergeResult reports one duplicate-merge pass.
type MergeResult struct {
	Merged int
	Failed int
}

// HierarchyResult reports one hierarchy-formation pass.
type HierarchyResult struct {
	ClustersFormed  int
	ParentsCreated  int
	MembersAttached int
}

// CompressionResult reports one association-compression pass.
type CompressionResult struct {
	PathsExamined    int
	ShortcutsCreated int
}

// Consolidator runs the three consolidation passes. Each pass is
// independent and returns its own result struct so operators can audit
// exactly what a consolidation cycle changed.
type Consolidator struct {
	config     Config
	matrix     *assoc.Matrix
	db         pattern.Database
	similarity pattern.Similarity
	pruner     *prune.PatternPruner
	access     *utility.AccessTracker
	alloc      *pattern.IDAllocator
	logger     *zap.Logger
}

// NewConsolidator wires a consolidator over the graph, the pattern store,
// and the pruner (which owns merge mechanics). Configuration errors fail
// fast.
func NewConsolidator(cfg Config, m *assoc.Matrix, db pattern.Database, sim pattern.Similarity,
	pruner *prune.PatternPruner, access *utility.AccessTracker, alloc *pattern.IDAllocator,
	logger *zap.Logger) (*Consolidator, error) {

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if m == nil || db == nil || pruner == nil || alloc == nil {
		return nil, fmt.Errorf("consolidate: matrix, database, pruner and allocator must not be nil")
	}
	if sim == nil {
		sim = pattern.CosineSimilarity{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consolidator{
		config:     cfg,
		matrix:     m,
		db:         db,
		similarity: sim,
		pruner:     pruner,
		access:     access,
		alloc:      alloc,
		logger:     logger.With(zap.String("component", "consolidator")),
	}, nil
}

// MergeDuplicates folds near-duplicate patterns together. The survivor of
// each merge is the lower ID, keeping the outcome deterministic. Bounded
// by MergeBatchSize per pass.
func (c *Consolidator) MergeDuplicates() MergeResult {
	var res MergeResult
	ids := c.db.IDs()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	merged := make(map[pattern.PatternID]struct{})
	for i := 0; i < len(ids) && res.Merged < c.config.MergeBatchSize; i++ {
		a := ids[i]
		if _, gone := merged[a]; gone {
			continue
		}
		pa, err := c.db.Retrieve(a)
		if err != nil {
			continue
		}
		for j := i + 1; j < len(ids) && res.Merged < c.config.MergeBatchSize; j++ {
			b := ids[j]
			if _, gone := merged[b]; gone {
				continue
			}
			pb, err := c.db.Retrieve(b)
			if err != nil {
				continue
			}
			if c.similarity.ComputeFromFeatures(pa.Features, pb.Features) < c.config.MergeSimilarityThreshold {
				continue
			}
			if err := c.pruner.MergePatterns(a, b); err != nil {
				res.Failed++
				continue
			}
			merged[b] = struct{}{}
			if c.access != nil {
				c.access.Forget(b)
			}
			res.Merged++
		}
	}
	if res.Merged > 0 {
		c.logger.Info("duplicates merged", zap.Int("merged", res.Merged), zap.Int("failed", res.Failed))
	}
	return res
}

// FormHierarchies greedily clusters similar patterns and synthesizes a
// parent pattern (the cluster's feature centroid) for each cluster; every
// member gets a Compositional edge to its parent, enabling coarser
// reasoning over the group.
//
// Patterns that already have a parent are skipped; clusters outside
// [MinClusterSize, MaxClusterSize] are not formed.
func (c *Consolidator) FormHierarchies() HierarchyResult {
	var res HierarchyResult
	ids := c.db.IDs()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	clustered := make(map[pattern.PatternID]struct{})
	for _, seed := range ids {
		if _, done := clustered[seed]; done {
			continue
		}
		ps, err := c.db.Retrieve(seed)
		if err != nil || ps.ParentID != pattern.InvalidPattern {
			continue
		}

		cluster := []*pattern.Pattern{ps}
		for _, cand := range ids {
			if len(cluster) >= c.config.MaxClusterSize {
				break
			}
			if cand == seed {
				continue
			}
			if _, done := clustered[cand]; done {
				continue
			}
			pc, err := c.db.Retrieve(cand)
			if err != nil || pc.ParentID != pattern.InvalidPattern {
				continue
			}
			if c.similarity.ComputeFromFeatures(ps.Features, pc.Features) >= c.config.ClusterSimilarityThreshold {
				cluster = append(cluster, pc)
			}
		}
		if len(cluster) < c.config.MinClusterSize {
			continue
		}

		parent, err := c.synthesizeParent(cluster)
		if err != nil {
			c.logger.Warn("parent synthesis failed", zap.Error(err))
			continue
		}
		res.ClustersFormed++
		res.ParentsCreated++

		for _, member := range cluster {
			clustered[member.ID] = struct{}{}
			member.ParentID = parent.ID
			if err := c.db.Update(member); err != nil {
				c.logger.Warn("member update failed",
					zap.Uint64("pattern", uint64(member.ID)), zap.Error(err))
				continue
			}
			e := assoc.NewEdge(member.ID, parent.ID, assoc.Compositional, 0.5)
			if c.matrix.AddAssociation(e) {
				res.MembersAttached++
			}
		}
	}
	if res.ClustersFormed > 0 {
		c.logger.Info("hierarchies formed",
			zap.Int("clusters", res.ClustersFormed),
			zap.Int("members", res.MembersAttached))
	}
	return res
}

// synthesizeParent builds and stores the centroid parent of a cluster.
func (c *Consolidator) synthesizeParent(cluster []*pattern.Pattern) (*pattern.Pattern, error) {
	dims := 0
	for _, p := range cluster {
		if len(p.Features) > dims {
			dims = len(p.Features)
		}
	}
	centroid := make(pattern.FeatureVector, dims)
	var confidence float64
	for _, p := range cluster {
		for i, f := range p.Features {
			centroid[i] += f
		}
		confidence += p.Confidence
	}
	n := float32(len(cluster))
	for i := range centroid {
		centroid[i] /= n
	}

	parent := &pattern.Pattern{
		ID:         c.alloc.Next(),
		Features:   centroid,
		Confidence: confidence / float64(len(cluster)),
		Members:    make([]pattern.PatternID, 0, len(cluster)),
	}
	for _, p := range cluster {
		parent.Members = append(parent.Members, p.ID)
	}
	if err := c.db.Store(parent); err != nil {
		return nil, err
	}
	return parent, nil
}

// CompressAssociations synthesizes direct shortcut edges for frequently
// traversed two- and three-hop paths. A path whose endpoints' pair access
// count reaches MinPathTraversals gets a direct edge with strength
// ShortcutDiscount × the product of the path's edge strengths, trading a
// little precision for cheaper future traversal. Existing direct edges
// are left alone.
func (c *Consolidator) CompressAssociations() CompressionResult {
	var res CompressionResult
	if c.access == nil {
		return res
	}

	for _, pa := range c.access.TrackedPairs() {
		if pa.Count < c.config.MinPathTraversals {
			continue
		}
		// The pair is unordered; try both directions as path endpoints.
		res.ShortcutsCreated += c.compressBetween(pa.A, pa.B, &res.PathsExamined)
		res.ShortcutsCreated += c.compressBetween(pa.B, pa.A, &res.PathsExamined)
	}
	if res.ShortcutsCreated > 0 {
		c.logger.Info("associations compressed",
			zap.Int("paths", res.PathsExamined),
			zap.Int("shortcuts", res.ShortcutsCreated))
	}
	return res
}

// compressBetween looks for the strongest two- or three-hop path from
// source to target and installs the shortcut if no direct edge exists
// yet.
func (c *Consolidator) compressBetween(source, target pattern.PatternID, examined *int) int {
	if c.matrix.HasAssociation(source, target) {
		return 0
	}

	bestStrength := 0.0
	var bestType assoc.Type
	found := false
	consider := func(combined float64, typ assoc.Type) {
		*examined++
		if combined > bestStrength {
			bestStrength = combined
			bestType = typ
			found = true
		}
	}

	for _, first := range c.matrix.Outgoing(source) {
		if second, ok := c.matrix.GetAssociation(first.Target, target); ok {
			consider(first.Strength*second.Strength, first.Type)
		}
		for _, second := range c.matrix.Outgoing(first.Target) {
			if second.Target == source || second.Target == target {
				continue
			}
			if third, ok := c.matrix.GetAssociation(second.Target, target); ok {
				consider(first.Strength*second.Strength*third.Strength, first.Type)
			}
		}
	}
	if !found {
		return 0
	}

	e := assoc.NewEdge(source, target, bestType, c.config.ShortcutDiscount*bestStrength)
	if c.matrix.AddAssociation(e) {
		return 1
	}
	return 0
}

// Consolidate runs all three passes in order: merge, hierarchy,
// compression.
func (c *Consolidator) Consolidate() (MergeResult, HierarchyResult, CompressionResult) {
	return c.MergeDuplicates(), c.FormHierarchies(), c.CompressAssociations()
}
