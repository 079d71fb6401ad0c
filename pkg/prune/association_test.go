package prune

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/muninn/pkg/assoc"
	"github.com/orneryd/muninn/pkg/pattern"
)

func TestAssociationConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultAssociationConfig().Validate())

	cfg := DefaultAssociationConfig()
	cfg.WeakThreshold = 1.0
	assert.Error(t, cfg.Validate())

	cfg = DefaultAssociationConfig()
	cfg.MaxPathLength = 1
	assert.Error(t, cfg.Validate())

	cfg = DefaultAssociationConfig()
	cfg.RedundancyPathStrength = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultAssociationConfig()
	cfg.BatchSize = 0
	assert.Error(t, cfg.Validate())
}

func TestNewAssociationPrunerRequiresMatrix(t *testing.T) {
	_, err := NewAssociationPruner(DefaultAssociationConfig(), nil, nil)
	assert.Error(t, err)
}

func newAssocPruner(t *testing.T, cfg AssociationConfig) (*AssociationPruner, *assoc.Matrix) {
	t.Helper()
	m := assoc.NewMatrix(nil)
	ap, err := NewAssociationPruner(cfg, m, nil)
	require.NoError(t, err)
	return ap, m
}

func TestPruneWeak(t *testing.T) {
	ap, m := newAssocPruner(t, DefaultAssociationConfig())

	m.AddAssociation(assoc.NewEdge(1, 2, assoc.Causal, 0.04))
	m.AddAssociation(assoc.NewEdge(1, 3, assoc.Causal, 0.5))

	assert.Equal(t, 1, ap.PruneWeak())
	assert.False(t, m.HasAssociation(1, 2))
	assert.True(t, m.HasAssociation(1, 3))

	assert.Equal(t, 0, ap.PruneWeak(), "second pass finds nothing")
}

func TestIsRedundant(t *testing.T) {
	ap, m := newAssocPruner(t, DefaultAssociationConfig())

	m.AddAssociation(assoc.NewEdge(1, 2, assoc.Causal, 0.9))
	m.AddAssociation(assoc.NewEdge(2, 3, assoc.Causal, 0.8))
	m.AddAssociation(assoc.NewEdge(1, 3, assoc.Causal, 0.5))

	// Alternative path strength 0.9 × 0.8 = 0.72 beats the 0.5 direct edge.
	assert.True(t, ap.IsRedundant(1, 3))

	assert.False(t, ap.IsRedundant(1, 2), "no alternative path to 2")
	assert.False(t, ap.IsRedundant(1, 9), "no direct edge")
}

func TestIsRedundantDirectEdgeStronger(t *testing.T) {
	ap, m := newAssocPruner(t, DefaultAssociationConfig())

	m.AddAssociation(assoc.NewEdge(1, 2, assoc.Causal, 0.9))
	m.AddAssociation(assoc.NewEdge(2, 3, assoc.Causal, 0.8))
	m.AddAssociation(assoc.NewEdge(1, 3, assoc.Causal, 0.85))

	assert.False(t, ap.IsRedundant(1, 3), "a direct edge stronger than any path stays")
}

func TestIsRedundantPathTooWeak(t *testing.T) {
	ap, m := newAssocPruner(t, DefaultAssociationConfig())

	m.AddAssociation(assoc.NewEdge(1, 2, assoc.Causal, 0.6))
	m.AddAssociation(assoc.NewEdge(2, 3, assoc.Causal, 0.6))
	m.AddAssociation(assoc.NewEdge(1, 3, assoc.Causal, 0.3))

	// 0.36 combined never clears the 0.5 redundancy floor.
	assert.False(t, ap.IsRedundant(1, 3))
}

func TestIsRedundantRespectsDepthBound(t *testing.T) {
	build := func(m *assoc.Matrix) {
		m.AddAssociation(assoc.NewEdge(1, 2, assoc.Causal, 0.95))
		m.AddAssociation(assoc.NewEdge(2, 3, assoc.Causal, 0.95))
		m.AddAssociation(assoc.NewEdge(3, 4, assoc.Causal, 0.95))
		m.AddAssociation(assoc.NewEdge(1, 4, assoc.Causal, 0.5))
	}

	deep, m := newAssocPruner(t, DefaultAssociationConfig())
	build(m)
	assert.True(t, deep.IsRedundant(1, 4), "three hops fit in the default bound")

	cfg := DefaultAssociationConfig()
	cfg.MaxPathLength = 2
	shallow, m2 := newAssocPruner(t, cfg)
	build(m2)
	assert.False(t, shallow.IsRedundant(1, 4), "the only alternative needs three hops")
}

func TestPruneRedundant(t *testing.T) {
	ap, m := newAssocPruner(t, DefaultAssociationConfig())

	m.AddAssociation(assoc.NewEdge(1, 2, assoc.Causal, 0.9))
	m.AddAssociation(assoc.NewEdge(2, 3, assoc.Causal, 0.9))
	m.AddAssociation(assoc.NewEdge(1, 3, assoc.Causal, 0.5))

	assert.Equal(t, 1, ap.PruneRedundant())
	assert.False(t, m.HasAssociation(1, 3))
	assert.True(t, m.HasAssociation(1, 2), "path edges carry information, kept")
	assert.True(t, m.HasAssociation(2, 3))
}

func TestPruneRedundantBatchBound(t *testing.T) {
	cfg := DefaultAssociationConfig()
	cfg.BatchSize = 1
	ap, m := newAssocPruner(t, cfg)

	for _, base := range []pattern.PatternID{1, 11} {
		m.AddAssociation(assoc.NewEdge(base, base+1, assoc.Causal, 0.9))
		m.AddAssociation(assoc.NewEdge(base+1, base+2, assoc.Causal, 0.9))
		m.AddAssociation(assoc.NewEdge(base, base+2, assoc.Causal, 0.5))
	}

	assert.Equal(t, 1, ap.PruneRedundant())
	assert.Equal(t, 5, m.Count())
}

func TestPruneRunsBothPasses(t *testing.T) {
	ap, m := newAssocPruner(t, DefaultAssociationConfig())

	m.AddAssociation(assoc.NewEdge(1, 2, assoc.Causal, 0.9))
	m.AddAssociation(assoc.NewEdge(2, 3, assoc.Causal, 0.9))
	m.AddAssociation(assoc.NewEdge(1, 3, assoc.Causal, 0.5))
	m.AddAssociation(assoc.NewEdge(5, 6, assoc.Causal, 0.01))

	res := ap.Prune()
	assert.Equal(t, 1, res.WeakRemoved)
	assert.Equal(t, 1, res.RedundantRemoved)
	assert.Equal(t, 2, m.Count())
}
