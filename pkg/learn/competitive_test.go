package learn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/muninn/pkg/assoc"
)

func newCompetitor(t *testing.T) *CompetitiveLearner {
	t.Helper()
	cl, err := NewCompetitiveLearner(DefaultCompetitiveConfig(), nil)
	require.NoError(t, err)
	return cl
}

func TestCompetitiveConfigValidate(t *testing.T) {
	cfg := DefaultCompetitiveConfig()
	assert.NoError(t, cfg.Validate())

	cfg.Beta = 1.0
	assert.Error(t, cfg.Validate())

	cfg = DefaultCompetitiveConfig()
	cfg.MinCompetingAssociations = 1
	assert.Error(t, cfg.Validate())
}

func TestCompeteBoostsWinnerSuppressesLosers(t *testing.T) {
	cl := newCompetitor(t)
	m := assoc.NewMatrix(nil)
	m.AddAssociation(assoc.NewEdge(1, 2, assoc.Causal, 0.6))
	m.AddAssociation(assoc.NewEdge(1, 3, assoc.Causal, 0.4))
	m.AddAssociation(assoc.NewEdge(1, 4, assoc.Causal, 0.3))

	require.True(t, cl.Compete(m, 1, CompeteOutgoing))

	winner, _ := m.GetAssociation(1, 2)
	assert.InDelta(t, 0.6+0.1*(1-0.6), winner.Strength, 1e-12)

	loser3, _ := m.GetAssociation(1, 3)
	assert.InDelta(t, 0.4*0.9, loser3.Strength, 1e-12)
	loser4, _ := m.GetAssociation(1, 4)
	assert.InDelta(t, 0.3*0.9, loser4.Strength, 1e-12)
}

func TestCompetePreservesOrdering(t *testing.T) {
	cl := newCompetitor(t)
	m := assoc.NewMatrix(nil)
	m.AddAssociation(assoc.NewEdge(1, 2, assoc.Causal, 0.7))
	m.AddAssociation(assoc.NewEdge(1, 3, assoc.Causal, 0.5))
	m.AddAssociation(assoc.NewEdge(1, 4, assoc.Causal, 0.3))

	for i := 0; i < 10; i++ {
		cl.Compete(m, 1, CompeteOutgoing)
	}

	a, _ := m.GetAssociation(1, 2)
	b, _ := m.GetAssociation(1, 3)
	c, _ := m.GetAssociation(1, 4)
	assert.Greater(t, a.Strength, b.Strength, "the pre-competition maximum stays the maximum")
	assert.Greater(t, b.Strength, c.Strength)
}

func TestCompeteNoOpBelowMinimum(t *testing.T) {
	cl := newCompetitor(t)
	m := assoc.NewMatrix(nil)
	m.AddAssociation(assoc.NewEdge(1, 2, assoc.Causal, 0.6))

	assert.False(t, cl.Compete(m, 1, CompeteOutgoing), "one edge has nothing to compete with")
	snap, _ := m.GetAssociation(1, 2)
	assert.InDelta(t, 0.6, snap.Strength, 1e-12)

	assert.False(t, cl.Compete(m, 99, CompeteOutgoing), "unknown pattern")
}

func TestCompeteThresholdExcludesWeakEdges(t *testing.T) {
	cl := newCompetitor(t)
	m := assoc.NewMatrix(nil)
	m.AddAssociation(assoc.NewEdge(1, 2, assoc.Causal, 0.6))
	m.AddAssociation(assoc.NewEdge(1, 3, assoc.Causal, 0.4))
	m.AddAssociation(assoc.NewEdge(1, 4, assoc.Causal, 0.05)) // below MinStrengthThreshold

	require.True(t, cl.Compete(m, 1, CompeteOutgoing))

	weak, _ := m.GetAssociation(1, 4)
	assert.InDelta(t, 0.05, weak.Strength, 1e-12, "excluded edges are untouched")
}

func TestCompeteByType(t *testing.T) {
	cl := newCompetitor(t)
	m := assoc.NewMatrix(nil)
	m.AddAssociation(assoc.NewEdge(1, 2, assoc.Causal, 0.6))
	m.AddAssociation(assoc.NewEdge(1, 3, assoc.Causal, 0.4))
	m.AddAssociation(assoc.NewEdge(1, 4, assoc.Spatial, 0.5))

	require.True(t, cl.CompeteByType(m, 1, CompeteOutgoing, assoc.Causal))

	spatial, _ := m.GetAssociation(1, 4)
	assert.InDelta(t, 0.5, spatial.Strength, 1e-12, "other types never suppressed")

	// A single spatial edge cannot compete by itself.
	assert.False(t, cl.CompeteByType(m, 1, CompeteOutgoing, assoc.Spatial))
}

func TestCompeteIncomingScope(t *testing.T) {
	cl := newCompetitor(t)
	m := assoc.NewMatrix(nil)
	m.AddAssociation(assoc.NewEdge(2, 1, assoc.Causal, 0.6))
	m.AddAssociation(assoc.NewEdge(3, 1, assoc.Causal, 0.4))

	require.True(t, cl.Compete(m, 1, CompeteIncoming))

	winner, _ := m.GetAssociation(2, 1)
	assert.Greater(t, winner.Strength, 0.6)
	loser, _ := m.GetAssociation(3, 1)
	assert.Less(t, loser.Strength, 0.4)

	assert.False(t, cl.Compete(m, 1, CompeteOutgoing), "no outgoing edges to compete")
}
