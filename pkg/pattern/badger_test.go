package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBadger(t *testing.T) *BadgerDatabase {
	t.Helper()
	db, err := NewBadgerDatabase(BadgerOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBadgerStoreRetrieve(t *testing.T) {
	db := newTestBadger(t)

	p := &Pattern{
		ID:             42,
		Features:       FeatureVector{0.1, 0.7},
		Confidence:     0.9,
		ContextProfile: map[string]float64{"task": 1},
		Members:        []PatternID{3, 5},
	}
	require.NoError(t, db.Store(p))

	got, err := db.Retrieve(42)
	require.NoError(t, err)
	assert.Equal(t, PatternID(42), got.ID)
	assert.Equal(t, p.Features, got.Features)
	assert.InDelta(t, 0.9, got.Confidence, 1e-12)
	assert.Equal(t, p.Members, got.Members)

	assert.ErrorIs(t, db.Store(&Pattern{ID: 42}), ErrAlreadyExists)
}

func TestBadgerUpdateDelete(t *testing.T) {
	db := newTestBadger(t)

	assert.ErrorIs(t, db.Update(&Pattern{ID: 1}), ErrNotFound)

	require.NoError(t, db.Store(&Pattern{ID: 1, Confidence: 0.5}))
	require.NoError(t, db.Update(&Pattern{ID: 1, Confidence: 0.8}))
	got, err := db.Retrieve(1)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, got.Confidence, 1e-12)

	require.NoError(t, db.Delete(1))
	assert.NoError(t, db.Delete(1), "unknown delete is a no-op")
	_, err = db.Retrieve(1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadgerCountAndIDs(t *testing.T) {
	db := newTestBadger(t)

	for i := 1; i <= 3; i++ {
		require.NoError(t, db.Store(&Pattern{ID: PatternID(i)}))
	}
	assert.Equal(t, int64(3), db.Count())
	assert.ElementsMatch(t, []PatternID{1, 2, 3}, db.IDs())
}

func TestBadgerPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	db, err := NewBadgerDatabase(BadgerOptions{DataDir: dir})
	require.NoError(t, err)
	require.NoError(t, db.Store(&Pattern{ID: 7, Confidence: 0.6}))
	require.NoError(t, db.Close())

	reopened, err := NewBadgerDatabase(BadgerOptions{DataDir: dir})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Retrieve(7)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, got.Confidence, 1e-12)
}

func TestBadgerClosed(t *testing.T) {
	db := newTestBadger(t)
	require.NoError(t, db.Close())

	assert.ErrorIs(t, db.Store(&Pattern{ID: 1}), ErrClosed)
	_, err := db.Retrieve(1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, db.Close(), "double close is safe")
}
