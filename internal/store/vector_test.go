package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVectorStore(t *testing.T, dims int) *HNSWStore {
	t.Helper()
	s, err := NewHNSWStore(DefaultVectorStoreConfig(dims))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestHNSWStore_AddAndSearch(t *testing.T) {
	s := newTestVectorStore(t, 3)
	ctx := context.Background()

	err := s.Add(ctx,
		[]string{"a", "b", "c"},
		[][]float32{{1, 0, 0}, {0, 1, 0}, {0.9, 0.1, 0}})
	require.NoError(t, err)
	assert.Equal(t, 3, s.Count())

	results, err := s.Search(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "c", results[1].ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestHNSWStore_DimensionMismatch(t *testing.T) {
	s := newTestVectorStore(t, 3)
	ctx := context.Background()

	err := s.Add(ctx, []string{"a"}, [][]float32{{1, 0}})
	var dimErr ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 3, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Got)

	_, err = s.Search(ctx, []float32{1, 0}, 1)
	assert.ErrorAs(t, err, &dimErr)
}

func TestHNSWStore_VectorLookup(t *testing.T) {
	s := newTestVectorStore(t, 2)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, []string{"a"}, [][]float32{{3, 4}}))

	vec, ok := s.Vector("a")
	require.True(t, ok)
	require.Len(t, vec, 2)
	// Stored normalized: (3,4) -> (0.6, 0.8).
	assert.InDelta(t, 0.6, float64(vec[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(vec[1]), 1e-6)

	_, ok = s.Vector("missing")
	assert.False(t, ok)
}

func TestHNSWStore_ReplaceExistingID(t *testing.T) {
	s := newTestVectorStore(t, 2)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, []string{"a"}, [][]float32{{1, 0}}))
	require.NoError(t, s.Add(ctx, []string{"a"}, [][]float32{{0, 1}}))
	assert.Equal(t, 1, s.Count())

	results, err := s.Search(ctx, []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
	assert.InDelta(t, 1.0, float64(results[0].Score), 1e-5)
}

func TestHNSWStore_Delete(t *testing.T) {
	s := newTestVectorStore(t, 2)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, []string{"a", "b"}, [][]float32{{1, 0}, {0, 1}}))
	require.NoError(t, s.Delete(ctx, []string{"a"}))

	assert.Equal(t, 1, s.Count())
	assert.False(t, s.Contains("a"))
	assert.True(t, s.Contains("b"))

	// Lazy-deleted nodes never surface in results.
	results, err := s.Search(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "a", r.ID)
	}
}

func TestHNSWStore_EmptySearch(t *testing.T) {
	s := newTestVectorStore(t, 2)
	results, err := s.Search(context.Background(), []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHNSWStore_SaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.hnsw")
	ctx := context.Background()

	s := newTestVectorStore(t, 2)
	require.NoError(t, s.Add(ctx, []string{"a", "b"}, [][]float32{{1, 0}, {0, 1}}))
	require.NoError(t, s.Save(path))

	dims, err := ReadHNSWStoreDimensions(path)
	require.NoError(t, err)
	assert.Equal(t, 2, dims)

	loaded, err := NewHNSWStore(DefaultVectorStoreConfig(2))
	require.NoError(t, err)
	defer loaded.Close()
	require.NoError(t, loaded.Load(path))

	assert.Equal(t, 2, loaded.Count())
	vec, ok := loaded.Vector("a")
	require.True(t, ok)
	assert.InDelta(t, 1.0, float64(vec[0]), 1e-6)

	results, err := loaded.Search(ctx, []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)
}

func TestReadHNSWStoreDimensions_FreshStart(t *testing.T) {
	dims, err := ReadHNSWStoreDimensions(filepath.Join(t.TempDir(), "missing.hnsw"))
	require.NoError(t, err)
	assert.Zero(t, dims)
}

func TestHNSWStore_InvalidConfig(t *testing.T) {
	_, err := NewHNSWStore(VectorStoreConfig{Dimensions: 0})
	assert.Error(t, err)
}
