package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLexicalIndex(t *testing.T) *BleveLexicalIndex {
	t.Helper()
	idx, err := NewBleveLexicalIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestBleveLexicalIndex_IndexAndSearch(t *testing.T) {
	idx := newTestLexicalIndex(t)
	ctx := context.Background()

	docs := []*Document{
		{ID: "p1", Content: "The lighthouse keeper watched the storm roll in from the sea."},
		{ID: "p2", Content: "Captain Elara studied the charts in the dim cabin light."},
		{ID: "p3", Content: "The marketplace bustled with merchants selling silk and spice."},
	}
	require.NoError(t, idx.Index(ctx, docs))

	count, err := idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	results, err := idx.Search(ctx, "lighthouse storm", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "p1", results[0].DocID)
	assert.Greater(t, results[0].Score, 0.0)
	assert.NotEmpty(t, results[0].MatchedTerms)
}

func TestBleveLexicalIndex_Reindex(t *testing.T) {
	idx := newTestLexicalIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, []*Document{{ID: "p1", Content: "old draft about harbors"}}))
	require.NoError(t, idx.Index(ctx, []*Document{{ID: "p1", Content: "revised chapter about mountains"}}))

	count, err := idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	results, err := idx.Search(ctx, "mountains", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)

	results, err = idx.Search(ctx, "harbors", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBleveLexicalIndex_Delete(t *testing.T) {
	idx := newTestLexicalIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, []*Document{
		{ID: "p1", Content: "winter journey through the pass"},
		{ID: "p2", Content: "summer festival in the valley"},
	}))
	require.NoError(t, idx.Delete(ctx, []string{"p1"}))

	count, err := idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	results, err := idx.Search(ctx, "winter journey", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBleveLexicalIndex_EmptyQuery(t *testing.T) {
	idx := newTestLexicalIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, []*Document{{ID: "p1", Content: "some content"}}))

	for _, q := range []string{"", "   "} {
		results, err := idx.Search(ctx, q, 10)
		require.NoError(t, err)
		assert.Empty(t, results)
	}
}

func TestBleveLexicalIndex_EmptyBatchesAreNoOps(t *testing.T) {
	idx := newTestLexicalIndex(t)
	ctx := context.Background()

	assert.NoError(t, idx.Index(ctx, nil))
	assert.NoError(t, idx.Delete(ctx, nil))
}

func TestBleveLexicalIndex_ClosedRejectsCalls(t *testing.T) {
	idx := newTestLexicalIndex(t)
	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close(), "close is idempotent")

	ctx := context.Background()
	assert.Error(t, idx.Index(ctx, []*Document{{ID: "p1", Content: "x"}}))
	_, err := idx.Search(ctx, "x", 10)
	assert.Error(t, err)
	_, err = idx.DocCount()
	assert.Error(t, err)
}

func TestBleveLexicalIndex_PersistsToDisk(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/lexical.bleve"

	idx, err := NewBleveLexicalIndex(path)
	require.NoError(t, err)
	require.NoError(t, idx.Index(context.Background(), []*Document{
		{ID: "p1", Content: "the ancient library beneath the city"},
	}))
	require.NoError(t, idx.Close())

	reopened, err := NewBleveLexicalIndex(path)
	require.NoError(t, err)
	defer reopened.Close()

	results, err := reopened.Search(context.Background(), "ancient library", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "p1", results[0].DocID)
}
