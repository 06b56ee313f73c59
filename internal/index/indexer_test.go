package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-dev/inkwell/internal/embed"
	"github.com/inkwell-dev/inkwell/internal/store"
	"github.com/inkwell-dev/inkwell/internal/vault"
)

type testIndex struct {
	root     string
	indexer  *Indexer
	passages *store.SQLitePassageStore
	lexical  *store.BleveLexicalIndex
	vectors  *store.HNSWStore
	embedder embed.Embedder
}

func newTestIndex(t *testing.T) *testIndex {
	t.Helper()
	root := t.TempDir()

	passages, err := store.NewSQLitePassageStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = passages.Close() })

	lexical, err := store.NewBleveLexicalIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = lexical.Close() })

	embedder := embed.NewStaticEmbedder()
	vectors, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(embedder.Dimensions()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	return &testIndex{
		root: root,
		indexer: NewIndexer(Config{
			Scanner:  vault.NewScanner(vault.ScanOptions{Root: root}),
			Embedder: embedder,
			Passages: passages,
			Lexical:  lexical,
			Vectors:  vectors,
		}),
		passages: passages,
		lexical:  lexical,
		vectors:  vectors,
		embedder: embedder,
	}
}

func (ti *testIndex) write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(ti.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestIndexer_FullReindex(t *testing.T) {
	ti := newTestIndex(t)
	ctx := context.Background()

	ti.write(t, "chapters/ch01.md", "# The Harbor\n\nThe lighthouse keeper watched the storm roll in.\n")
	ti.write(t, "characters/elara.md", "Captain Elara commands the Meridian with a steady hand.\n")

	stats, err := ti.indexer.Reindex(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.NotesScanned)
	assert.Equal(t, 2, stats.NotesIndexed)
	assert.Equal(t, 2, stats.PassagesIndexed)

	notes, passages, err := ti.passages.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, notes)
	assert.Equal(t, 2, passages)

	docs, err := ti.lexical.DocCount()
	require.NoError(t, err)
	assert.Equal(t, 2, docs)
	assert.Equal(t, 2, ti.vectors.Count())

	model, err := ti.passages.GetState(ctx, store.StateKeyIndexModel)
	require.NoError(t, err)
	assert.Equal(t, ti.embedder.ModelName(), model)
}

func TestIndexer_SkipsUnchangedNotes(t *testing.T) {
	ti := newTestIndex(t)
	ctx := context.Background()

	ti.write(t, "ch01.md", "The tide came in at dawn over the flats.\n")
	_, err := ti.indexer.Reindex(ctx, false)
	require.NoError(t, err)

	stats, err := ti.indexer.Reindex(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NotesScanned)
	assert.Zero(t, stats.NotesIndexed)

	forced, err := ti.indexer.Reindex(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, forced.NotesIndexed)
}

func TestIndexer_RemovesDeletedNotes(t *testing.T) {
	ti := newTestIndex(t)
	ctx := context.Background()

	ti.write(t, "ch01.md", "A chapter destined for deletion, full of doomed prose.\n")
	_, err := ti.indexer.Reindex(ctx, false)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(ti.root, "ch01.md")))
	stats, err := ti.indexer.Reindex(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NotesRemoved)

	notes, passages, err := ti.passages.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, notes)
	assert.Zero(t, passages)

	docs, err := ti.lexical.DocCount()
	require.NoError(t, err)
	assert.Zero(t, docs)
	assert.Zero(t, ti.vectors.Count())
}

func TestIndexer_ModifiedNoteReplacesPassages(t *testing.T) {
	ti := newTestIndex(t)
	ctx := context.Background()

	ti.write(t, "ch01.md", "The first draft wandered the harbor without purpose.\n")
	_, err := ti.indexer.Reindex(ctx, false)
	require.NoError(t, err)

	ti.write(t, "ch01.md", "The second draft found the mountain pass instead.\n")
	stats, err := ti.indexer.Reindex(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NotesIndexed)

	hits, err := ti.lexical.Search(ctx, "mountain pass", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	hits, err = ti.lexical.Search(ctx, "harbor", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Equal(t, 1, ti.vectors.Count())
}

func TestIndexer_ApplyEvents(t *testing.T) {
	ti := newTestIndex(t)
	ctx := context.Background()

	ti.write(t, "ch01.md", "A fresh chapter arrives by way of the watcher.\n")
	stats, err := ti.indexer.ApplyEvents(ctx, []vault.NoteEvent{
		{Path: "ch01.md", Op: vault.OpCreate, Timestamp: time.Now()},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NotesIndexed)

	// Unchanged content on a modify event is a no-op.
	stats, err = ti.indexer.ApplyEvents(ctx, []vault.NoteEvent{
		{Path: "ch01.md", Op: vault.OpModify, Timestamp: time.Now()},
	})
	require.NoError(t, err)
	assert.Zero(t, stats.NotesIndexed)

	require.NoError(t, os.Remove(filepath.Join(ti.root, "ch01.md")))
	stats, err = ti.indexer.ApplyEvents(ctx, []vault.NoteEvent{
		{Path: "ch01.md", Op: vault.OpDelete, Timestamp: time.Now()},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NotesRemoved)

	notes, _, err := ti.passages.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, notes)
}

func TestIndexer_ApplyEvents_MissingFileSkipped(t *testing.T) {
	ti := newTestIndex(t)

	stats, err := ti.indexer.ApplyEvents(context.Background(), []vault.NoteEvent{
		{Path: "never-existed.md", Op: vault.OpCreate, Timestamp: time.Now()},
		{Path: "never-existed.md", Op: vault.OpDelete, Timestamp: time.Now()},
	})
	require.NoError(t, err)
	assert.Zero(t, stats.NotesIndexed)
	assert.Zero(t, stats.NotesRemoved)
}

func TestIndexer_CompatibilityCheck(t *testing.T) {
	ti := newTestIndex(t)
	ctx := context.Background()

	ti.write(t, "ch01.md", "Some prose to establish the index state records.\n")
	_, err := ti.indexer.Reindex(ctx, false)
	require.NoError(t, err)
	assert.NoError(t, ti.indexer.CheckCompatibility(ctx))

	require.NoError(t, ti.passages.SetState(ctx, store.StateKeyIndexModel, "some-other-model"))

	_, err = ti.indexer.Reindex(ctx, false)
	var incompat ErrIndexIncompatible
	require.ErrorAs(t, err, &incompat)
	assert.Equal(t, "some-other-model", incompat.StoredModel)

	_, err = ti.indexer.Reindex(ctx, true)
	assert.NoError(t, err)
	assert.NoError(t, ti.indexer.CheckCompatibility(ctx))
}

func TestIndexer_SavesVectorStore(t *testing.T) {
	ti := newTestIndex(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.hnsw")
	ti.indexer.cfg.VectorPath = path

	ti.write(t, "ch01.md", "Persistent prose that should survive a restart.\n")
	_, err := ti.indexer.Reindex(ctx, false)
	require.NoError(t, err)

	dims, err := store.ReadHNSWStoreDimensions(path)
	require.NoError(t, err)
	assert.Equal(t, ti.embedder.Dimensions(), dims)
}

// countingEmbedder tallies how many texts were actually embedded.
type countingEmbedder struct {
	embed.Embedder
	embedded int
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.embedded += len(texts)
	return c.Embedder.EmbedBatch(ctx, texts)
}

func TestIndexer_ForceReembedsUnchangedPassages(t *testing.T) {
	ti := newTestIndex(t)
	counting := &countingEmbedder{Embedder: ti.embedder}
	ti.indexer.cfg.Embedder = counting
	ctx := context.Background()

	ti.write(t, "ch01.md", "The caravel slipped into the harbor under a red dawn sky.\n")
	_, err := ti.indexer.Reindex(ctx, false)
	require.NoError(t, err)
	first := counting.embedded
	require.Positive(t, first)

	_, err = ti.indexer.Reindex(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, first, counting.embedded, "unchanged notes should not re-embed")

	// Passage IDs derive from path and content, so after a model switch
	// every ID still has a (stale) vector. Force must re-embed them all.
	_, err = ti.indexer.Reindex(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2*first, counting.embedded)
}

// resizedEmbedder reports a different dimension than the store was built
// with, standing in for an embedding model switch.
type resizedEmbedder struct {
	embed.Embedder
	dims int
}

func (r *resizedEmbedder) Dimensions() int   { return r.dims }
func (r *resizedEmbedder) ModelName() string { return "resized" }

func (r *resizedEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, r.dims)
		out[i][0] = 1
	}
	return out, nil
}

func TestIndexer_ForceSurfacesDimensionMismatch(t *testing.T) {
	ti := newTestIndex(t)
	ctx := context.Background()

	ti.write(t, "ch01.md", "Prose indexed at the original dimension.\n")
	_, err := ti.indexer.Reindex(ctx, false)
	require.NoError(t, err)

	ti.indexer.cfg.Embedder = &resizedEmbedder{
		Embedder: ti.embedder,
		dims:     ti.embedder.Dimensions() * 2,
	}

	// The vector store still has the old geometry. The forced pass must
	// surface the mismatch, not record the new model over stale vectors.
	_, err = ti.indexer.Reindex(ctx, true)
	var mismatch store.ErrDimensionMismatch
	require.ErrorAs(t, err, &mismatch)

	model, err := ti.passages.GetState(ctx, store.StateKeyIndexModel)
	require.NoError(t, err)
	assert.Equal(t, ti.embedder.ModelName(), model)
}
