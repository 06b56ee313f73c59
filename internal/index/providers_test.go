package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-dev/inkwell/internal/retrieval"
	"github.com/inkwell-dev/inkwell/internal/store"
)

func seedVault(t *testing.T, ti *testIndex) {
	t.Helper()
	ti.write(t, "chapters/ch01.md", "The lighthouse keeper watched the storm roll in from the sea.\n")
	ti.write(t, "chapters/ch02.md", "The caravan crossed the dunes under a copper sky.\n")
	ti.write(t, "characters/elara.md", "Captain Elara watched the storm from the Meridian's deck.\n")
	_, err := ti.indexer.Reindex(context.Background(), false)
	require.NoError(t, err)
}

func TestLexicalProvider_Search(t *testing.T) {
	ti := newTestIndex(t)
	seedVault(t, ti)

	p := NewLexicalProvider(ti.lexical, ti.passages)
	assert.Equal(t, LexicalProviderID, p.ID())
	assert.Equal(t, retrieval.KindLexical, p.Kind())

	items, err := p.Search(context.Background(), retrieval.Query{Text: "lighthouse storm"}, 10)
	require.NoError(t, err)
	require.NotEmpty(t, items)

	top := items[0]
	assert.Equal(t, "chapters/ch01.md", top.Path)
	assert.Contains(t, top.Excerpt, "lighthouse keeper")
	assert.Equal(t, retrieval.SourceHeuristic, top.Source)
	assert.Equal(t, []string{"heuristic"}, top.ReasonTags)
	assert.Greater(t, top.Score, 0.0)
}

func TestLexicalProvider_TypeFilter(t *testing.T) {
	ti := newTestIndex(t)
	seedVault(t, ti)

	p := NewLexicalProvider(ti.lexical, ti.passages)
	query := retrieval.Query{
		Text:    "watched the storm",
		Filters: map[string]string{FilterType: string(store.NoteTypeCharacter)},
	}
	items, err := p.Search(context.Background(), query, 10)
	require.NoError(t, err)
	require.NotEmpty(t, items)
	for _, item := range items {
		assert.Equal(t, "characters/elara.md", item.Path)
	}
}

func TestLexicalProvider_NoMatches(t *testing.T) {
	ti := newTestIndex(t)
	seedVault(t, ti)

	p := NewLexicalProvider(ti.lexical, ti.passages)
	items, err := p.Search(context.Background(), retrieval.Query{Text: "zeppelin"}, 10)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestSemanticProvider_Search(t *testing.T) {
	ti := newTestIndex(t)
	seedVault(t, ti)

	p := NewSemanticProvider(ti.embedder, ti.vectors, ti.passages)
	assert.Equal(t, SemanticProviderID, p.ID())
	assert.Equal(t, retrieval.KindSemantic, p.Kind())

	items, err := p.Search(context.Background(), retrieval.Query{Text: "caravan crossing the dunes"}, 2)
	require.NoError(t, err)
	require.NotEmpty(t, items)

	top := items[0]
	assert.Equal(t, "chapters/ch02.md", top.Path)
	assert.Equal(t, retrieval.SourceSemantic, top.Source)
	assert.Equal(t, []string{"semantic"}, top.ReasonTags)
}

func TestSemanticProvider_VectorLookup(t *testing.T) {
	ti := newTestIndex(t)
	seedVault(t, ti)

	p := NewSemanticProvider(ti.embedder, ti.vectors, ti.passages)
	items, err := p.Search(context.Background(), retrieval.Query{Text: "storm"}, 1)
	require.NoError(t, err)
	require.NotEmpty(t, items)

	vec, ok := p.Vectors()(items[0].Key)
	assert.True(t, ok)
	assert.Len(t, vec, ti.embedder.Dimensions())
}

func TestProviders_DriveRetrievalEngine(t *testing.T) {
	ti := newTestIndex(t)
	seedVault(t, ti)

	semantic := NewSemanticProvider(ti.embedder, ti.vectors, ti.passages)
	engine := retrieval.NewEngine(
		[]retrieval.Provider{
			NewLexicalProvider(ti.lexical, ti.passages),
			semantic,
		},
		retrieval.WithDiversity(retrieval.NewDiversitySelector(retrieval.DefaultMMRLambda, semantic.Vectors())),
	)

	items, err := engine.Search(context.Background(),
		retrieval.Query{Text: "storm over the sea"}, retrieval.Options{Limit: 3})
	require.NoError(t, err)
	require.NotEmpty(t, items)
	for _, item := range items {
		assert.NotEmpty(t, item.Excerpt)
		assert.NotEmpty(t, item.Path)
	}
}
