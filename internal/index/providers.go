// Package index keeps the search stores in sync with the vault and exposes
// them to the retrieval pipeline. The providers adapt the lexical index and
// vector store to the retrieval.Provider contract; the Indexer runs the
// scan, chunk, embed, store pipeline behind them.
package index

import (
	"context"
	"fmt"

	"github.com/inkwell-dev/inkwell/internal/embed"
	"github.com/inkwell-dev/inkwell/internal/retrieval"
	"github.com/inkwell-dev/inkwell/internal/store"
)

// Provider identifiers reported to the retrieval engine.
const (
	LexicalProviderID  = "bm25"
	SemanticProviderID = "hnsw"
)

// FilterType restricts results to one note type when present in
// Query.Filters, e.g. {"type": "character"}.
const FilterType = "type"

// LexicalProvider serves keyword candidates from the Bleve index, hydrated
// with passage content from the passage store.
type LexicalProvider struct {
	index    store.LexicalIndex
	passages store.PassageStore
}

// NewLexicalProvider creates a lexical provider over the given stores.
func NewLexicalProvider(index store.LexicalIndex, passages store.PassageStore) *LexicalProvider {
	return &LexicalProvider{index: index, passages: passages}
}

func (p *LexicalProvider) ID() string           { return LexicalProviderID }
func (p *LexicalProvider) Kind() retrieval.Kind { return retrieval.KindLexical }

// Search runs a BM25 query and hydrates hits into candidates. Hits whose
// passage row is gone (mid-reindex) are dropped.
func (p *LexicalProvider) Search(ctx context.Context, query retrieval.Query, limit int) ([]*retrieval.CandidateItem, error) {
	hits, err := p.index.Search(ctx, query.Text, limit)
	if err != nil {
		return nil, fmt.Errorf("lexical search failed: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, len(hits))
	for i, hit := range hits {
		ids[i] = hit.DocID
	}
	byID, err := hydrate(ctx, p.passages, ids)
	if err != nil {
		return nil, err
	}

	items := make([]*retrieval.CandidateItem, 0, len(hits))
	for _, hit := range hits {
		passage, ok := byID[hit.DocID]
		if !ok || !matchesFilters(passage, query.Filters) {
			continue
		}
		item := &retrieval.CandidateItem{
			Key:     passage.ID,
			Path:    passage.NotePath,
			Excerpt: passage.Content,
			Score:   hit.Score,
			Source:  retrieval.SourceHeuristic,
		}
		item.AddTag(string(retrieval.SourceHeuristic))
		items = append(items, item)
	}
	return items, nil
}

// SemanticProvider serves embedding-similarity candidates from the vector
// store.
type SemanticProvider struct {
	embedder embed.Embedder
	vectors  store.VectorStore
	passages store.PassageStore
}

// NewSemanticProvider creates a semantic provider over the given stores.
func NewSemanticProvider(embedder embed.Embedder, vectors store.VectorStore, passages store.PassageStore) *SemanticProvider {
	return &SemanticProvider{embedder: embedder, vectors: vectors, passages: passages}
}

func (p *SemanticProvider) ID() string           { return SemanticProviderID }
func (p *SemanticProvider) Kind() retrieval.Kind { return retrieval.KindSemantic }

// Search embeds the query and returns the nearest stored passages.
func (p *SemanticProvider) Search(ctx context.Context, query retrieval.Query, limit int) ([]*retrieval.CandidateItem, error) {
	vec, err := p.embedder.Embed(ctx, query.Text)
	if err != nil {
		return nil, fmt.Errorf("query embedding failed: %w", err)
	}

	hits, err := p.vectors.Search(ctx, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, len(hits))
	for i, hit := range hits {
		ids[i] = hit.ID
	}
	byID, err := hydrate(ctx, p.passages, ids)
	if err != nil {
		return nil, err
	}

	items := make([]*retrieval.CandidateItem, 0, len(hits))
	for _, hit := range hits {
		passage, ok := byID[hit.ID]
		if !ok || !matchesFilters(passage, query.Filters) {
			continue
		}
		item := &retrieval.CandidateItem{
			Key:     passage.ID,
			Path:    passage.NotePath,
			Excerpt: passage.Content,
			Score:   float64(hit.Score),
			Source:  retrieval.SourceSemantic,
		}
		item.AddTag(string(retrieval.SourceSemantic))
		items = append(items, item)
	}
	return items, nil
}

// Vectors exposes stored vectors for the diversity selector.
func (p *SemanticProvider) Vectors() retrieval.VectorLookup {
	return p.vectors.Vector
}

func hydrate(ctx context.Context, passages store.PassageStore, ids []string) (map[string]*store.Passage, error) {
	rows, err := passages.GetPassages(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("passage hydration failed: %w", err)
	}
	byID := make(map[string]*store.Passage, len(rows))
	for _, p := range rows {
		byID[p.ID] = p
	}
	return byID, nil
}

func matchesFilters(p *store.Passage, filters map[string]string) bool {
	want, ok := filters[FilterType]
	if !ok || want == "" {
		return true
	}
	return string(p.Type) == want
}
