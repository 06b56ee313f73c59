// Package retrieval implements the passage retrieval pipeline: candidate
// providers fan out per query, their ranked buckets are fused with Reciprocal
// Rank Fusion (RRF), the fused list is diversified with Maximal Marginal
// Relevance (MMR), and an optional cross-encoder reranker re-scores the
// shortlist with per-query score caching.
package retrieval

import (
	"context"
	"sort"
)

// Source identifies the pipeline stage that most recently set an item's score.
type Source string

const (
	// SourceHeuristic marks scores produced by a lexical (keyword) provider.
	SourceHeuristic Source = "heuristic"

	// SourceSemantic marks scores produced by an embedding-based provider.
	SourceSemantic Source = "semantic"

	// SourceFusion marks scores produced by RRF fusion.
	SourceFusion Source = "fusion"

	// SourceRerank marks scores produced by the cross-encoder reranker.
	SourceRerank Source = "rerank"
)

// Kind distinguishes the two recognized provider variants.
type Kind string

const (
	// KindLexical providers match exact terms (BM25 and similar).
	KindLexical Kind = "lexical"

	// KindSemantic providers match by embedding similarity.
	KindSemantic Kind = "semantic"
)

// CandidateItem is a single scored retrieval result.
//
// Score always reflects the most recent ranking stage applied to the item;
// earlier-stage scores are not retained except where a stage explicitly uses
// them as a tie-break.
type CandidateItem struct {
	// Key is a stable identifier, unique within one query's result set.
	Key string

	// Path is the origin location of the passage. Opaque to ranking math;
	// used for grouping and for prompt rendering downstream.
	Path string

	// Excerpt is the passage text shown to consumers and scored by the
	// reranker.
	Excerpt string

	// Score semantics depend on Source: provider relevance, fused RRF sum,
	// or rerank relevance in [0,1].
	Score float64

	// Source tags the stage that set Score.
	Source Source

	// ReasonTags accumulates stage labels across the pipeline. No
	// duplicates; order is deterministic (first-seen).
	ReasonTags []string
}

// AddTag appends a reason tag unless already present.
func (c *CandidateItem) AddTag(tag string) {
	for _, t := range c.ReasonTags {
		if t == tag {
			return
		}
	}
	c.ReasonTags = append(c.ReasonTags, tag)
}

// Clone returns a deep copy of the item.
func (c *CandidateItem) Clone() *CandidateItem {
	out := *c
	out.ReasonTags = append([]string(nil), c.ReasonTags...)
	return &out
}

// Query is the immutable input to one orchestration call.
type Query struct {
	// Text is the query text.
	Text string

	// Filters optionally restricts candidates (provider-interpreted).
	Filters map[string]string
}

// Bucket is one provider's ranked output for a query. Items are sorted
// descending by that provider's own score before fusion sees them.
type Bucket struct {
	ProviderID string
	Items      []*CandidateItem
}

// Provider produces ranked candidates for a query. Implementations are
// treated as black boxes by the orchestrator; a failing provider is isolated
// to an empty bucket rather than failing the search.
type Provider interface {
	// ID returns a stable provider identifier.
	ID() string

	// Kind reports the provider variant (lexical or semantic).
	Kind() Kind

	// Search returns up to limit candidates sorted descending by the
	// provider's own relevance score.
	Search(ctx context.Context, query Query, limit int) ([]*CandidateItem, error)
}

// Options configures one search call.
type Options struct {
	// Limit is the number of results to return, clamped to [MinLimit, MaxLimit].
	Limit int

	// DisableSemantic skips semantic providers for this call.
	DisableSemantic bool
}

// Result count and shortlist bounds.
const (
	// MinLimit is the smallest accepted result limit.
	MinLimit = 1

	// MaxLimit is the largest accepted result limit.
	MaxLimit = 200

	// CandidateMultiplier widens the provider shortlist relative to the
	// requested limit so fusion and MMR have material to work with.
	CandidateMultiplier = 8

	// MaxCandidateLimit caps the widened shortlist.
	MaxCandidateLimit = 500
)

// ClampLimit bounds a requested limit to [MinLimit, MaxLimit].
func ClampLimit(limit int) int {
	if limit < MinLimit {
		return MinLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// CandidateLimit computes the widened per-provider shortlist for a clamped
// limit: max(limit, min(500, limit*8)).
func CandidateLimit(limit int) int {
	widened := limit * CandidateMultiplier
	if widened > MaxCandidateLimit {
		widened = MaxCandidateLimit
	}
	if widened < limit {
		widened = limit
	}
	return widened
}

// sortByScore orders items descending by score with deterministic key
// tie-breaking.
func sortByScore(items []*CandidateItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].Key < items[j].Key
	})
}
