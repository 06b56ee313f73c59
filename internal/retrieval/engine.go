package retrieval

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Engine is the retrieval orchestrator: it fans a query out to the configured
// providers concurrently, fuses the non-empty buckets with RRF, and
// diversifies the fused ranking with MMR.
//
// Provider failures never abort a search; a failing provider contributes an
// empty bucket. Total emptiness is not an error either - an empty list is a
// valid terminal result. Reranking is deliberately NOT part of Search: its
// failure contract differs (errors surface), so callers invoke the Reranker
// on Search output themselves.
type Engine struct {
	providers []Provider
	fusion    *RRFFusion
	diversity *DiversitySelector
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithFusion overrides the default RRF fusion (k=60).
func WithFusion(f *RRFFusion) EngineOption {
	return func(e *Engine) {
		if f != nil {
			e.fusion = f
		}
	}
}

// WithDiversity overrides the default diversity selector (lambda=0.7, no
// vector lookup).
func WithDiversity(d *DiversitySelector) EngineOption {
	return func(e *Engine) {
		if d != nil {
			e.diversity = d
		}
	}
}

// NewEngine creates an orchestrator over the given providers. Provider order
// is preserved within each variant; lexical buckets precede semantic buckets
// during fusion, which fixes the deterministic tie-break order.
func NewEngine(providers []Provider, opts ...EngineOption) *Engine {
	e := &Engine{
		providers: providers,
		fusion:    NewRRFFusion(),
		diversity: NewDiversitySelector(DefaultMMRLambda, nil),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search executes one retrieval pass and returns at most opts.Limit items
// sorted descending by final score. The only I/O happens inside providers.
func (e *Engine) Search(ctx context.Context, query Query, opts Options) ([]*CandidateItem, error) {
	query.Text = strings.TrimSpace(query.Text)
	if query.Text == "" {
		return []*CandidateItem{}, nil
	}

	limit := ClampLimit(opts.Limit)
	candidateLimit := CandidateLimit(limit)

	active := e.partition(opts)
	if len(active) == 0 {
		return []*CandidateItem{}, nil
	}

	buckets, err := e.fanOut(ctx, active, query, candidateLimit)
	if err != nil {
		return nil, err
	}

	// Drop empty buckets.
	nonEmpty := buckets[:0]
	for _, b := range buckets {
		if len(b.Items) > 0 {
			nonEmpty = append(nonEmpty, b)
		}
	}

	switch len(nonEmpty) {
	case 0:
		return []*CandidateItem{}, nil
	case 1:
		// Single-bucket shortcut: no fusion or MMR needed, the provider's
		// own ranking stands.
		items := make([]*CandidateItem, len(nonEmpty[0].Items))
		for i, item := range nonEmpty[0].Items {
			items[i] = item.Clone()
		}
		sortByScore(items)
		if len(items) > limit {
			items = items[:limit]
		}
		return items, nil
	}

	fused := e.fusion.Fuse(nonEmpty, candidateLimit)
	selected := e.diversity.Select(fused, limit)
	sortByScore(selected)
	return selected, nil
}

// partition orders providers lexical-first and applies the semantic
// enable/disable option.
func (e *Engine) partition(opts Options) []Provider {
	lexical := make([]Provider, 0, len(e.providers))
	semantic := make([]Provider, 0, len(e.providers))
	for _, p := range e.providers {
		switch p.Kind() {
		case KindSemantic:
			if !opts.DisableSemantic {
				semantic = append(semantic, p)
			}
		default:
			lexical = append(lexical, p)
		}
	}
	return append(lexical, semantic...)
}

// fanOut invokes every provider concurrently. Each call is isolated: a
// provider error is logged and replaced with an empty bucket. The returned
// slice preserves provider order so fusion stays deterministic.
func (e *Engine) fanOut(ctx context.Context, providers []Provider, query Query, limit int) ([]*Bucket, error) {
	buckets := make([]*Bucket, len(providers))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range providers {
		g.Go(func() error {
			items, err := p.Search(gctx, query, limit)
			if err != nil {
				slog.Warn("provider failed, continuing without it",
					slog.String("provider", p.ID()),
					slog.String("kind", string(p.Kind())),
					slog.String("error", err.Error()))
				buckets[i] = &Bucket{ProviderID: p.ID()}
				return nil
			}
			buckets[i] = &Bucket{ProviderID: p.ID(), Items: items}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	// Cancellation is the one condition that does abort the search.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return buckets, nil
}
