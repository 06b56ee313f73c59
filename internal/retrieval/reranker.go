package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
)

// MaxShortlist caps how many fused candidates are eligible for pairwise
// scoring in one rerank call. Cross-encoder inference is the slowest stage of
// the pipeline; the cap bounds worst-case latency.
const MaxShortlist = 120

// PairModel scores a (query, document) pair jointly. Implementations are
// expected to return a relevance value, ideally in [0,1]; the reranker clamps
// and sanitizes whatever comes back.
type PairModel interface {
	ScorePair(ctx context.Context, query, document string) (float64, error)
}

// ModelLoader constructs the pairwise model on first use. Loading may be slow
// (model download, process spawn, remote health check); the Reranker
// guarantees at most one load is in flight at a time.
type ModelLoader func(ctx context.Context) (PairModel, error)

// loadState tracks the lazy-load state machine:
// unloaded -> loading -> ready | failed. A failed load is retried by the next
// scoring call rather than being cached forever.
type loadState int

const (
	stateUnloaded loadState = iota
	stateLoading
	stateReady
	stateFailed
)

// Reranker re-scores a shortlist of candidates with a lazily-loaded pairwise
// relevance model. Scores are cached per normalized-query fingerprint for the
// lifetime of the Reranker, so repeated or warmed queries skip inference.
//
// Unlike providers, reranker failures propagate to the caller: the caller is
// contractually expected to fall back to the pre-rerank ordering.
type Reranker struct {
	loader ModelLoader

	mu      sync.Mutex
	state   loadState
	model   PairModel
	loadErr error
	pending chan struct{} // closed when the in-flight load settles

	cacheMu sync.Mutex
	cache   map[string]map[string]float64 // fingerprint -> item key -> score
}

// RerankOptions configures one rerank call.
type RerankOptions struct {
	// Limit is the number of items to return.
	Limit int

	// Shortlist is how many leading items are scored. Raised to Limit if
	// smaller, capped at MaxShortlist.
	Shortlist int
}

// NewReranker creates a reranker around the given model loader.
func NewReranker(loader ModelLoader) *Reranker {
	return &Reranker{
		loader: loader,
		cache:  make(map[string]map[string]float64),
	}
}

// Fingerprint returns the cache key for a query: whitespace runs collapsed,
// ends trimmed, then hashed. Queries differing only in incidental whitespace
// share a cache bucket.
func Fingerprint(query string) string {
	normalized := strings.Join(strings.Fields(query), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// ensureLoaded returns the ready model, triggering or awaiting a load as
// needed. Concurrent callers share one in-flight attempt; only the winner of
// the unloaded->loading transition invokes the loader.
func (r *Reranker) ensureLoaded(ctx context.Context) (PairModel, error) {
	for {
		r.mu.Lock()
		switch r.state {
		case stateReady:
			model := r.model
			r.mu.Unlock()
			return model, nil

		case stateLoading:
			done := r.pending
			r.mu.Unlock()
			select {
			case <-done:
				// Re-check: the settled attempt may have failed, in which
				// case this caller starts a fresh one.
				r.mu.Lock()
				if r.state == stateReady {
					model := r.model
					r.mu.Unlock()
					return model, nil
				}
				err := r.loadErr
				r.mu.Unlock()
				return nil, fmt.Errorf("rerank model load failed: %w", err)
			case <-ctx.Done():
				return nil, ctx.Err()
			}

		default: // stateUnloaded or stateFailed: this caller owns the load
			r.state = stateLoading
			done := make(chan struct{})
			r.pending = done
			r.mu.Unlock()

			model, err := r.loader(ctx)

			r.mu.Lock()
			if err != nil {
				r.state = stateFailed
				r.loadErr = err
				r.model = nil
			} else {
				r.state = stateReady
				r.model = model
				r.loadErr = nil
			}
			close(done)
			r.mu.Unlock()

			if err != nil {
				return nil, fmt.Errorf("rerank model load failed: %w", err)
			}
			return model, nil
		}
	}
}

// cachedScore returns the cached score for (fingerprint, key) if present.
func (r *Reranker) cachedScore(fingerprint, key string) (float64, bool) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	bucket, ok := r.cache[fingerprint]
	if !ok {
		return 0, false
	}
	score, ok := bucket[key]
	return score, ok
}

// storeScore records a computed score. Entries are never evicted; the cache
// is session-scoped and additive-only.
func (r *Reranker) storeScore(fingerprint, key string, score float64) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	bucket, ok := r.cache[fingerprint]
	if !ok {
		bucket = make(map[string]float64)
		r.cache[fingerprint] = bucket
	}
	bucket[key] = score
}

// scorePair runs the model on one (query, item) pair and sanitizes the
// output: non-finite values become 0, everything is clamped to [0,1].
func (r *Reranker) scorePair(ctx context.Context, model PairModel, query string, item *CandidateItem) (float64, error) {
	document := item.Path + "\n" + item.Excerpt
	score, err := model.ScorePair(ctx, query, document)
	if err != nil {
		return 0, fmt.Errorf("score pair %q: %w", item.Key, err)
	}
	return clampScore(score), nil
}

func clampScore(score float64) float64 {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Warm precomputes scores for up to shortlistSize items that are not already
// cached for the query's fingerprint. Best effort: the first load or scoring
// failure silently stops further warming without raising to the caller.
func (r *Reranker) Warm(ctx context.Context, query Query, items []*CandidateItem, shortlistSize int) {
	if shortlistSize <= 0 || len(items) == 0 {
		return
	}
	if shortlistSize > MaxShortlist {
		shortlistSize = MaxShortlist
	}
	if shortlistSize > len(items) {
		shortlistSize = len(items)
	}

	fingerprint := Fingerprint(query.Text)

	var model PairModel
	for _, item := range items[:shortlistSize] {
		if _, ok := r.cachedScore(fingerprint, item.Key); ok {
			continue
		}
		if model == nil {
			loaded, err := r.ensureLoaded(ctx)
			if err != nil {
				slog.Debug("rerank warm aborted",
					slog.String("error", err.Error()))
				return
			}
			model = loaded
		}
		score, err := r.scorePair(ctx, model, query.Text, item)
		if err != nil {
			slog.Debug("rerank warm stopped",
				slog.String("key", item.Key),
				slog.String("error", err.Error()))
			return
		}
		r.storeScore(fingerprint, item.Key, score)
	}
}

// Rerank scores the leading shortlist of items against the query and returns
// the top opts.Limit by rerank score. Cache misses are computed and cached;
// cache hits never touch the model. Load and scoring failures propagate.
//
// Returned items are copies with Source = rerank, a "rerank" reason tag, and
// Score replaced by the model's relevance; ties break by the pre-rerank
// score, then by key.
func (r *Reranker) Rerank(ctx context.Context, query Query, items []*CandidateItem, opts RerankOptions) ([]*CandidateItem, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = len(items)
	}
	shortlist := opts.Shortlist
	if shortlist < limit {
		shortlist = limit
	}
	if shortlist > MaxShortlist {
		shortlist = MaxShortlist
	}
	if shortlist > len(items) {
		shortlist = len(items)
	}
	if shortlist == 0 {
		return []*CandidateItem{}, nil
	}

	fingerprint := Fingerprint(query.Text)

	type scored struct {
		item     *CandidateItem
		score    float64
		preScore float64
	}
	results := make([]scored, 0, shortlist)

	var model PairModel
	for _, item := range items[:shortlist] {
		score, ok := r.cachedScore(fingerprint, item.Key)
		if !ok {
			if model == nil {
				loaded, err := r.ensureLoaded(ctx)
				if err != nil {
					return nil, err
				}
				model = loaded
			}
			computed, err := r.scorePair(ctx, model, query.Text, item)
			if err != nil {
				return nil, err
			}
			score = computed
			r.storeScore(fingerprint, item.Key, score)
		}
		results = append(results, scored{item: item, score: score, preScore: item.Score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		if results[i].preScore != results[j].preScore {
			return results[i].preScore > results[j].preScore
		}
		return results[i].item.Key < results[j].item.Key
	})

	if len(results) > limit {
		results = results[:limit]
	}

	out := make([]*CandidateItem, len(results))
	for i, s := range results {
		item := s.item.Clone()
		item.Score = s.score
		item.Source = SourceRerank
		item.AddTag("rerank")
		out[i] = item
	}
	return out, nil
}
