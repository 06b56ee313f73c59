package embed

import (
	"context"
	"fmt"
	"sync"
)

// EmbedderFactory constructs the real embedder on first use. Construction may
// be slow (Ollama health check, dimension probe), which is why it is deferred
// until a search or indexing call actually needs vectors.
type EmbedderFactory func(ctx context.Context) (Embedder, error)

// LazyEmbedder defers backend construction until the first embedding call.
// Concurrent first calls share a single construction attempt; a failed
// attempt is retried on the next call rather than cached.
type LazyEmbedder struct {
	factory EmbedderFactory

	// fallbackDims and fallbackModel are reported before the backend exists,
	// so index geometry can be planned without forcing a load.
	fallbackDims  int
	fallbackModel string

	mu      sync.Mutex
	inner   Embedder
	loading bool
	pending chan struct{}
	closed  bool
}

var _ Embedder = (*LazyEmbedder)(nil)

// NewLazyEmbedder wraps a factory. dims and model are reported by
// Dimensions/ModelName until the backend has been constructed.
func NewLazyEmbedder(factory EmbedderFactory, dims int, model string) *LazyEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &LazyEmbedder{
		factory:       factory,
		fallbackDims:  dims,
		fallbackModel: model,
	}
}

// ensure returns the constructed backend, building it if needed. Only one
// construction runs at a time; waiters either adopt its result or start a
// fresh attempt if it failed.
func (l *LazyEmbedder) ensure(ctx context.Context) (Embedder, error) {
	for {
		l.mu.Lock()
		switch {
		case l.closed:
			l.mu.Unlock()
			return nil, fmt.Errorf("embedder is closed")

		case l.inner != nil:
			inner := l.inner
			l.mu.Unlock()
			return inner, nil

		case l.loading:
			done := l.pending
			l.mu.Unlock()
			select {
			case <-done:
				// Loop: either the attempt succeeded and inner is set, or it
				// failed and this caller starts its own attempt.
			case <-ctx.Done():
				return nil, ctx.Err()
			}

		default:
			l.loading = true
			done := make(chan struct{})
			l.pending = done
			l.mu.Unlock()

			inner, err := l.factory(ctx)

			l.mu.Lock()
			l.loading = false
			if err == nil {
				l.inner = inner
			}
			close(done)
			l.mu.Unlock()

			if err != nil {
				return nil, fmt.Errorf("embedder construction failed: %w", err)
			}
			return inner, nil
		}
	}
}

// Embed constructs the backend if needed, then delegates.
func (l *LazyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	inner, err := l.ensure(ctx)
	if err != nil {
		return nil, err
	}
	return inner.Embed(ctx, text)
}

// EmbedBatch constructs the backend if needed, then delegates.
func (l *LazyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	inner, err := l.ensure(ctx)
	if err != nil {
		return nil, err
	}
	return inner.EmbedBatch(ctx, texts)
}

// Dimensions reports the constructed backend's dimension, or the configured
// fallback before construction.
func (l *LazyEmbedder) Dimensions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inner != nil {
		return l.inner.Dimensions()
	}
	return l.fallbackDims
}

// ModelName reports the constructed backend's model, or the configured
// fallback before construction.
func (l *LazyEmbedder) ModelName() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inner != nil {
		return l.inner.ModelName()
	}
	return l.fallbackModel
}

// Available reports the constructed backend's availability. An unconstructed
// lazy embedder reports true: availability is only known after a load, and
// claiming unavailability would disable semantic search preemptively.
func (l *LazyEmbedder) Available(ctx context.Context) bool {
	l.mu.Lock()
	inner := l.inner
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return false
	}
	if inner == nil {
		return true
	}
	return inner.Available(ctx)
}

// Close closes the backend if it was ever constructed.
func (l *LazyEmbedder) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.inner != nil {
		return l.inner.Close()
	}
	return nil
}
