package embed

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ProviderType selects an embedding backend.
type ProviderType string

const (
	// ProviderOllama uses the Ollama API (default).
	ProviderOllama ProviderType = "ollama"

	// ProviderStatic uses hash-based embeddings (no external dependency,
	// lower quality).
	ProviderStatic ProviderType = "static"
)

// NewEmbedder creates an embedder for the given provider. The
// INKWELL_EMBEDDER environment variable overrides the provider argument:
//   - "ollama": Ollama API backend
//   - "static": deterministic hash-based backend
//
// The result is wrapped with an LRU cache unless INKWELL_EMBED_CACHE is set
// to a falsy value.
func NewEmbedder(ctx context.Context, provider ProviderType, model string) (Embedder, error) {
	provider = resolveProvider(provider)

	var embedder Embedder
	var err error
	switch provider {
	case ProviderStatic:
		embedder = NewStaticEmbedder()
	case ProviderOllama, "":
		embedder, err = newOllama(ctx, model)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", provider)
	}
	if err != nil {
		return nil, err
	}

	if !isCacheDisabled() {
		embedder = NewCachedEmbedder(embedder, cacheSize())
	}
	return embedder, nil
}

// NewServingEmbedder creates an embedder for long-running processes. The
// Ollama backend is constructed on first use instead of at startup, so the
// server can come up while Ollama is unreachable. Honors the same
// INKWELL_EMBEDDER override as NewEmbedder.
func NewServingEmbedder(provider ProviderType, model string) (Embedder, error) {
	switch resolveProvider(provider) {
	case ProviderStatic:
		var embedder Embedder = NewStaticEmbedder()
		if !isCacheDisabled() {
			embedder = NewCachedEmbedder(embedder, cacheSize())
		}
		return embedder, nil
	case ProviderOllama, "":
		return NewLazyOllamaEmbedder(model), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", provider)
	}
}

// resolveProvider applies the INKWELL_EMBEDDER environment override.
func resolveProvider(provider ProviderType) ProviderType {
	switch strings.ToLower(os.Getenv("INKWELL_EMBEDDER")) {
	case "ollama":
		return ProviderOllama
	case "static":
		return ProviderStatic
	}
	return provider
}

// NewLazyOllamaEmbedder returns an embedder that connects to Ollama on first
// use instead of at startup, so serving can begin before Ollama is reachable.
func NewLazyOllamaEmbedder(model string) Embedder {
	name := model
	if name == "" {
		name = DefaultOllamaModel
	}
	lazy := NewLazyEmbedder(func(ctx context.Context) (Embedder, error) {
		return newOllama(ctx, model)
	}, DefaultDimensions, name)

	if !isCacheDisabled() {
		return NewCachedEmbedder(lazy, cacheSize())
	}
	return lazy
}

func newOllama(ctx context.Context, model string) (Embedder, error) {
	cfg := DefaultOllamaConfig()
	if model != "" {
		cfg.Model = model
	}
	if host := os.Getenv("INKWELL_OLLAMA_HOST"); host != "" {
		cfg.Host = host
	}
	if override := os.Getenv("INKWELL_OLLAMA_MODEL"); override != "" {
		cfg.Model = override
	}
	if timeoutStr := os.Getenv("INKWELL_OLLAMA_TIMEOUT"); timeoutStr != "" {
		if timeout, err := time.ParseDuration(timeoutStr); err == nil {
			cfg.Timeout = timeout
		}
	}

	embedder, err := NewOllamaEmbedder(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ollama unavailable: %w\n\nTo fix:\n  1. Start Ollama: ollama serve\n  2. Pull a model: ollama pull %s\n  3. Or use lexical-only mode: inkwell index --backend=static", err, cfg.Model)
	}
	return embedder, nil
}

// cacheSize reads the INKWELL_EMBED_CACHE_SIZE override, falling back to
// the default entry count.
func cacheSize() int {
	if v := os.Getenv("INKWELL_EMBED_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return DefaultEmbeddingCacheSize
}

// isCacheDisabled checks the INKWELL_EMBED_CACHE environment toggle.
func isCacheDisabled() bool {
	v := strings.ToLower(os.Getenv("INKWELL_EMBED_CACHE"))
	return v == "false" || v == "0" || v == "off" || v == "disabled"
}
