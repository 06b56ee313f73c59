package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/inkwell-dev/inkwell/internal/config"
	"github.com/inkwell-dev/inkwell/internal/embed"
	"github.com/inkwell-dev/inkwell/internal/index"
	"github.com/inkwell-dev/inkwell/internal/retrieval"
	"github.com/inkwell-dev/inkwell/internal/store"
	"github.com/inkwell-dev/inkwell/internal/vault"
)

// Artifact names inside the index directory.
const (
	metadataFile = "metadata.db"
	lexicalFile  = "lexical.bleve"
	vectorFile   = "vectors.hnsw"
)

// stack bundles the config, stores, and embedder one command invocation
// works with. Close releases everything in reverse open order.
type stack struct {
	cfg        *config.Config
	passages   store.PassageStore
	lexical    store.LexicalIndex
	vectors    store.VectorStore
	embedder   embed.Embedder
	vectorPath string
}

// openStack loads configuration for the vault and opens the index stores.
// The embedding backend comes from config unless overridden by environment.
// With lazyEmbed set the Ollama backend is constructed on first use, so a
// long-running process can start while Ollama is unreachable; one-shot
// commands keep the eager path and its actionable startup error.
func openStack(ctx context.Context, root string, lazyEmbed bool) (*stack, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve vault path: %w", err)
	}
	if _, err := os.Stat(absRoot); err != nil {
		return nil, fmt.Errorf("vault directory not found: %s", absRoot)
	}

	cfg, err := config.Load(absRoot)
	if err != nil {
		return nil, err
	}

	// The embed factory reads the host from the environment; carry the
	// config value over unless the user already set one.
	if cfg.Index.OllamaHost != "" && os.Getenv("INKWELL_OLLAMA_HOST") == "" {
		os.Setenv("INKWELL_OLLAMA_HOST", cfg.Index.OllamaHost)
	}
	if cfg.Index.CacheSize > 0 && os.Getenv("INKWELL_EMBED_CACHE_SIZE") == "" {
		os.Setenv("INKWELL_EMBED_CACHE_SIZE", strconv.Itoa(cfg.Index.CacheSize))
	}

	var embedder embed.Embedder
	if lazyEmbed {
		embedder, err = embed.NewServingEmbedder(embed.ProviderType(cfg.Index.Backend), cfg.Index.OllamaModel)
	} else {
		embedder, err = embed.NewEmbedder(ctx, embed.ProviderType(cfg.Index.Backend), cfg.Index.OllamaModel)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	indexDir := cfg.IndexDir()
	if err := os.MkdirAll(indexDir, 0755); err != nil {
		embedder.Close()
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	passages, err := store.NewSQLitePassageStore(filepath.Join(indexDir, metadataFile))
	if err != nil {
		embedder.Close()
		return nil, err
	}

	lexical, err := store.NewBleveLexicalIndex(filepath.Join(indexDir, lexicalFile))
	if err != nil {
		passages.Close()
		embedder.Close()
		return nil, err
	}

	vectorPath := filepath.Join(indexDir, vectorFile)
	vectors, err := openVectors(vectorPath, embedder.Dimensions())
	if err != nil {
		lexical.Close()
		passages.Close()
		embedder.Close()
		return nil, err
	}

	return &stack{
		cfg:        cfg,
		passages:   passages,
		lexical:    lexical,
		vectors:    vectors,
		embedder:   embedder,
		vectorPath: vectorPath,
	}, nil
}

// openVectors opens the persisted vector store, keeping the stored dimension
// when one exists so a mismatched embedder is caught by the compatibility
// check instead of corrupting the graph.
func openVectors(path string, embedderDims int) (store.VectorStore, error) {
	dims, err := store.ReadHNSWStoreDimensions(path)
	if err != nil {
		return nil, err
	}
	if dims == 0 {
		dims = embedderDims
	}

	vectors, err := store.NewHNSWStore(store.VectorStoreConfig{Dimensions: dims})
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path + ".meta"); err == nil {
		if err := vectors.Load(path); err != nil {
			vectors.Close()
			return nil, fmt.Errorf("failed to load vector store: %w", err)
		}
	}
	return vectors, nil
}

// clearIndexArtifacts removes the persisted stores from the vault's index
// directory. A forced rebuild starts from a clean slate so the vector store
// comes back at the active embedder's dimension instead of whatever the
// previous model used. Logs and the lock file are kept.
func clearIndexArtifacts(root string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve vault path: %w", err)
	}
	cfg, err := config.Load(absRoot)
	if err != nil {
		return err
	}
	for _, name := range []string{metadataFile, lexicalFile, vectorFile, vectorFile + ".meta"} {
		if err := os.RemoveAll(filepath.Join(cfg.IndexDir(), name)); err != nil {
			return fmt.Errorf("failed to clear index artifact %s: %w", name, err)
		}
	}
	return nil
}

func (s *stack) Close() {
	if err := s.vectors.Close(); err != nil {
		slog.Warn("failed to close vector store", "error", err)
	}
	if err := s.lexical.Close(); err != nil {
		slog.Warn("failed to close lexical index", "error", err)
	}
	if err := s.passages.Close(); err != nil {
		slog.Warn("failed to close passage store", "error", err)
	}
	if err := s.embedder.Close(); err != nil {
		slog.Warn("failed to close embedder", "error", err)
	}
}

// newIndexer wires the scan, chunk, embed, store pipeline over the stack.
func (s *stack) newIndexer() *index.Indexer {
	return index.NewIndexer(index.Config{
		Scanner:    vault.NewScanner(vault.ScanOptions{Root: s.cfg.Vault.Path}),
		Embedder:   s.embedder,
		Passages:   s.passages,
		Lexical:    s.lexical,
		Vectors:    s.vectors,
		VectorPath: s.vectorPath,
		Lock:       store.NewIndexLock(s.cfg.IndexDir()),
	})
}

// newEngine builds the retrieval engine: BM25 and semantic providers fused
// with RRF, diversified with MMR over the stored vectors.
func (s *stack) newEngine() *retrieval.Engine {
	lexical := index.NewLexicalProvider(s.lexical, s.passages)
	semantic := index.NewSemanticProvider(s.embedder, s.vectors, s.passages)

	return retrieval.NewEngine(
		[]retrieval.Provider{lexical, semantic},
		retrieval.WithFusion(retrieval.NewRRFFusionWithK(s.cfg.Search.RRFK)),
		retrieval.WithDiversity(
			retrieval.NewDiversitySelector(s.cfg.Search.MMRLambda, semantic.Vectors())),
	)
}
