package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/inkwell-dev/inkwell/internal/config"
	"github.com/inkwell-dev/inkwell/internal/index"
	"github.com/inkwell-dev/inkwell/internal/llm"
	"github.com/inkwell-dev/inkwell/internal/logging"
	"github.com/inkwell-dev/inkwell/internal/retrieval"
	"github.com/inkwell-dev/inkwell/internal/server"
	"github.com/inkwell-dev/inkwell/internal/vault"
)

// shutdownTimeout bounds the graceful drain of in-flight requests.
const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var noWatch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API for the Obsidian plugin",
		Long: `Start the inkwell HTTP server.

The server brings the index up to date, watches the vault for note
changes, and exposes search, chapter generation, micro-edit, and
character extraction endpoints. Stop it with Ctrl+C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, noWatch)
		},
	}

	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not watch the vault for changes")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, noWatch bool) error {
	// Lazy embedding: serving starts even when Ollama is briefly down and
	// connects on the first semantic query instead.
	s, err := openStack(ctx, vaultPath, true)
	if err != nil {
		return err
	}
	defer s.Close()

	logCfg := logging.DefaultConfig()
	logCfg.Level = s.cfg.Server.LogLevel
	logCfg.FilePath = filepath.Join(s.cfg.IndexDir(), "logs", "inkwell.log")
	if _, cleanup, err := logging.Setup(logCfg); err == nil {
		defer cleanup()
	}

	generator, err := newGenerator(s)
	if err != nil {
		return err
	}

	// Catch up with whatever changed since the last run before serving.
	indexer := s.newIndexer()
	if _, err := indexer.Reindex(ctx, false); err != nil {
		var incompatible index.ErrIndexIncompatible
		if errors.As(err, &incompatible) {
			return err
		}
		slog.Warn("startup reindex failed, serving stale index", "error", err)
	}

	srv := server.New(server.Services{
		Config:     s.cfg,
		Engine:     s.newEngine(),
		Reranker:   newReranker(s),
		Aggregator: vault.NewAggregator(s.cfg.Vault.Path),
		Generator:  generator,
	})
	srv.Setup()

	var wg sync.WaitGroup
	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()

	if !noWatch {
		watcher, err := vault.NewWatcher(s.cfg.Vault.Path, vault.WatchOptions{
			DebounceWindow: s.cfg.DebounceWindow(),
		})
		if err != nil {
			return fmt.Errorf("failed to create vault watcher: %w", err)
		}
		if err := watcher.Start(); err != nil {
			return fmt.Errorf("failed to start vault watcher: %w", err)
		}
		defer watcher.Stop()

		wg.Add(1)
		go func() {
			defer wg.Done()
			applyWatchEvents(watchCtx, indexer, watcher)
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server listening",
			"host", s.cfg.Server.Host,
			"port", s.cfg.Server.Port,
			"vault", s.cfg.Vault.Path)
		serveErr <- srv.Start()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	cancelWatch()
	wg.Wait()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	return srv.Stop(stopCtx)
}

// applyWatchEvents feeds debounced vault changes into the indexer until the
// watcher channel closes or the context is canceled.
func applyWatchEvents(ctx context.Context, indexer *index.Indexer, watcher *vault.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case events, ok := <-watcher.Events():
			if !ok {
				return
			}
			stats, err := indexer.ApplyEvents(ctx, events)
			if err != nil {
				slog.Warn("failed to apply vault changes", "error", err)
				continue
			}
			slog.Info("vault changes indexed",
				"events", len(events),
				"notes", stats.NotesIndexed,
				"passages", stats.PassagesIndexed,
				"removed", stats.NotesRemoved)
		}
	}
}

// newGenerator builds the LLM client with circuit breaker protection.
func newGenerator(s *stack) (llm.Client, error) {
	gen := s.cfg.Generation
	if gen.APIKey == "" {
		return nil, fmt.Errorf("no API key configured: set generation.api_key in %s or the INKWELL_API_KEY environment variable", filepath.Join(s.cfg.Vault.Path, config.ConfigFileName))
	}

	client, err := llm.NewOpenAIClient(llm.Config{
		APIKey:      gen.APIKey,
		BaseURL:     gen.BaseURL,
		Model:       gen.Model,
		MaxTokens:   gen.MaxTokens,
		Temperature: float32(gen.Temperature),
	})
	if err != nil {
		return nil, err
	}
	return llm.NewBreakerClient(client, llm.DefaultBreakerConfig()), nil
}

// newReranker builds the cross-encoder reranker when an endpoint is
// configured. Returns nil otherwise; search then serves the fused order.
func newReranker(s *stack) *retrieval.Reranker {
	endpoint := s.cfg.Search.RerankEndpoint
	if endpoint == "" {
		return nil
	}
	cfg := retrieval.DefaultCrossEncoderConfig()
	cfg.Endpoint = endpoint
	return retrieval.NewReranker(retrieval.NewCrossEncoderLoader(cfg))
}
