package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/inkwell-dev/inkwell/internal/logging"
)

func newIndexCmd() *cobra.Command {
	var (
		force   bool
		backend string
	)

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index the vault for searching",
		Long: `Scan the vault, chunk notes into passages, generate embeddings, and
build the BM25 and vector indices under <vault>/.inkwell.

Unchanged notes are skipped on repeat runs. Use --force to re-embed
everything, which is also required after switching embedding models.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if backend != "" {
				os.Setenv("INKWELL_EMBEDDER", backend)
			}
			return runIndex(ctx, cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Re-index every note, ignoring content hashes")
	cmd.Flags().StringVar(&backend, "backend", "", "Embedding backend: ollama (default) or static")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, force bool) error {
	if force {
		if err := clearIndexArtifacts(vaultPath); err != nil {
			return err
		}
	}

	s, err := openStack(ctx, vaultPath, false)
	if err != nil {
		return err
	}
	defer s.Close()

	logCfg := logging.DefaultConfig()
	logCfg.Level = s.cfg.Server.LogLevel
	if _, cleanup, err := logging.Setup(logCfg); err == nil {
		defer cleanup()
	}

	stats, err := s.newIndexer().Reindex(ctx, force)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Indexed %d of %d notes (%d passages, %d removed) in %s\n",
		stats.NotesIndexed, stats.NotesScanned, stats.PassagesIndexed,
		stats.NotesRemoved, stats.Duration.Round(time.Millisecond))
	return nil
}
