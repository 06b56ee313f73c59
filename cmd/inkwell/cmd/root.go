// Package cmd provides the CLI commands for inkwell.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/inkwell-dev/inkwell/pkg/version"
)

// vaultPath is the vault root, shared by all subcommands.
var vaultPath string

// NewRootCmd creates the root command for the inkwell CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inkwell",
		Short: "Local writing assistant for Obsidian vaults",
		Long: `Inkwell indexes an Obsidian vault for hybrid search (BM25 + semantic)
and serves an HTTP API that drafts chapters, rewrites passages, and
extracts character updates with vault context assembled into every prompt.

Run 'inkwell init' in your vault, then 'inkwell index' and 'inkwell serve'.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("inkwell version {{.Version}}\n")
	cmd.PersistentFlags().StringVar(&vaultPath, "vault", ".", "Vault root directory")

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command, printing any terminal error to stderr.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
