package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/inkwell-dev/inkwell/internal/config"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default .inkwell.yaml into the vault",
		Long: `Create a .inkwell.yaml with default settings at the vault root.

Edit the file to point at your story bible, character folder, and LLM
backend, then run 'inkwell index'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")

	return cmd
}

func runInit(cmd *cobra.Command, force bool) error {
	absRoot, err := filepath.Abs(vaultPath)
	if err != nil {
		return fmt.Errorf("failed to resolve vault path: %w", err)
	}
	if _, err := os.Stat(absRoot); err != nil {
		return fmt.Errorf("vault directory not found: %s", absRoot)
	}

	path := filepath.Join(absRoot, config.ConfigFileName)
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists; use --force to overwrite", path)
	}

	cfg := config.NewConfig()
	cfg.Vault.Path = absRoot
	if err := cfg.WriteYAML(path); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}
