package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/inkwell-dev/inkwell/internal/logging"
	"github.com/inkwell-dev/inkwell/internal/retrieval"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit      int
	noteType   string
	format     string // "text", "json"
	noSemantic bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed vault",
		Long: `Search the indexed vault with hybrid retrieval: BM25 and semantic
results fused with Reciprocal Rank Fusion, diversified with MMR.

Examples:
  inkwell search "the storm over the harbor"
  inkwell search "Elara" --type character --limit 5
  inkwell search "first meeting" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.noteType, "type", "t", "", "Filter by note type: chapter, character, world, outline, general")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.noSemantic, "no-semantic", false, "Keyword search only, skip the semantic provider")

	return cmd
}

func runSearch(cmd *cobra.Command, queryText string, opts searchOptions) error {
	ctx := cmd.Context()

	// Keep stdout clean for results; log records go to the index directory.
	s, err := openStack(ctx, vaultPath, false)
	if err != nil {
		return err
	}
	defer s.Close()

	logCfg := logging.DefaultConfig()
	logCfg.Level = s.cfg.Server.LogLevel
	logCfg.WriteToStderr = false
	logCfg.FilePath = filepath.Join(s.cfg.IndexDir(), "logs", "inkwell.log")
	if _, cleanup, err := logging.Setup(logCfg); err == nil {
		defer cleanup()
	}

	query := retrieval.Query{Text: queryText}
	if opts.noteType != "" {
		query.Filters = map[string]string{"type": opts.noteType}
	}

	items, err := s.newEngine().Search(ctx, query, retrieval.Options{
		Limit:           opts.limit,
		DisableSemantic: opts.noSemantic,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(searchResultsJSON(items))
	}

	if len(items) == 0 {
		fmt.Fprintln(out, "No results.")
		return nil
	}
	for i, item := range items {
		fmt.Fprintf(out, "%d. %s (%.4f, %s)\n", i+1, item.Path, item.Score, item.Source)
		excerpt := strings.TrimSpace(item.Excerpt)
		if len(excerpt) > 200 {
			excerpt = excerpt[:200] + "..."
		}
		fmt.Fprintf(out, "   %s\n", strings.ReplaceAll(excerpt, "\n", " "))
	}
	return nil
}

type searchResultJSON struct {
	Key        string   `json:"key"`
	Path       string   `json:"path"`
	Excerpt    string   `json:"excerpt"`
	Score      float64  `json:"score"`
	Source     string   `json:"source"`
	ReasonTags []string `json:"reasonTags"`
}

func searchResultsJSON(items []*retrieval.CandidateItem) []searchResultJSON {
	results := make([]searchResultJSON, len(items))
	for i, item := range items {
		results[i] = searchResultJSON{
			Key:        item.Key,
			Path:       item.Path,
			Excerpt:    item.Excerpt,
			Score:      item.Score,
			Source:     string(item.Source),
			ReasonTags: item.ReasonTags,
		}
	}
	return results
}
