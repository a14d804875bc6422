package cmd

import (
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	serrors "github.com/Aman-CERP/strata/internal/errors"
	"github.com/Aman-CERP/strata/internal/output"
	"github.com/Aman-CERP/strata/internal/search"
)

type searchOptions struct {
	sources     []string
	limit       int
	keywordOnly bool
	json        bool
}

func newSearchCmd(g *globalFlags) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the index",
		Long: `Search every indexed source with hybrid ranking.

Each result blends keyword relevance, semantic similarity and the strength
of its cross-references. When no embedder is available the search runs
keyword-only and says so.`,
		Example: `  strata search "retry budget"
  strata search -n 5 --source note --source archive quarterly review
  strata search --keyword-only --json deploy`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, g, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.sources, "source", "s", nil, "Limit to source types: archive, stream, note, code (repeatable)")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum results (default: search.default_limit)")
	cmd.Flags().BoolVar(&opts.keywordOnly, "keyword-only", false, "Skip semantic ranking")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Output as JSON")

	return cmd
}

func runSearch(cmd *cobra.Command, g *globalFlags, query string, opts searchOptions) error {
	ctx := cmd.Context()
	if opts.limit < 0 {
		return serrors.New(serrors.ErrCodeInvalidInput, "--limit must be positive", nil)
	}
	types, err := parseSourceTypes(opts.sources)
	if err != nil {
		return err
	}

	e, err := g.openEnv(ctx, !opts.keywordOnly)
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	engine, err := search.NewEngine(e.store, e.embedder, searchConfig(e.cfg))
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	slog.Debug("search_started", slog.String("query", query), slog.Int("limit", opts.limit))
	resp, err := engine.Search(ctx, query, search.Options{
		SourceTypes: types,
		Limit:       opts.limit,
		KeywordOnly: opts.keywordOnly,
	})
	if err != nil {
		return err
	}
	slog.Debug("search_complete",
		slog.String("mode", string(resp.Mode)),
		slog.Int("results", len(resp.Results)),
		slog.Duration("took", resp.Took))

	out := output.New(cmd.OutOrStdout(), output.WithJSON(opts.json), output.WithNoColor(g.noColor))
	return out.SearchResults(resp)
}
