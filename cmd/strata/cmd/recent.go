package cmd

import (
	"github.com/spf13/cobra"

	serrors "github.com/Aman-CERP/strata/internal/errors"
	"github.com/Aman-CERP/strata/internal/output"
	"github.com/Aman-CERP/strata/internal/store"
)

func newRecentCmd(g *globalFlags) *cobra.Command {
	var (
		sources    []string
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List the most recently modified documents",
		Example: `  strata recent
  strata recent -n 20 --source note`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return serrors.New(serrors.ErrCodeInvalidInput, "--limit must be positive", nil)
			}
			types, err := parseSourceTypes(sources)
			if err != nil {
				return err
			}
			e, err := g.openEnv(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			chunks, err := e.store.Recent(cmd.Context(), store.Filter{SourceTypes: types}, limit)
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout(), output.WithJSON(jsonOutput), output.WithNoColor(g.noColor))
			return out.Chunks(chunks)
		},
	}

	cmd.Flags().StringSliceVarP(&sources, "source", "s", nil, "Limit to source types (repeatable)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum documents")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
