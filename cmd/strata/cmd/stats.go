package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/strata/internal/mcp"
	"github.com/Aman-CERP/strata/internal/output"
	"github.com/Aman-CERP/strata/internal/ui"
)

func newStatsCmd(g *globalFlags) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		Long: `Show files and chunks per source type, embedding coverage, the number
of cross-references, the last sync run and the embedder state.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := g.openEnv(ctx, true)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			st, err := e.store.Stats(ctx)
			if err != nil {
				return err
			}
			emb := mcp.EmbedderState(ctx, e.embedder, e.providerName(g.noEmbed))

			if jsonOutput {
				out := mcp.NewStatsOutput(st)
				out.Embedder = emb
				return output.New(cmd.OutOrStdout(), output.WithJSON(true)).JSON(out)
			}
			return ui.NewStatsRenderer(cmd.OutOrStdout(), g.noColor).Render(st, ui.EmbedderStatus{
				Provider:   emb.Provider,
				Model:      emb.Model,
				Dimensions: emb.Dimensions,
				State:      emb.Status,
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
