package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/strata/internal/output"
	"github.com/Aman-CERP/strata/internal/xref"
)

type crossRefOptions struct {
	threshold float64
	sources   []string
	strategy  string
	json      bool
}

func newCrossRefsCmd(g *globalFlags) *cobra.Command {
	var opts crossRefOptions

	cmd := &cobra.Command{
		Use:     "cross-refs",
		Aliases: []string{"xref"},
		Short:   "Rebuild cross-references between similar chunks",
		Long: `Compare the stored chunk vectors and record an edge between every pair
whose cosine similarity reaches the threshold. Existing edges between the
selected source types are replaced. Chunks without vectors are skipped.

On a large corpus only same-type pairs and the pairs named in xref.groups
are compared.`,
		Example: `  strata cross-refs
  strata cross-refs --threshold 0.85 --strategy hnsw
  strata cross-refs --source note --source archive`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := g.openEnv(ctx, false)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			xopts, err := xrefOptions(e.cfg)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("threshold") {
				xopts.Threshold = opts.threshold
			}
			if opts.strategy != "" {
				xopts.Strategy = opts.strategy
			}
			if xopts.SourceTypes, err = parseSourceTypes(opts.sources); err != nil {
				return err
			}

			res, err := xref.NewBuilder(e.store, xref.WithLocker(e.lock)).Rebuild(ctx, xopts)
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout(), output.WithJSON(opts.json), output.WithNoColor(g.noColor))
			return out.CrossRefResult(res)
		},
	}

	cmd.Flags().Float64Var(&opts.threshold, "threshold", 0, "Minimum cosine similarity in [0,1] (default: xref.threshold)")
	cmd.Flags().StringSliceVarP(&opts.sources, "source", "s", nil, "Limit to source types (repeatable)")
	cmd.Flags().StringVar(&opts.strategy, "strategy", "", "brute or hnsw (default: xref.strategy)")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Output as JSON")

	return cmd
}
