package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/strata/internal/output"
	"github.com/Aman-CERP/strata/internal/preflight"
)

func newDoctorCmd(g *globalFlags) *cobra.Command {
	var jsonOutput, verbose bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that strata can run",
		Long: `Check the data directory, free disk space, source roots, the file
descriptor limit, the index file and the embedder. Exits non-zero when a
required check fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}

			target := preflight.Target{
				DataDir:      cfg.DataDir,
				DatabasePath: cfg.DatabasePath(),
				Sources:      make(map[string]string, len(cfg.Sources)),
				Provider:     cfg.Embeddings.Provider,
			}
			for name, s := range cfg.Sources {
				target.Sources[name] = s.Root
			}
			if g.noEmbed {
				target.Provider = "none"
			} else if e := newEmbedder(ctx, cfg); e != nil {
				defer func() { _ = e.Close() }()
				target.Embedder = e
			}

			checker := preflight.New(preflight.WithOutput(cmd.OutOrStdout()), preflight.WithVerbose(verbose))
			results := checker.RunAll(ctx, target)
			if jsonOutput {
				err = output.New(cmd.OutOrStdout(), output.WithJSON(true)).JSON(struct {
					Status string                  `json:"status"`
					Checks []preflight.CheckResult `json:"checks"`
				}{checker.SummaryStatus(results), results})
				if err != nil {
					return err
				}
			} else {
				checker.PrintResults(results)
			}
			if checker.HasCriticalFailures(results) {
				return errors.New("system check failed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show details for each check")

	return cmd
}
