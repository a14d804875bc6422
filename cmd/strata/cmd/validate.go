package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/strata/internal/mcp"
	"github.com/Aman-CERP/strata/internal/output"
	"github.com/Aman-CERP/strata/internal/search"
	"github.com/Aman-CERP/strata/internal/validation"
)

// errValidationFailed is returned when a tier 1 or negative query misses.
var errValidationFailed = errors.New("relevance validation failed")

func newValidateCmd(g *globalFlags) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "validate <suite.yaml>",
		Short: "Check search relevance against a query suite",
		Long: `Run a YAML suite of queries through the MCP search tool against the
current index. Tier 1 queries must surface one of their expected files,
tier 2 queries are reported but never fail the run, and negative queries
only need to return cleanly.`,
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			suite, err := validation.LoadSuite(args[0])
			if err != nil {
				return err
			}
			e, err := g.openEnv(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			engine, err := search.NewEngine(e.store, e.embedder, searchConfig(e.cfg))
			if err != nil {
				return err
			}
			defer func() { _ = engine.Close() }()
			srv, err := mcp.NewServer(mcp.Dependencies{
				Engine:   engine,
				Index:    e.store,
				Embedder: e.embedder,
				Provider: e.providerName(g.noEmbed),
			})
			if err != nil {
				return err
			}

			report, err := validation.New(srv, validation.WithLimit(limit)).RunAll(cmd.Context(), suite)
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout(), output.WithJSON(asJSON), output.WithNoColor(g.noColor))
			if out.JSONMode() {
				if err := out.JSON(report); err != nil {
					return err
				}
			} else {
				printReport(out, report)
			}
			if !report.Passed() {
				return errValidationFailed
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", validation.DefaultLimit, "Results inspected per query")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the report as JSON")
	return cmd
}

func printReport(out *output.Writer, report *validation.Report) {
	for _, group := range [][]validation.TestResult{report.Tier1, report.Tier2, report.Negative} {
		for _, tr := range group {
			line := fmt.Sprintf("%s %s (%s)", tr.Spec.ID, tr.Spec.Name, tr.Duration.Round(time.Microsecond))
			switch {
			case tr.Passed && tr.MatchedAt >= 0:
				out.Successf("%s: rank %d", line, tr.MatchedAt+1)
			case tr.Passed:
				out.Success(line)
			case tr.Error != "":
				out.Warningf("%s: %s", line, tr.Error)
			default:
				out.Warningf("%s: expected %v", line, tr.Spec.Expected)
			}
		}
	}
	out.Newline()
	out.Status("", report.Summary())
}
