package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/strata/internal/logging"
	"github.com/Aman-CERP/strata/internal/mcp"
	"github.com/Aman-CERP/strata/internal/search"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var transport string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the index to MCP clients",
		Long: `Start a Model Context Protocol server exposing the search, stats and
recent tools plus the strata://stats and strata://chunk/{id} resources.

stdout carries protocol messages only; logs go to ~/.strata/logs/.`,
		Example: `  # Claude Desktop / any MCP client:
  #   "command": "strata", "args": ["serve", "--config", "/path/to/strata.yaml"]
  strata serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if !g.debug {
				cleanup, err := logging.Install(logging.ServeConfig(cfg.LogLevel))
				if err != nil {
					return err
				}
				defer cleanup()
			}

			e, err := g.openEnv(ctx, true)
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
			slog.Info("serve_starting",
				slog.String("database", e.cfg.DatabasePath()),
				slog.Bool("embedder", e.embedder != nil))
			return srv.Serve(ctx, transport)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport (stdio)")

	return cmd
}
