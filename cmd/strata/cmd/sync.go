package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	serrors "github.com/Aman-CERP/strata/internal/errors"
	"github.com/Aman-CERP/strata/internal/index"
	"github.com/Aman-CERP/strata/internal/output"
	"github.com/Aman-CERP/strata/internal/ui"
	"github.com/Aman-CERP/strata/internal/xref"
)

type syncOptions struct {
	sources []string
	force   bool
	noTUI   bool
	xref    bool
}

func newSyncCmd(g *globalFlags) *cobra.Command {
	var opts syncOptions

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Bring the index up to date with the configured sources",
		Long: `Scan every configured source, index new and changed files, and drop
files that disappeared. A file is re-read only when its SHA-256 content
hash differs from the last sync; a newer mtime on identical content just
refreshes the recorded time. Each file is committed on its own, so an
interrupted sync keeps everything it finished.

Only one writer runs at a time; a second sync exits with status 75.`,
		Example: `  strata sync
  strata sync --source journal --source docs
  strata sync --force --xref`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSync(ctx, cmd, g, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.sources, "source", "s", nil, "Source names to sync (repeatable; default all)")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Re-process files even when unchanged")
	cmd.Flags().BoolVar(&opts.noTUI, "no-tui", false, "Disable TUI mode, use plain text output")
	cmd.Flags().BoolVar(&opts.xref, "xref", false, "Rebuild cross-references after a successful sync")

	return cmd
}

func runSync(ctx context.Context, cmd *cobra.Command, g *globalFlags, opts syncOptions) error {
	e, err := g.openEnv(ctx, true)
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(opts.noTUI),
		ui.WithNoColor(g.noColor)))
	sum, err := e.sync(ctx, renderer, index.Options{Sources: opts.sources, Force: opts.force})

	out := output.New(cmd.OutOrStdout(), output.WithNoColor(g.noColor))
	if err != nil {
		if sum != nil && sum.Cancelled {
			out.Warningf("Sync cancelled: %d files committed before the interrupt", sum.FilesUpdated)
		}
		return err
	}
	if e.embedder == nil && !g.noEmbed {
		out.Warning("No embedder available: chunks were stored without vectors")
	}

	if opts.xref {
		res, err := e.rebuildXrefs(ctx)
		if err != nil {
			return err
		}
		return out.CrossRefResult(res)
	}
	return nil
}

// sync runs one pass with the env's store, sources and embedder. The
// renderer is started and stopped around the pass.
func (e *env) sync(ctx context.Context, renderer ui.Renderer, opts index.Options) (*index.Summary, error) {
	sources, err := sourceRegistry(e.cfg)
	if err != nil {
		return nil, err
	}
	runner, err := index.NewRunner(index.Dependencies{
		Store:     e.store,
		Sources:   sources,
		Lock:      e.lock,
		Chunker:   chunker(e.cfg),
		Embedder:  e.embedder,
		Renderer:  renderer,
		BatchSize: e.cfg.Embeddings.BatchSize,
	})
	if err != nil {
		return nil, serrors.Wrap(serrors.ErrCodeInternal, err)
	}

	if err := renderer.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start progress display: %w", err)
	}
	sum, err := runner.Sync(ctx, opts)
	if stopErr := renderer.Stop(); stopErr != nil {
		slog.Debug("renderer_stop_failed", slog.String("error", stopErr.Error()))
	}
	return sum, err
}

// rebuildXrefs runs a full cross-reference rebuild with configured options.
func (e *env) rebuildXrefs(ctx context.Context) (*xref.Result, error) {
	opts, err := xrefOptions(e.cfg)
	if err != nil {
		return nil, err
	}
	return xref.NewBuilder(e.store, xref.WithLocker(e.lock)).Rebuild(ctx, opts)
}
