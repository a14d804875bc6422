package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/strata/internal/output"
	"github.com/Aman-CERP/strata/internal/ui"
)

func newVacuumCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "vacuum",
		Short: "Compact the index file",
		Long: `Merge full-text segments, checkpoint the write-ahead log and rebuild the
database file. Takes the writer lock, so it fails while a sync is running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := g.openEnv(ctx, false)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			before := fileSize(e.cfg.DatabasePath())
			err = e.lock.With(func() error { return e.store.Vacuum(ctx) })
			if err != nil {
				return err
			}
			after := fileSize(e.cfg.DatabasePath())

			out := output.New(cmd.OutOrStdout(), output.WithNoColor(g.noColor))
			out.Successf("Vacuumed %s: %s -> %s", e.cfg.DatabasePath(), ui.FormatBytes(before), ui.FormatBytes(after))
			return nil
		},
	}
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
