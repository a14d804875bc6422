package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/strata/internal/config"
	serrors "github.com/Aman-CERP/strata/internal/errors"
	"github.com/Aman-CERP/strata/internal/index"
	"github.com/Aman-CERP/strata/internal/output"
	"github.com/Aman-CERP/strata/internal/schedule"
	"github.com/Aman-CERP/strata/internal/ui"
	"github.com/Aman-CERP/strata/internal/watcher"
)

type watchOptions struct {
	schedule     string
	xrefSchedule string
	noInitial    bool
	polling      bool
}

func newWatchCmd(g *globalFlags) *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the index in sync as sources change",
		Long: `Watch every configured source root and sync the affected sources once
changes settle for watch.debounce. Falls back to polling where file system
notifications are unavailable.

watch.schedule adds periodic full syncs and watch.xref_schedule periodic
cross-reference rebuilds. Both take five-field cron specs or descriptors
such as @hourly and "@every 30m".`,
		Example: `  strata watch
  strata watch --schedule "@every 1h" --xref-schedule "0 3 * * *"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cmd, g, opts)
		},
	}

	cmd.Flags().StringVar(&opts.schedule, "schedule", "", "Cron spec for periodic full syncs (overrides watch.schedule)")
	cmd.Flags().StringVar(&opts.xrefSchedule, "xref-schedule", "", "Cron spec for cross-reference rebuilds (overrides watch.xref_schedule)")
	cmd.Flags().BoolVar(&opts.noInitial, "no-initial-sync", false, "Skip the sync that normally runs on start")
	cmd.Flags().BoolVar(&opts.polling, "poll", false, "Poll instead of using file system notifications")

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, g *globalFlags, opts watchOptions) error {
	e, err := g.openEnv(ctx, true)
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	if len(e.cfg.Sources) == 0 {
		_, err := sourceRegistry(e.cfg)
		return err
	}
	if opts.schedule == "" {
		opts.schedule = e.cfg.Watch.Schedule
	}
	if opts.xrefSchedule == "" {
		opts.xrefSchedule = e.cfg.Watch.XrefSchedule
	}

	out := output.New(cmd.OutOrStdout(), output.WithNoColor(g.noColor))
	w := &watchLoop{env: e, out: out}

	scheduler := schedule.NewCronScheduler()
	if opts.schedule != "" {
		err := scheduler.AddJob(schedule.JobFunc{JobName: "sync", Fn: func(ctx context.Context) error {
			return w.syncSources(ctx, nil)
		}}, opts.schedule)
		if err != nil {
			return err
		}
	}
	if opts.xrefSchedule != "" {
		err := scheduler.AddJob(schedule.JobFunc{JobName: "xref", Fn: w.rebuildXrefs}, opts.xrefSchedule)
		if err != nil {
			return err
		}
	}

	wopts := watcher.DefaultOptions()
	wopts.DebounceWindow = e.cfg.DebounceDuration()
	wopts.Skip = watcher.SkipUnder(e.cfg.DataDir)
	wopts.ForcePolling = opts.polling
	fw, err := watcher.New(wopts)
	if err != nil {
		return err
	}

	if !opts.noInitial {
		if err := w.syncSources(ctx, nil); err != nil && serrors.IsCancelled(err) {
			return nil
		}
	}

	roots := sourceRoots(e.cfg)
	out.Statusf("", "Watching %d sources (%s). Press Ctrl+C to stop.", len(roots), strings.Join(e.cfg.SourceNames(), ", "))
	scheduler.Start(ctx)
	defer scheduler.Stop()

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		return fw.Start(gctx, roots...)
	})
	grp.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case batch, ok := <-fw.Events():
				if !ok {
					return nil
				}
				names := affectedSources(e.cfg, batch)
				if len(names) == 0 {
					continue
				}
				slog.Debug("watch_batch", slog.Int("events", len(batch)), slog.Any("sources", names))
				_ = w.syncSources(gctx, names)
			case err, ok := <-fw.Errors():
				if !ok {
					return nil
				}
				slog.Warn("watch_error", slog.String("error", err.Error()))
			}
		}
	})

	err = grp.Wait()
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		out.Status("", "Stopped watching.")
		return nil
	}
	return err
}

// watchLoop runs syncs triggered by file events and schedules.
type watchLoop struct {
	env *env
	out *output.Writer
}

// syncSources syncs names (all when empty). A busy writer is not an error
// here: the next event or tick retries.
func (w *watchLoop) syncSources(ctx context.Context, names []string) error {
	sum, err := w.env.sync(ctx, ui.NewNullRenderer(), index.Options{Sources: names})
	switch {
	case errors.Is(err, serrors.ErrWriterBusy):
		slog.Info("watch_sync_skipped", slog.String("reason", "writer busy"))
		return nil
	case err != nil:
		if !serrors.IsCancelled(err) {
			w.out.Error(err)
		}
		return err
	}
	if sum.FilesUpdated+sum.FilesRemoved+sum.FilesFailed > 0 {
		w.out.Statusf("", "Synced: %d updated, %d removed, %d failed (%s)",
			sum.FilesUpdated, sum.FilesRemoved, sum.FilesFailed, sum.Duration.Round(time.Millisecond))
	}
	return nil
}

func (w *watchLoop) rebuildXrefs(ctx context.Context) error {
	res, err := w.env.rebuildXrefs(ctx)
	if errors.Is(err, serrors.ErrWriterBusy) {
		slog.Info("watch_xref_skipped", slog.String("reason", "writer busy"))
		return nil
	}
	if err != nil {
		return err
	}
	return w.out.CrossRefResult(res)
}

// sourceRoots returns the distinct configured roots, sorted.
func sourceRoots(cfg *config.Config) []string {
	seen := make(map[string]bool)
	var roots []string
	for _, name := range cfg.SourceNames() {
		root := cfg.Sources[name].Root
		if !seen[root] {
			seen[root] = true
			roots = append(roots, root)
		}
	}
	return roots
}

// affectedSources maps a batch of events to the sources whose root holds
// at least one of the changed paths.
func affectedSources(cfg *config.Config, batch []watcher.FileEvent) []string {
	hit := make(map[string]bool)
	for _, ev := range batch {
		for name, s := range cfg.Sources {
			if hit[name] {
				continue
			}
			root := filepath.Clean(s.Root)
			if ev.Path == root || strings.HasPrefix(ev.Path, root+string(filepath.Separator)) {
				hit[name] = true
			}
		}
	}
	names := make([]string, 0, len(hit))
	for n := range hit {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
