// Package cmd provides the CLI commands for strata.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	serrors "github.com/Aman-CERP/strata/internal/errors"
	"github.com/Aman-CERP/strata/internal/logging"
	"github.com/Aman-CERP/strata/internal/output"
	"github.com/Aman-CERP/strata/internal/profiling"
	"github.com/Aman-CERP/strata/pkg/version"
)

// Exit codes.
const (
	ExitOK        = 0
	ExitError     = 1
	ExitBusy      = 75
	ExitCancelled = 130
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	dataDir    string
	debug      bool
	noEmbed    bool
	noColor    bool
	profile    profiling.Options

	// cleanups run once the command returns, successful or not.
	cleanups []func()
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd, _ := newRootCmd()
	return cmd
}

func newRootCmd() (*cobra.Command, *globalFlags) {
	g := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "strata",
		Short: "Local hybrid search over documents, streams, notes and code",
		Long: `strata keeps one local index over several corpora - archived documents,
append-only message streams, dated notes and source trees - and answers
queries with a blend of keyword relevance, semantic similarity and
cross-references between related chunks.

Configure sources in strata.yaml (see 'strata config init'), then run
'strata sync' and 'strata search <query>'.`,
		Version:           version.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: g.setup,
		PersistentPostRun: func(*cobra.Command, []string) { g.finish() },
	}
	cmd.SetVersionTemplate("strata version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&g.configPath, "config", "", "Config file (default: strata.yaml in the current directory)")
	cmd.PersistentFlags().StringVar(&g.dataDir, "data-dir", "", "Directory holding index.db (overrides data_dir)")
	cmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging to ~/.strata/logs/")
	cmd.PersistentFlags().BoolVar(&g.noEmbed, "no-embed", false, "Run without an embedder: keyword and cross-reference ranking only")
	cmd.PersistentFlags().BoolVar(&g.noColor, "no-color", false, "Disable colored output")
	cmd.PersistentFlags().StringVar(&g.profile.CPUProfile, "cpuprofile", "", "Write a CPU profile to this file")
	cmd.PersistentFlags().StringVar(&g.profile.HeapProfile, "memprofile", "", "Write a heap profile to this file on exit")
	cmd.PersistentFlags().StringVar(&g.profile.Trace, "trace", "", "Write an execution trace to this file")
	for _, name := range []string{"cpuprofile", "memprofile", "trace"} {
		_ = cmd.PersistentFlags().MarkHidden(name)
	}

	cmd.AddCommand(newSyncCmd(g))
	cmd.AddCommand(newSearchCmd(g))
	cmd.AddCommand(newStatsCmd(g))
	cmd.AddCommand(newCrossRefsCmd(g))
	cmd.AddCommand(newVacuumCmd(g))
	cmd.AddCommand(newRecentCmd(g))
	cmd.AddCommand(newWatchCmd(g))
	cmd.AddCommand(newServeCmd(g))
	cmd.AddCommand(newConfigCmd(g))
	cmd.AddCommand(newDoctorCmd(g))
	cmd.AddCommand(newValidateCmd(g))
	cmd.AddCommand(newVersionCmd())

	return cmd, g
}

// setup installs logging and starts any requested profiles.
func (g *globalFlags) setup(cmd *cobra.Command, args []string) error {
	if err := g.setupLogging(cmd, args); err != nil {
		return err
	}
	if !g.profile.Enabled() {
		return nil
	}
	session, err := profiling.Start(g.profile)
	if err != nil {
		return err
	}
	g.cleanups = append(g.cleanups, func() {
		if err := session.Stop(); err != nil {
			slog.Warn("profiling_stop_failed", slog.String("error", err.Error()))
		}
	})
	return nil
}

// finish runs cleanups in reverse order. It is safe to call twice.
func (g *globalFlags) finish() {
	for i := len(g.cleanups) - 1; i >= 0; i-- {
		g.cleanups[i]()
	}
	g.cleanups = nil
}

// setupLogging installs the debug file logger when --debug is set and a
// quiet stderr logger otherwise. serve replaces it with a file-only logger.
func (g *globalFlags) setupLogging(cmd *cobra.Command, _ []string) error {
	if !g.debug {
		logging.SetupQuiet("warn")
		return nil
	}
	cleanup, err := logging.Install(logging.DebugConfig())
	if err != nil {
		return fmt.Errorf("failed to setup debug logging: %w", err)
	}
	g.cleanups = append(g.cleanups, cleanup)
	slog.Debug("debug_logging_enabled",
		slog.String("command", cmd.CommandPath()),
		slog.String("log_file", logging.DefaultLogPath()),
		slog.String("version", version.Version))
	return nil
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	root, g := newRootCmd()
	err := root.ExecuteContext(context.Background())
	g.finish()
	if err == nil {
		return ExitOK
	}
	output.New(os.Stderr).Error(err)
	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case serrors.IsCancelled(err):
		return ExitCancelled
	case errors.Is(err, serrors.ErrWriterBusy):
		return ExitBusy
	default:
		return ExitError
	}
}
