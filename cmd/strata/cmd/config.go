package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/strata/configs"
	"github.com/Aman-CERP/strata/internal/config"
	"github.com/Aman-CERP/strata/internal/output"
)

func newConfigCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage strata configuration.

Configuration precedence (lowest to highest):
  1. Defaults
  2. User config (~/.config/strata/config.yaml)
  3. Project config (strata.yaml)
  4. .env next to the project config
  5. Environment variables (STRATA_*)`,
		Example: `  # Create strata.yaml in the current directory
  strata config init

  # Show effective configuration
  strata config show --json`,
	}

	cmd.AddCommand(newConfigInitCmd(g))
	cmd.AddCommand(newConfigShowCmd(g))
	cmd.AddCommand(newConfigPathCmd())
	cmd.AddCommand(newConfigRestoreCmd(g))

	return cmd
}

func newConfigInitCmd(g *globalFlags) *cobra.Command {
	var force, user, defaults bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file from a template",
		Long: `Write strata.yaml (or the --config path) with one example source of
each type. With --user the machine-wide user config is written instead.
--defaults writes the built-in defaults instead of the annotated template.
An existing file is kept unless --force is given, in which case it is
backed up first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, template := g.configPath, configs.ProjectConfigTemplate
			switch {
			case user:
				path, template = config.GetUserConfigPath(), configs.UserConfigTemplate
			case path == "":
				path = "strata.yaml"
			}
			if defaults {
				template = ""
			}
			return runConfigInit(cmd, g, path, template, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file (a backup is kept)")
	cmd.Flags().BoolVar(&user, "user", false, "Write the user config instead of strata.yaml")
	cmd.Flags().BoolVar(&defaults, "defaults", false, "Write every default setting instead of the template")

	return cmd
}

// runConfigInit writes template to path, or the built-in defaults when
// template is empty.
func runConfigInit(cmd *cobra.Command, g *globalFlags, path, template string, force bool) error {
	out := output.New(cmd.OutOrStdout(), output.WithNoColor(g.noColor))

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}
	if _, err := os.Stat(abs); err == nil && !force {
		out.Warningf("Configuration already exists: %s", abs)
		out.Status("", "Use --force to overwrite it (a backup is kept)")
		return nil
	}

	var backup string
	if template == "" {
		if backup, err = config.NewConfig().WriteWithBackup(abs); err != nil {
			return err
		}
	} else {
		if backup, err = config.Backup(abs); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		if err := os.WriteFile(abs, []byte(template), 0o644); err != nil {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}

	out.Successf("Created %s", abs)
	if backup != "" {
		out.Statusf("", "Backup: %s", backup)
	}
	out.Newline()
	out.Status("", "Next steps:")
	out.Status("", "  1. Point each source root at your files")
	out.Status("", "  2. Run 'strata sync'")
	out.Status("", "  3. Run 'strata search <query>'")
	return nil
}

func newConfigShowCmd(g *globalFlags) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long:  `Show the configuration after merging defaults, files and environment.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if jsonOutput {
				return output.New(cmd.OutOrStdout(), output.WithJSON(true)).JSON(cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print user config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}

func newConfigRestoreCmd(g *globalFlags) *cobra.Command {
	var user bool

	cmd := &cobra.Command{
		Use:   "restore [backup]",
		Short: "Restore a configuration backup",
		Long: `Replace strata.yaml (or the --config path, or the user config with
--user) with a backup made by 'config init --force'. Without an argument
the newest backup is used. The current file is backed up first.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.New(cmd.OutOrStdout(), output.WithNoColor(g.noColor))
			path := g.configPath
			switch {
			case user:
				path = config.GetUserConfigPath()
			case path == "":
				path = "strata.yaml"
			}

			backup := ""
			if len(args) == 1 {
				backup = args[0]
			} else {
				backups, err := config.ListBackups(path)
				if err != nil {
					return err
				}
				if len(backups) == 0 {
					out.Warningf("No backups of %s", path)
					return nil
				}
				backup = backups[0]
			}
			if err := config.Restore(path, backup); err != nil {
				return err
			}
			out.Successf("Restored %s from %s", path, backup)
			return nil
		},
	}

	cmd.Flags().BoolVar(&user, "user", false, "Restore the user config")

	return cmd
}
