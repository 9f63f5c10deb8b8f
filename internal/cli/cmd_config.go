package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/autoflow/internal/config"
)

// newConfigCmd creates the config command with subcommands.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and initialize configuration",
		Long: `View and initialize autoflow configuration.

Configuration is loaded from these sources, later ones winning:
  1. Built-in defaults
  2. ~/.autoflow/config.yaml
  3. <project>/.autoflow/config.yaml
  4. --config file
  5. AUTOFLOW_* environment variables`,
	}
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())
	return cmd
}

// newConfigShowCmd creates the 'config show' subcommand.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show merged configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := resolveProject("")
			if err != nil {
				return err
			}
			loaded, err := config.Load(config.LoadOptions{ProjectPath: project, File: cfgFile})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, struct {
					Config       *config.Config `json:"config"`
					Files        []string       `json:"files"`
					EnvOverrides []string       `json:"env_overrides"`
				}{loaded.Config, loaded.Files, loaded.EnvOverrides})
			}

			for _, f := range loaded.Files {
				fmt.Fprintf(out, "# file: %s\n", f)
			}
			for _, e := range loaded.EnvOverrides {
				fmt.Fprintf(out, "# env:  %s\n", e)
			}
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(loaded.Config); err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			return enc.Close()
		},
	}
}

// newConfigInitCmd creates the 'config init' subcommand.
func newConfigInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration to the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := resolveProject("")
			if err != nil {
				return err
			}
			path := filepath.Join(project, config.Dir, config.FileName)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Save(config.Default(), path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", render(cmd.OutOrStdout(), successStyle, "wrote"), path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config file")
	return cmd
}
