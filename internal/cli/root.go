// Package cli implements the autoflow command-line interface.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
	quiet   bool
	jsonOut bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "autoflow",
	Short: "Automated git workflows for development tasks",
	Long: `autoflow drives a development task through a git workflow:
validate, branch, run the task's steps, open a pull request, review it and
merge it, with the amount of human involvement set by the automation level.

Automation levels:
  manual       autoflow stops after the pull request; a human merges
  assisted     reviewers requested, review gate and confirmation
  semi_auto    review gate and confirmation, no reviewers requested
  full_auto    no pull request or gate, merge directly
  adaptive     one of the above, picked from recent history

Quick start:
  autoflow validate task.yaml        Check a task without changing git state
  autoflow branch-name task.yaml     Show the branch a task would use
  autoflow level task.yaml           Show the resolved automation level
  autoflow run task.yaml             Run the workflow`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		slog.SetDefault(newLogger(cmd.ErrOrStderr()))
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Errors are printed before they are returned.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		PrintError(err)
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file merged after .autoflow/config.yaml")
	rootCmd.PersistentFlags().StringP("project", "C", "", "project repository (default is the current directory)")
	rootCmd.PersistentFlags().String("user", "", "user whose preferences apply")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only log warnings and errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON")
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))

	// Add subcommands
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newBranchNameCmd())
	rootCmd.AddCommand(newLevelCmd())
	rootCmd.AddCommand(newEventsCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// initConfig binds AUTOFLOW_PROJECT and AUTOFLOW_USER. The configuration
// file layers are read by config.Load once the project is known.
func initConfig() {
	viper.SetEnvPrefix("AUTOFLOW")
	viper.AutomaticEnv()

	if cfgFile != "" && verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", cfgFile)
	}
}

// newLogger builds the process logger from the output flags. Logs go to
// w so stdout stays clean for results.
func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case verbose:
		level = slog.LevelDebug
	case quiet:
		level = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: level}
	if jsonOut {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
