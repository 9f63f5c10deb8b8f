package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newValidateCmd creates the validate command
func newValidateCmd() *cobra.Command {
	var flags taskFlags
	cmd := &cobra.Command{
		Use:   "validate [task-file]",
		Short: "Check a task against the project without changing git state",
		Long: `Validate runs the checks the workflow runs before it creates a branch:
the task is complete, the project path is a directory, the branch name is
legal, not protected and not taken, and the base branch exists.

Exits with status 2 when a check fails.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, res, err := preview(cmd, args, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if jsonOut {
				if err := writeJSON(out, res.Validation); err != nil {
					return err
				}
				return res.Err
			}
			if res.Success {
				fmt.Fprintf(out, "%s %s -> %s\n", render(out, successStyle, "valid"), res.Branch, res.BaseBranch)
				return nil
			}
			fmt.Fprintln(out, render(out, errorStyle, "invalid"))
			for _, e := range res.Validation.Errors {
				fmt.Fprintf(out, "  %s %s\n", render(out, errorStyle, "x"), e)
			}
			return res.Err
		},
	}
	flags.register(cmd)
	return cmd
}
