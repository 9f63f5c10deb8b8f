package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newBranchNameCmd creates the branch-name command
func newBranchNameCmd() *cobra.Command {
	var flags taskFlags
	cmd := &cobra.Command{
		Use:   "branch-name [task-file]",
		Short: "Print the branch a task would be worked on",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, res, err := preview(cmd, args, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, map[string]string{
					"branch":      res.Branch,
					"base_branch": res.BaseBranch,
					"strategy":    res.Strategy,
				})
			}
			fmt.Fprintln(out, res.Branch)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
