package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/autoflow/internal/automation"
)

// newLevelCmd creates the level command
func newLevelCmd() *cobra.Command {
	var flags taskFlags
	cmd := &cobra.Command{
		Use:   "level [task-file]",
		Short: "Show the automation level and merge plan a task resolves to",
		Long: `Level resolves the automation level the way run does: task metadata,
then user preferences, then the per-type level, then the project default.
An adaptive level is resolved from the workflow history in the event store.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, res, err := preview(cmd, args, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			policy := automation.PolicyFor(res.Level)
			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, struct {
					Level    automation.Level  `json:"level"`
					Strategy string            `json:"strategy"`
					Policy   automation.Policy `json:"policy"`
					Plan     any               `json:"merge_plan"`
				}{res.Level, res.Strategy, policy, res.Plan})
			}

			fmt.Fprintf(out, "%s %s\n", render(out, titleStyle, "Level"), res.Level)
			printField(out, "strategy", res.Strategy)
			printField(out, "method", string(res.Plan.Method))
			printField(out, "pr", yesNo(policy.CreatePR))
			printField(out, "reviewers", yesNo(policy.RequestReviewers))
			printField(out, "review", yesNo(policy.RunReview))
			printField(out, "score gate", yesNo(policy.GateOnScore))
			printField(out, "confirm", yesNo(policy.RequireConfirmation))
			printField(out, "auto merge", yesNo(policy.AutoMerge))
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
