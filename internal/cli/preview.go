package cli

import (
	"github.com/spf13/cobra"

	"github.com/randalmurphal/autoflow/internal/gitflow"
)

// preview loads the task named by args and flags and resolves it without
// running anything. The caller closes the returned app.
func preview(cmd *cobra.Command, args []string, flags taskFlags) (*app, *gitflow.Result, error) {
	ctx := cmd.Context()
	a, err := newApp(ctx, appOptions{configFile: cfgFile, confirm: confirmPending})
	if err != nil {
		return nil, nil, err
	}
	t, wf, err := a.loadTask(ctx, taskArg(args), flags)
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	res := a.manager.Preview(ctx, gitflow.Run{
		Task:        t,
		ProjectPath: a.project,
		Workflow:    wf,
		Signals:     a.Signals(ctx),
	})
	return a, res, nil
}
