package cli

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	flowerrors "github.com/randalmurphal/autoflow/internal/errors"
	"github.com/randalmurphal/autoflow/internal/gate"
	"github.com/randalmurphal/autoflow/internal/gitflow"
	"github.com/randalmurphal/autoflow/internal/progress"
)

// newRunCmd creates the run command
func newRunCmd() *cobra.Command {
	var (
		flags       taskFlags
		workflowID  string
		confirm     string
		yes         bool
		metricsFile string
	)
	cmd := &cobra.Command{
		Use:   "run [task-file]",
		Short: "Run a task through the git workflow",
		Long: `Run validates the task, creates its branch, executes the task file's
steps, opens a pull request, reviews it and merges it as the automation
level allows.

Merges that need confirmation prompt on a terminal. Without a terminal the
decision is recorded as pending and the workflow stops; re-run with --yes
to approve.

Example task file:

  task:
    id: PROJ-42
    type: feature
    title: Add rate limiting
  strategy: smart
  steps:
    - id: lint
      kind: analysis
      run: golangci-lint run --out-format json
    - id: test
      kind: testing
      run: go test ./...
      after: [lint]`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := SetupSignalHandler(cmd.Context())
			defer cancel()

			if yes {
				confirm = confirmAuto
			}
			a, err := newApp(ctx, appOptions{
				configFile: cfgFile,
				confirm:    confirm,
				in:         cmd.InOrStdin(),
				out:        cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			defer a.Close()

			t, wf, err := a.loadTask(ctx, taskArg(args), flags)
			if err != nil {
				return err
			}

			if workflowID == "" {
				workflowID = uuid.NewString()
			}
			stopProgress := func() {}
			if !jsonOut && !quiet {
				ch := a.publisher.Subscribe(workflowID)
				done := make(chan struct{})
				go func() {
					defer close(done)
					progress.New(cmd.ErrOrStderr(), false).Follow(ctx, ch)
				}()
				// Unsubscribe closes ch; Follow drains what is buffered first.
				stopProgress = func() {
					a.publisher.Unsubscribe(workflowID, ch)
					<-done
				}
			}

			res, runErr := a.manager.Execute(ctx, gitflow.Run{
				WorkflowID:  workflowID,
				Task:        t,
				ProjectPath: a.project,
				Workflow:    wf,
				Signals:     a.Signals(ctx),
			})
			stopProgress()

			if metricsFile != "" {
				if err := a.WriteMetrics(metricsFile); err != nil {
					a.logger.Warn("metrics not written", "path", metricsFile, "error", err)
				}
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				if err := writeJSON(out, res); err != nil {
					return err
				}
				return runErr
			}
			printResult(out, res)
			if fe := flowerrors.AsFlowError(runErr); fe != nil && fe.Code == flowerrors.CodeMergeConflict {
				progress.ConflictHelp(out, a.project, res.Branch, res.BaseBranch, fe.Files)
			}
			if a.pending != nil {
				printPending(out, a.pending.List())
			}
			return runErr
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&workflowID, "id", "", "workflow id (default is a random UUID)")
	cmd.Flags().StringVar(&confirm, "confirm", "", "merge confirmation: prompt, pending or auto (default prompts on a terminal)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "approve gated merges, same as --confirm auto")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this file after the run")
	return cmd
}

func printPending(w io.Writer, pending []*gate.PendingDecision) {
	for _, p := range pending {
		fmt.Fprintf(w, "\n%s merge of %s into %s waits for confirmation (decision %s)\n",
			render(w, warnStyle, "pending:"), p.Request.Source, p.Request.Target, p.DecisionID)
		fmt.Fprintf(w, "  branch %s is kept; merge it by hand or re-run with --yes\n", p.Request.Source)
	}
}
