package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/autoflow/internal/automation"
	flowerrors "github.com/randalmurphal/autoflow/internal/errors"
	"github.com/randalmurphal/autoflow/internal/jira"
	"github.com/randalmurphal/autoflow/internal/task"
	"github.com/randalmurphal/autoflow/internal/workflow"
)

// taskFlags select the task a command works on.
type taskFlags struct {
	jiraKey string
	level   string
}

func (f *taskFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.jiraKey, "jira", "", "load the task from a Jira issue key; steps still come from the task file")
	cmd.Flags().StringVar(&f.level, "level", "", "override the automation level (manual, assisted, semi_auto, full_auto, adaptive)")
}

// loadTask reads the task file at path, the Jira issue named by flags, or
// both. The returned workflow is nil when the file declares no steps.
func (a *app) loadTask(ctx context.Context, path string, flags taskFlags) (*task.Task, *workflow.Composed, error) {
	var (
		t  *task.Task
		wf *workflow.Composed
	)
	if path != "" {
		file, err := task.LoadFile(path)
		if err != nil {
			return nil, nil, err
		}
		t = &file.Task
		if len(file.Steps) > 0 {
			wf, err = workflow.FromFile(file, nil)
			if err != nil {
				return nil, nil, flowerrors.ErrValidation([]string{fmt.Sprintf("%s: %v", path, err)})
			}
		}
	}

	if flags.jiraKey != "" {
		src, err := a.jiraSource()
		if err != nil {
			return nil, nil, err
		}
		jt, err := src.FetchTask(ctx, flags.jiraKey)
		if err != nil {
			return nil, nil, fmt.Errorf("fetch jira issue %s: %w", flags.jiraKey, err)
		}
		t = jt
	}

	if t == nil {
		return nil, nil, flowerrors.ErrValidation([]string{"a task file or --jira issue key is required"})
	}

	if flags.level != "" {
		level, err := automation.ParseLevel(flags.level)
		if err != nil {
			return nil, nil, flowerrors.ErrConfigInvalid("level", err.Error())
		}
		if t.Metadata == nil {
			t.Metadata = make(map[string]string)
		}
		t.Metadata[task.MetaAutomationLevel] = string(level)
	}
	return t, wf, nil
}

func (a *app) jiraSource() (*jira.Source, error) {
	cfg := a.cfg.Jira
	client, err := jira.NewClient(jira.ClientConfig{
		BaseURL:  cfg.URL,
		Email:    cfg.Email,
		APIToken: os.Getenv(cfg.TokenEnvVar),
	})
	if err != nil {
		return nil, flowerrors.ErrConfigInvalid("jira", err.Error())
	}
	return jira.NewSource(client), nil
}

func taskArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
