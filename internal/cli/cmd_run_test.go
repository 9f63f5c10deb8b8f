package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/autoflow/internal/automation"
	"github.com/randalmurphal/autoflow/internal/gitflow"
)

func TestRunCommand_MergesWithApproval(t *testing.T) {
	_, taskFile, svc := setupProject(t)

	out, err := execute(t, newRunCmd(), taskFile, "--yes", "--id", "wf-run")
	require.NoError(t, err)

	assert.Contains(t, out, "Workflow wf-run completed")
	assert.Contains(t, out, "2 ok")
	assert.Contains(t, out, "95.0 / 70.0 passed")
	assert.Equal(t, 1, svc.Count("create_pr"))
	assert.Equal(t, 1, svc.Count("merge"))
}

func TestRunCommand_ShowsProgress(t *testing.T) {
	_, taskFile, _ := setupProject(t)

	var out, errOut bytes.Buffer
	cmd := newRunCmd()
	cmd.SetArgs([]string{taskFile, "--yes"})
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(&bytes.Buffer{})
	require.NoError(t, cmd.Execute())

	progress := errOut.String()
	assert.Contains(t, progress, "branch creating (validating took")
	assert.Contains(t, progress, "review gating (executing took")
	assert.Contains(t, progress, "analyze (")
	assert.Contains(t, progress, "Workflow completed in")
	assert.NotContains(t, out.String(), "review gating")
}

func TestRunCommand_PendingConfirmationBlocks(t *testing.T) {
	_, taskFile, svc := setupProject(t)

	out, err := execute(t, newRunCmd(), taskFile, "--confirm", "pending")
	require.Error(t, err)

	assert.Equal(t, 4, ExitCode(err))
	assert.Contains(t, out, "blocked at merging")
	assert.Contains(t, out, "waits for confirmation")
	assert.Equal(t, 0, svc.Count("merge"))
}

func TestRunCommand_JSONAndLevelOverride(t *testing.T) {
	_, taskFile, svc := setupProject(t)
	withJSON(t)

	out, err := execute(t, newRunCmd(), taskFile, "--level", "full_auto")
	require.NoError(t, err)

	var res gitflow.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Success)
	assert.Equal(t, gitflow.StageCompleted, res.Stage)
	assert.Equal(t, automation.LevelFullAuto, res.Level)
	assert.Equal(t, 0, svc.Count("create_pr"))
	assert.Equal(t, 1, svc.Count("merge"))
}

func TestRunCommand_Errors(t *testing.T) {
	_, taskFile, _ := setupProject(t)

	tests := []struct {
		name string
		args []string
		code int
		want string
	}{
		{"no task", nil, 2, "task file or --jira"},
		{"bad level", []string{taskFile, "--level", "turbo"}, 2, "level"},
		{"missing file", []string{"nope.yaml"}, 1, "read task file"},
		{"jira without config", []string{"--jira", "PROJ-1"}, 2, "jira"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, newRunCmd(), tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.code, ExitCode(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSignals_FromEventStore(t *testing.T) {
	_, taskFile, _ := setupProject(t)

	_, err := execute(t, newRunCmd(), taskFile, "--yes")
	require.NoError(t, err)

	a, err := newApp(context.Background(), appOptions{confirm: confirmAuto})
	require.NoError(t, err)
	defer a.Close()

	s := a.Signals(context.Background())
	assert.Equal(t, 1, s.HistorySamples)
	assert.InDelta(t, 1.0, s.HistoricalSuccess, 0.001)
	assert.InDelta(t, 1.0, s.ReviewPassRate, 0.001)
}
