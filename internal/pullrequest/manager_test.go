package pullrequest

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/autoflow/internal/automation"
	"github.com/randalmurphal/autoflow/internal/errors"
	"github.com/randalmurphal/autoflow/internal/git/gittest"
)

func TestFullAutoSkipsWithoutSideEffects(t *testing.T) {
	svc := gittest.New("feature/x")
	m := NewManager(svc, nil)

	res, err := m.CreatePullRequest(context.Background(), "/repo", Request{
		WorkflowID: "wf", Source: "feature/x", Target: "main", Level: automation.LevelFullAuto,
	})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, "full_auto_mode", res.Reason)
	assert.Empty(t, svc.Calls())

	_, ok := m.Latest("wf")
	assert.False(t, ok)
	assert.Len(t, m.Records("wf"), 1)
}

func TestCreatePullRequest(t *testing.T) {
	tests := []struct {
		level         automation.Level
		wantReviewers []string
	}{
		{automation.LevelManual, []string{"alice"}},
		{automation.LevelAssisted, []string{"alice"}},
		{automation.LevelSemiAuto, nil},
	}
	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			svc := gittest.New("feature/x")
			m := NewManager(svc, nil)

			res, err := m.CreatePullRequest(context.Background(), "/repo", Request{
				WorkflowID: "wf", Source: "feature/x", Target: "main", Title: "Add x",
				Reviewers: []string{"alice"}, Level: tt.level,
			})
			require.NoError(t, err)
			assert.False(t, res.Skipped)
			assert.Equal(t, 1, res.Record.Number)
			assert.Equal(t, tt.wantReviewers, res.Record.Reviewers)
			assert.Equal(t, []string{"branch_exists", "create_pr"}, svc.Ops())

			latest, ok := m.Latest("wf")
			require.True(t, ok)
			assert.Equal(t, "https://example.test/pr/1", latest.URL)
		})
	}
}

func TestCreatePullRequestValidation(t *testing.T) {
	tests := []struct {
		name   string
		source string
		target string
		want   error
	}{
		{"same branch", "main", "main", ErrSameBranch},
		{"missing branch", "feature/gone", "main", ErrBranchNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := gittest.New("main")
			m := NewManager(svc, nil)
			_, err := m.CreatePullRequest(context.Background(), "/repo", Request{
				Source: tt.source, Target: tt.target, Level: automation.LevelAssisted,
			})
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, errors.ErrPullRequest("", nil))
			assert.True(t, errors.IsRecoverable(err))
			assert.Zero(t, svc.Count("create_pr"))
		})
	}
}

func TestCreatePullRequestProviderError(t *testing.T) {
	svc := gittest.New("feature/x")
	svc.Errs["create_pr"] = errors.ErrPullRequest("feature/x", stderrors.New("rate limited"))
	m := NewManager(svc, nil)

	_, err := m.CreatePullRequest(context.Background(), "/repo", Request{
		WorkflowID: "wf", Source: "feature/x", Target: "main", Level: automation.LevelSemiAuto,
	})
	require.Error(t, err)
	assert.Empty(t, m.Records("wf"))
}
