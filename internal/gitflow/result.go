package gitflow

import (
	"time"

	"github.com/randalmurphal/autoflow/internal/automation"
	"github.com/randalmurphal/autoflow/internal/pullrequest"
	"github.com/randalmurphal/autoflow/internal/review"
	"github.com/randalmurphal/autoflow/internal/strategy"
	"github.com/randalmurphal/autoflow/internal/workflow"
)

// Stage is a state of the workflow state machine.
type Stage string

const (
	StageValidating     Stage = "validating"
	StageBranchCreating Stage = "branch_creating"
	StageExecuting      Stage = "executing"
	StageReviewGating   Stage = "review_gating"
	StageMerging        Stage = "merging"
	StageCompleted      Stage = "completed"
	StageFailed         Stage = "failed"
)

// Terminal reports whether no transition leaves the stage.
func (s Stage) Terminal() bool { return s == StageCompleted || s == StageFailed }

func (s Stage) String() string { return string(s) }

// Transition is one recorded edge of the state machine.
type Transition struct {
	From     Stage         `json:"from"`
	To       Stage         `json:"to"`
	At       time.Time     `json:"at"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Result is the outcome of a workflow execution. On failure Stage is the
// stage that failed; a Recoverable result can be passed to Manager.Resume.
type Result struct {
	WorkflowID  string           `json:"workflow_id"`
	TaskID      string           `json:"task_id"`
	Success     bool             `json:"success"`
	Stage       Stage            `json:"stage"`
	Err         error            `json:"-"`
	Error       string           `json:"error,omitempty"`
	Recoverable bool             `json:"recoverable"`
	Level       automation.Level `json:"level"`
	Strategy    string           `json:"strategy"`
	Branch      string           `json:"branch"`
	BaseBranch  string           `json:"base_branch"`
	// Plan is how the strategy merges at Level.
	Plan strategy.MergePlan `json:"merge_plan"`

	Validation  *Validation           `json:"validation,omitempty"`
	Steps       *workflow.Result      `json:"steps,omitempty"`
	PullRequest *pullrequest.Result   `json:"pull_request,omitempty"`
	Review      *review.Result        `json:"review,omitempty"`
	Merge       *strategy.MergeResult `json:"merge,omitempty"`
	Transitions []Transition          `json:"transitions"`
	Duration    time.Duration         `json:"duration"`
	Snapshot    *workflow.Snapshot    `json:"context_snapshot,omitempty"`

	run *run
}

// PRNumber returns the number of the opened pull request, 0 when none.
func (r *Result) PRNumber() int {
	if r.PullRequest == nil || r.PullRequest.Record == nil || r.PullRequest.Skipped {
		return 0
	}
	return r.PullRequest.Record.Number
}

// PRURL returns the URL of the opened pull request, "" when none.
func (r *Result) PRURL() string {
	if r.PullRequest == nil || r.PullRequest.Record == nil {
		return ""
	}
	return r.PullRequest.Record.URL
}

// Context returns the workflow context of the run, nil for results not
// produced by a Manager.
func (r *Result) Context() *workflow.Context {
	if r.run == nil {
		return nil
	}
	return r.run.wctx
}
