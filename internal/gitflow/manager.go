// Package gitflow runs a task through the git workflow state machine:
//
//	validating → branch_creating → executing → review_gating → merging → completed
//
// with failed reachable from every non-terminal stage. Every transition is
// recorded through metrics and the audit trail, success or failure.
package gitflow

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/autoflow/internal/audit"
	"github.com/randalmurphal/autoflow/internal/automation"
	"github.com/randalmurphal/autoflow/internal/errors"
	"github.com/randalmurphal/autoflow/internal/gate"
	"github.com/randalmurphal/autoflow/internal/git"
	"github.com/randalmurphal/autoflow/internal/lock"
	"github.com/randalmurphal/autoflow/internal/metrics"
	"github.com/randalmurphal/autoflow/internal/preferences"
	"github.com/randalmurphal/autoflow/internal/pullrequest"
	"github.com/randalmurphal/autoflow/internal/review"
	"github.com/randalmurphal/autoflow/internal/strategy"
	"github.com/randalmurphal/autoflow/internal/task"
	"github.com/randalmurphal/autoflow/internal/workflow"
)

// ErrNotRecoverable is returned by Resume for results that cannot resume.
var ErrNotRecoverable = stderrors.New("workflow result is not recoverable")

// Reviewer scores a pull request. *review.Service implements it.
type Reviewer interface {
	Review(ctx context.Context, projectPath string, prNumber int, opts review.Options) (*review.Result, error)
}

// Deps are the collaborators of a Manager. Git, Strategies and Engine are
// required; everything else has a usable zero value.
type Deps struct {
	Git git.Service
	// Locker serializes git mutations per project path. Defaults to an
	// in-process lock.MemoryLocker.
	Locker     lock.Locker
	Strategies *strategy.Registry
	Engine     workflow.Runner
	Reviewer   Reviewer
	Automation *automation.Manager
	// Confirmer answers gated merges. Without one, gated merges stay
	// pending and the workflow fails recoverable.
	Confirmer   gate.Confirmer
	Preferences preferences.Store
	Auditor     *audit.Auditor
	Metrics     *metrics.Metrics
}

// Settings are the per-project knobs of a Manager.
type Settings struct {
	Automation  automation.Settings
	BaseBranch  string
	Protected   []string
	ReviewDepth review.Depth
	Threshold   float64
	// DeleteBranchOnFailure removes the work branch when branch creation
	// or step execution fails or is cancelled.
	DeleteBranchOnFailure bool
	// DeleteSourceOnMerge removes the work branch after a merge.
	DeleteSourceOnMerge bool
	// User selects per-user preferences.
	User string
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

// WithClock overrides the time source used for branch names and durations.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// Manager orchestrates workflows. It is safe for concurrent use; workflows
// on the same project path only serialize their git mutations.
type Manager struct {
	git        *git.LockedService
	strategies *strategy.Registry
	engine     workflow.Runner
	reviewer   Reviewer
	automation *automation.Manager
	confirmer  gate.Confirmer
	prefs      preferences.Store
	auditor    *audit.Auditor
	metrics    *metrics.Metrics
	prs        *pullrequest.Manager
	validator  *Validator
	settings   Settings
	logger     *slog.Logger
	now        func() time.Time
}

// NewManager creates a Manager.
func NewManager(deps Deps, settings Settings, opts ...Option) (*Manager, error) {
	switch {
	case deps.Git == nil:
		return nil, fmt.Errorf("gitflow: git service is required")
	case deps.Strategies == nil:
		return nil, fmt.Errorf("gitflow: strategy registry is required")
	case deps.Engine == nil:
		return nil, fmt.Errorf("gitflow: execution engine is required")
	}
	if settings.BaseBranch == "" {
		settings.BaseBranch = "main"
	}

	m := &Manager{
		strategies: deps.Strategies,
		engine:     deps.Engine,
		reviewer:   deps.Reviewer,
		automation: deps.Automation,
		confirmer:  deps.Confirmer,
		prefs:      deps.Preferences,
		auditor:    deps.Auditor,
		metrics:    deps.Metrics,
		settings:   settings,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	locker := deps.Locker
	if locker == nil {
		locker = lock.NewMemoryLocker()
	}
	m.git = git.Locked(deps.Git, locker)
	m.prs = pullrequest.NewManager(m.git, m.logger)
	m.validator = NewValidator(settings.Protected, m.git)
	if m.automation == nil {
		m.automation = automation.NewManager(m.logger)
	}
	if m.auditor == nil {
		m.auditor = audit.New(nil, audit.WithLogger(m.logger))
	}
	return m, nil
}

// PullRequests returns the pull request tracker.
func (m *Manager) PullRequests() *pullrequest.Manager { return m.prs }

// Run is one workflow execution request.
type Run struct {
	// WorkflowID defaults to a random UUID.
	WorkflowID  string
	Task        *task.Task
	ProjectPath string
	// Workflow holds the steps to execute. Nil runs no steps.
	Workflow *workflow.Composed
	// Signals feed adaptive level resolution.
	Signals automation.Signals
}

// run is the state carried from Execute to Resume.
type run struct {
	wctx       *workflow.Context
	strategy   strategy.Strategy
	plan       strategy.MergePlan
	policy     automation.Policy
	confidence float64
	started    time.Time
	entered    time.Time
	prErr      error
	logger     *slog.Logger
}

// Execute runs the workflow. The returned result is never nil; its Err is
// also returned.
func (m *Manager) Execute(ctx context.Context, r Run) (*Result, error) {
	rn, res := m.prepare(r)
	rn.logger.Info("workflow started", "branch", res.Branch, "base_branch", res.BaseBranch, "confidence", rn.confidence)

	if !m.validate(ctx, rn, res) {
		return m.finish(ctx, rn, res)
	}
	if !m.createBranch(ctx, rn, res) {
		return m.finish(ctx, rn, res)
	}
	if !m.executeSteps(ctx, rn, res, r.Workflow) {
		return m.finish(ctx, rn, res)
	}
	m.continueFrom(ctx, rn, res, StageReviewGating)
	return m.finish(ctx, rn, res)
}

// Preview resolves the level, strategy and branches of r and validates
// them without touching git state, recording audit entries or metrics.
// The result stays in the validating stage; Success reports whether the
// workflow would pass validation.
func (m *Manager) Preview(ctx context.Context, r Run) *Result {
	rn, res := m.prepare(r)
	v := m.validator.Validate(ctx, rn.wctx)
	res.Validation = &v
	res.Success = v.Valid
	if !v.Valid {
		err := errors.ErrValidation(v.Errors).AtStage(StageValidating.String())
		res.Err, res.Error = err, err.Error()
	}
	snap := rn.wctx.Snapshot()
	res.Snapshot = &snap
	return res
}

// prepare builds the run state of r: level, strategy, branch names and
// merge plan.
func (m *Manager) prepare(r Run) (*run, *Result) {
	id := r.WorkflowID
	if id == "" {
		id = uuid.NewString()
	}
	t := r.Task
	if t == nil {
		t = &task.Task{}
	}
	wctx := workflow.NewContext(id, t, r.ProjectPath)
	st := m.strategies.For(t.Type)
	started := m.now()

	prefs := m.lookupPreferences(r.ProjectPath)
	confidence := m.automation.Confidence(m.settings.Automation.Adaptive, r.Signals)
	level := m.automation.ResolveLevel(t, m.settings.Automation, &prefs, confidence)
	wctx.SetLevel(level)
	wctx.SetReviewers(prefs.Reviewers)

	base := t.Meta(task.MetaBaseBranch)
	if base == "" {
		base = st.BaseBranch(m.settings.BaseBranch)
	}
	wctx.SetBaseBranch(base)
	wctx.SetBranch(st.BranchName(t, started))

	rn := &run{
		wctx:       wctx,
		strategy:   st,
		plan:       st.Plan(level),
		policy:     automation.PolicyFor(level),
		confidence: confidence,
		started:    started,
		entered:    started,
		logger: m.logger.With(
			"workflow_id", id,
			"task_id", t.ID,
			"level", level,
			"strategy", st.Name(),
		),
	}
	res := &Result{
		WorkflowID: id,
		TaskID:     t.ID,
		Stage:      StageValidating,
		Level:      level,
		Strategy:   st.Name(),
		Branch:     wctx.Branch(),
		BaseBranch: base,
		Plan:       rn.plan,
		run:        rn,
	}
	return rn, res
}

// Resume continues a recoverable result from the stage it failed in,
// without replaying completed steps. The previous result is not changed.
func (m *Manager) Resume(ctx context.Context, prev *Result) (*Result, error) {
	if prev == nil || prev.run == nil || !prev.Recoverable {
		return prev, ErrNotRecoverable
	}
	if prev.Stage != StageReviewGating && prev.Stage != StageMerging {
		return prev, ErrNotRecoverable
	}

	rn := *prev.run
	rn.entered = m.now()
	rn.prErr = nil
	res := *prev
	res.Success = false
	res.Err = nil
	res.Error = ""
	res.Recoverable = false
	res.Transitions = append([]Transition(nil), prev.Transitions...)
	res.run = &rn

	rn.logger.Info("workflow resumed", "stage", prev.Stage)
	m.auditor.Record(ctx, rn.wctx, audit.Entry{
		Stage:   prev.Stage.String(),
		Action:  audit.ActionWorkflowResumed,
		Outcome: audit.OutcomeSuccess,
		Detail:  fmt.Sprintf("resumed at %s after: %s", prev.Stage, prev.Error),
	})

	from := prev.Stage
	if from == StageMerging && res.Review != nil && !res.Review.Passed && rn.plan.GateOnScore {
		// The blocked review is stale once a human has pushed fixes.
		from = StageReviewGating
	}
	m.continueFrom(ctx, &rn, &res, from)
	return m.finish(ctx, &rn, &res)
}

func (m *Manager) continueFrom(ctx context.Context, rn *run, res *Result, from Stage) {
	if from == StageReviewGating {
		res.Stage = StageReviewGating
		if !m.reviewGate(ctx, rn, res) {
			return
		}
	}
	res.Stage = StageMerging
	if !m.merge(ctx, rn, res) {
		return
	}
	m.transition(ctx, rn, res, StageCompleted, nil)
}

func (m *Manager) lookupPreferences(projectPath string) automation.Preferences {
	if m.prefs == nil {
		return automation.Preferences{}
	}
	return m.prefs.Lookup(m.settings.User, projectPath)
}

func (m *Manager) validate(ctx context.Context, rn *run, res *Result) bool {
	v := m.validator.Validate(ctx, rn.wctx)
	res.Validation = &v
	if !v.Valid {
		m.fail(ctx, rn, res, errors.ErrValidation(v.Errors), false)
		return false
	}
	m.auditor.Record(ctx, rn.wctx, audit.Entry{
		Stage:   StageValidating.String(),
		Action:  audit.ActionValidated,
		Outcome: audit.OutcomeSuccess,
	})
	m.transition(ctx, rn, res, StageBranchCreating, nil)
	return true
}

func (m *Manager) createBranch(ctx context.Context, rn *run, res *Result) bool {
	branch, base := rn.wctx.Branch(), rn.wctx.BaseBranch()
	if err := m.git.CreateBranch(ctx, rn.wctx.ProjectPath(), branch, base); err != nil {
		m.deleteBranch(ctx, rn, StageBranchCreating)
		if ctx.Err() != nil {
			m.cancel(ctx, rn, res, ctx.Err())
			return false
		}
		m.fail(ctx, rn, res, wrapGit("create branch", err), false)
		return false
	}
	m.auditor.Record(ctx, rn.wctx, audit.Entry{
		Stage:   StageBranchCreating.String(),
		Action:  audit.ActionBranchCreated,
		Outcome: audit.OutcomeSuccess,
		Detail:  fmt.Sprintf("%s from %s", branch, base),
	})
	m.transition(ctx, rn, res, StageExecuting, nil)
	return true
}

func (m *Manager) executeSteps(ctx context.Context, rn *run, res *Result, wf *workflow.Composed) bool {
	if wf == nil {
		m.auditor.Record(ctx, rn.wctx, audit.Entry{
			Stage:   StageExecuting.String(),
			Action:  audit.ActionStepsCompleted,
			Outcome: audit.OutcomeSkipped,
			Detail:  "no steps",
		})
		m.transition(ctx, rn, res, StageReviewGating, nil)
		return true
	}

	steps, err := wf.WithRunner(m.engine).Execute(ctx, rn.wctx)
	res.Steps = steps
	if steps != nil && steps.Cancelled {
		m.deleteBranch(ctx, rn, StageExecuting)
		m.cancel(ctx, rn, res, err)
		return false
	}
	if err != nil {
		m.auditor.Record(ctx, rn.wctx, audit.Entry{
			Stage:   StageExecuting.String(),
			Action:  audit.ActionStepsCompleted,
			Outcome: audit.OutcomeFailure,
			Detail:  stepSummary(steps),
			Err:     err,
		})
		m.deleteBranch(ctx, rn, StageExecuting)
		m.fail(ctx, rn, res, err, false)
		return false
	}

	m.auditor.Record(ctx, rn.wctx, audit.Entry{
		Stage:   StageExecuting.String(),
		Action:  audit.ActionStepsCompleted,
		Outcome: audit.OutcomeSuccess,
		Detail:  stepSummary(steps),
	})
	m.transition(ctx, rn, res, StageReviewGating, nil)
	return true
}

// reviewGate opens the pull request and runs the automated review. A
// failed pull request is remembered; it only blocks levels that merge
// through one.
func (m *Manager) reviewGate(ctx context.Context, rn *run, res *Result) bool {
	wctx := rn.wctx
	if res.PullRequest == nil && !m.openPullRequest(ctx, rn, res) {
		return false
	}

	if rn.policy.RunReview && m.reviewer != nil {
		rv, err := m.reviewer.Review(ctx, wctx.ProjectPath(), res.PRNumber(), review.Options{
			Depth:      m.settings.ReviewDepth,
			Branch:     wctx.Branch(),
			BaseBranch: wctx.BaseBranch(),
			Threshold:  m.settings.Threshold,
		})
		switch {
		case err != nil && ctx.Err() != nil:
			m.cancel(ctx, rn, res, ctx.Err())
			return false
		case err != nil:
			rn.logger.Warn("review failed", "branch", wctx.Branch(), "error", err)
			m.auditor.Record(ctx, wctx, audit.Entry{
				Stage:   StageReviewGating.String(),
				Action:  audit.ActionReviewCompleted,
				Outcome: audit.OutcomeFailure,
				Err:     err,
			})
			m.fail(ctx, rn, res, errors.ErrReview(err), true)
			return false
		}
		res.Review = rv
		outcome := audit.OutcomeSuccess
		if !rv.Passed {
			outcome = audit.OutcomeFailure
		}
		m.auditor.Record(ctx, wctx, audit.Entry{
			Stage:   StageReviewGating.String(),
			Action:  audit.ActionReviewCompleted,
			Outcome: outcome,
			Detail:  fmt.Sprintf("score %.1f threshold %.1f degraded %d", rv.Score, rv.Threshold, len(rv.Degraded)),
		})
	}

	m.transition(ctx, rn, res, StageMerging, nil)
	return true
}

// openPullRequest opens the pull request unless the level skips it. It
// returns false only when ctx was cancelled.
func (m *Manager) openPullRequest(ctx context.Context, rn *run, res *Result) bool {
	wctx := rn.wctx
	t := wctx.Task()
	pr, err := m.prs.CreatePullRequest(ctx, wctx.ProjectPath(), pullrequest.Request{
		WorkflowID: wctx.ID(),
		Source:     wctx.Branch(),
		Target:     wctx.BaseBranch(),
		Title:      prTitle(t),
		Body:       t.Description,
		Labels:     rn.strategy.Labels(),
		Reviewers:  wctx.Reviewers(),
		Level:      wctx.Level(),
	})
	switch {
	case err != nil && ctx.Err() != nil:
		m.cancel(ctx, rn, res, ctx.Err())
		return false
	case err != nil:
		rn.prErr = err
		rn.logger.Warn("pull request failed", "branch", wctx.Branch(), "error", err)
		m.auditor.Record(ctx, wctx, audit.Entry{
			Stage:   StageReviewGating.String(),
			Action:  audit.ActionPRCreated,
			Outcome: audit.OutcomeFailure,
			Err:     err,
		})
	case pr.Skipped:
		res.PullRequest = pr
		m.auditor.Record(ctx, wctx, audit.Entry{
			Stage:   StageReviewGating.String(),
			Action:  audit.ActionPRSkipped,
			Outcome: audit.OutcomeSkipped,
			Detail:  pr.Reason,
		})
	default:
		res.PullRequest = pr
		m.auditor.Record(ctx, wctx, audit.Entry{
			Stage:   StageReviewGating.String(),
			Action:  audit.ActionPRCreated,
			Outcome: audit.OutcomeSuccess,
			Detail:  fmt.Sprintf("#%d %s", pr.Record.Number, pr.Record.URL),
		})
	}
	return true
}

func (m *Manager) merge(ctx context.Context, rn *run, res *Result) bool {
	wctx := rn.wctx
	plan := rn.plan

	if res.Merge != nil && res.Merge.Merged {
		return m.retag(ctx, rn, res)
	}

	if !plan.Auto {
		res.Merge = &strategy.MergeResult{Skipped: true, Reason: plan.Reason}
		m.auditor.Record(ctx, wctx, audit.Entry{
			Stage:   StageMerging.String(),
			Action:  audit.ActionMergeCompleted,
			Outcome: audit.OutcomeSkipped,
			Detail:  plan.Reason,
		})
		return true
	}

	if rn.prErr != nil && rn.policy.CreatePR {
		m.block(ctx, rn, res, errors.ErrPullRequest(wctx.Branch(), rn.prErr), StageReviewGating)
		return false
	}

	if plan.GateOnScore {
		score := 0.0
		if res.Review != nil {
			score = res.Review.Score
		}
		if res.Review == nil || score < m.settings.Threshold {
			m.block(ctx, rn, res, errors.ErrReviewGate(score, m.settings.Threshold), StageMerging)
			return false
		}
	}

	if plan.RequireConfirmation {
		if ok := m.confirm(ctx, rn, res); !ok {
			return false
		}
	}

	opts := m.mergeOptions(rn, res)
	mr, err := rn.strategy.Merge(ctx, m.git, wctx.ProjectPath(), wctx.Branch(), wctx.BaseBranch(), opts)
	if err != nil && mr != nil && mr.Merged {
		// The merge stands; only the release tag failed.
		res.Merge = mr
		m.recordMerge(ctx, rn, mr)
		m.tagFailed(ctx, rn, res, err)
		return false
	}
	if err != nil {
		if ctx.Err() != nil {
			m.cancel(ctx, rn, res, ctx.Err())
			return false
		}
		if errors.IsRecoverable(err) {
			m.block(ctx, rn, res, err, StageMerging)
			return false
		}
		res.Merge = mr
		m.fail(ctx, rn, res, wrapGit("merge", err), false)
		return false
	}

	res.Merge = mr
	m.recordMerge(ctx, rn, mr)
	return true
}

func (m *Manager) mergeOptions(rn *run, res *Result) strategy.MergeOptions {
	wctx := rn.wctx
	return strategy.MergeOptions{
		Method:       rn.plan.Method,
		PRNumber:     res.PRNumber(),
		Message:      prTitle(wctx.Task()),
		DeleteSource: m.settings.DeleteSourceOnMerge,
		Task:         wctx.Task(),
	}
}

func (m *Manager) recordMerge(ctx context.Context, rn *run, mr *strategy.MergeResult) {
	wctx := rn.wctx
	m.auditor.Record(ctx, wctx, audit.Entry{
		Stage:   StageMerging.String(),
		Action:  audit.ActionMergeCompleted,
		Outcome: audit.OutcomeSuccess,
		Detail:  fmt.Sprintf("%s into %s (%s) %s", wctx.Branch(), wctx.BaseBranch(), mr.Method, mr.SHA),
	})
	if mr.Tag != "" {
		m.auditor.Record(ctx, wctx, audit.Entry{
			Stage:   StageMerging.String(),
			Action:  audit.ActionReleaseTagged,
			Outcome: audit.OutcomeSuccess,
			Detail:  mr.Tag,
		})
	}
}

// retag retries the release tag of a merge that already happened.
func (m *Manager) retag(ctx context.Context, rn *run, res *Result) bool {
	tagger, ok := rn.strategy.(strategy.Tagger)
	if !ok || res.Merge.Tag != "" {
		return true
	}
	wctx := rn.wctx
	merged := *res.Merge
	res.Merge = &merged
	if err := tagger.TagMerge(ctx, m.git, wctx.ProjectPath(), wctx.BaseBranch(), &merged, m.mergeOptions(rn, res)); err != nil {
		m.tagFailed(ctx, rn, res, err)
		return false
	}
	m.auditor.Record(ctx, wctx, audit.Entry{
		Stage:   StageMerging.String(),
		Action:  audit.ActionReleaseTagged,
		Outcome: audit.OutcomeSuccess,
		Detail:  merged.Tag,
	})
	return true
}

// tagFailed fails the workflow recoverable at merging after the merge
// itself completed.
func (m *Manager) tagFailed(ctx context.Context, rn *run, res *Result, err error) {
	if ctx.Err() != nil {
		m.cancel(ctx, rn, res, ctx.Err())
		return
	}
	rn.logger.Warn("release tag failed", "branch", rn.wctx.BaseBranch(), "error", err)
	m.auditor.Record(ctx, rn.wctx, audit.Entry{
		Stage:   StageMerging.String(),
		Action:  audit.ActionReleaseTagged,
		Outcome: audit.OutcomeFailure,
		Err:     err,
	})
	if !errors.IsRecoverable(err) {
		err = errors.ErrReleaseTag("", err)
	}
	res.Stage = StageMerging
	m.fail(ctx, rn, res, err, true)
}

func (m *Manager) confirm(ctx context.Context, rn *run, res *Result) bool {
	wctx := rn.wctx
	if m.confirmer == nil {
		m.block(ctx, rn, res, errors.ErrConfirmationRequired("no confirmer configured"), StageMerging)
		return false
	}
	req := gate.Request{
		WorkflowID: wctx.ID(),
		TaskID:     wctx.TaskID(),
		TaskTitle:  wctx.Task().Title,
		Source:     wctx.Branch(),
		Target:     wctx.BaseBranch(),
		Level:      wctx.Level(),
		Threshold:  m.settings.Threshold,
		PRURL:      res.PRURL(),
	}
	if res.Review != nil {
		req.ReviewScore = res.Review.Score
	}
	d, err := m.confirmer.Confirm(ctx, req)
	switch {
	case err != nil && ctx.Err() != nil:
		m.cancel(ctx, rn, res, ctx.Err())
		return false
	case err != nil:
		m.block(ctx, rn, res, errors.ErrConfirmationRequired(err.Error()).WithCause(err), StageMerging)
		return false
	case d == nil || d.Pending:
		id := ""
		if d != nil {
			id = d.DecisionID
		}
		m.block(ctx, rn, res, errors.ErrConfirmationRequired(strings.TrimSpace("awaiting decision "+id)), StageMerging)
		return false
	case !d.Approved:
		reason := d.Reason
		if reason == "" {
			reason = "rejected"
		}
		m.block(ctx, rn, res, errors.ErrConfirmationRequired(reason), StageMerging)
		return false
	}
	rn.logger.Info("merge confirmed", "resolved_by", d.ResolvedBy)
	return true
}

// block fails the workflow recoverable at stage.
func (m *Manager) block(ctx context.Context, rn *run, res *Result, err error, stage Stage) {
	m.auditor.Record(ctx, rn.wctx, audit.Entry{
		Stage:   stage.String(),
		Action:  audit.ActionMergeBlocked,
		Outcome: audit.OutcomeBlocked,
		Err:     err,
	})
	res.Stage = stage
	m.fail(ctx, rn, res, err, true)
}

// cancel fails the workflow after ctx was cancelled. Cancellation after
// the steps completed leaves the branch in place and can be resumed.
func (m *Manager) cancel(ctx context.Context, rn *run, res *Result, cause error) {
	err := cause
	if errors.AsFlowError(err) == nil {
		err = errors.ErrCancelled(cause)
	}
	m.auditor.Record(ctx, rn.wctx, audit.Entry{
		Stage:   res.Stage.String(),
		Action:  audit.ActionWorkflowCancelled,
		Outcome: audit.OutcomeCancelled,
		Err:     err,
	})
	recoverable := res.Stage == StageReviewGating || res.Stage == StageMerging
	m.fail(ctx, rn, res, err, recoverable)
}

// fail moves the workflow to failed. res.Stage keeps the stage that failed.
func (m *Manager) fail(ctx context.Context, rn *run, res *Result, err error, recoverable bool) {
	if fe := errors.AsFlowError(err); fe != nil {
		err = fe.AtStage(res.Stage.String())
	}
	res.Err = err
	res.Error = err.Error()
	res.Recoverable = recoverable
	m.auditor.Record(ctx, rn.wctx, audit.Entry{
		Stage:   res.Stage.String(),
		Action:  audit.ActionWorkflowFailed,
		Outcome: audit.OutcomeFailure,
		Err:     err,
	})
	failedAt := res.Stage
	m.transition(ctx, rn, res, StageFailed, err)
	res.Stage = failedAt
}

// transition records the edge from the current stage to next.
func (m *Manager) transition(ctx context.Context, rn *run, res *Result, next Stage, err error) {
	now := m.now()
	tr := Transition{From: res.Stage, To: next, At: now, Duration: now.Sub(rn.entered)}
	if err != nil {
		tr.Error = err.Error()
	}
	res.Transitions = append(res.Transitions, tr)
	if m.metrics != nil {
		m.metrics.RecordStage(ctx, rn.wctx, metrics.Stage{
			From:     tr.From.String(),
			To:       tr.To.String(),
			Duration: tr.Duration,
			Err:      err,
		})
	}
	rn.logger.Debug("stage transition", "from", tr.From, "to", tr.To, "duration", tr.Duration)
	rn.entered = now
	res.Stage = next
}

func (m *Manager) finish(ctx context.Context, rn *run, res *Result) (*Result, error) {
	res.Success = res.Err == nil && res.Stage == StageCompleted
	res.Duration = m.now().Sub(rn.started)
	snap := rn.wctx.Snapshot()
	res.Snapshot = &snap
	if m.metrics != nil {
		c := metrics.Completion{Success: res.Success, Stage: res.Stage.String(), Duration: res.Duration}
		if res.Merge != nil {
			c.MergeSHA = res.Merge.SHA
		}
		m.metrics.RecordWorkflow(context.WithoutCancel(ctx), rn.wctx, c)
	}
	if res.Success {
		rn.logger.Info("workflow completed", "duration", res.Duration, "merged", res.Merge != nil && res.Merge.Merged)
	} else {
		rn.logger.Warn("workflow failed", "stage", res.Stage, "recoverable", res.Recoverable, "error", res.Err)
	}
	return res, res.Err
}

// deleteBranch removes the work branch when configured. Errors are logged
// and recorded; the original failure is what the caller reports.
func (m *Manager) deleteBranch(ctx context.Context, rn *run, stage Stage) {
	if !m.settings.DeleteBranchOnFailure {
		return
	}
	path, branch := rn.wctx.ProjectPath(), rn.wctx.Branch()
	dctx := context.WithoutCancel(ctx)
	exists, err := m.git.BranchExists(dctx, path, branch)
	if err == nil && !exists {
		return
	}
	if err == nil {
		err = m.git.DeleteBranch(dctx, path, branch)
	}
	outcome := audit.OutcomeSuccess
	if err != nil {
		outcome = audit.OutcomeFailure
		rn.logger.Warn("delete branch failed", "branch", branch, "error", err)
	}
	m.auditor.Record(ctx, rn.wctx, audit.Entry{
		Stage:   stage.String(),
		Action:  audit.ActionBranchDeleted,
		Outcome: outcome,
		Detail:  branch,
		Err:     err,
	})
}

func wrapGit(op string, err error) error {
	if errors.AsFlowError(err) != nil {
		return err
	}
	return errors.ErrGitOperation(op, err)
}

func prTitle(t *task.Task) string {
	if t == nil {
		return ""
	}
	if t.ID == "" {
		return t.Title
	}
	return fmt.Sprintf("[%s] %s", t.ID, t.Title)
}

func stepSummary(r *workflow.Result) string {
	if r == nil {
		return ""
	}
	var ok, skipped, failed int
	for _, s := range r.Steps {
		switch {
		case s.Skipped:
			skipped++
		case s.Success:
			ok++
		default:
			failed++
		}
	}
	detail := fmt.Sprintf("%d succeeded, %d skipped, %d failed", ok, skipped, failed)
	if len(r.RolledBack) > 0 {
		detail += fmt.Sprintf(", rolled back %v", r.RolledBack)
	}
	return detail
}
