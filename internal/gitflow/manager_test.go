package gitflow

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/autoflow/internal/audit"
	"github.com/randalmurphal/autoflow/internal/automation"
	"github.com/randalmurphal/autoflow/internal/config"
	"github.com/randalmurphal/autoflow/internal/errors"
	"github.com/randalmurphal/autoflow/internal/executor"
	"github.com/randalmurphal/autoflow/internal/gate"
	"github.com/randalmurphal/autoflow/internal/git"
	"github.com/randalmurphal/autoflow/internal/git/gittest"
	"github.com/randalmurphal/autoflow/internal/hosting"
	"github.com/randalmurphal/autoflow/internal/lock"
	"github.com/randalmurphal/autoflow/internal/metrics"
	"github.com/randalmurphal/autoflow/internal/preferences"
	"github.com/randalmurphal/autoflow/internal/pullrequest"
	"github.com/randalmurphal/autoflow/internal/review"
	"github.com/randalmurphal/autoflow/internal/strategy"
	"github.com/randalmurphal/autoflow/internal/task"
	"github.com/randalmurphal/autoflow/internal/workflow"
)

type fixture struct {
	git     *gittest.Service
	auditor *audit.Auditor
	metrics *metrics.Metrics
	score   float64
	deps    Deps
	set     Settings
}

func newFixture(t *testing.T, level automation.Level) *fixture {
	t.Helper()
	f := &fixture{
		git:     gittest.New("main"),
		auditor: audit.New(nil),
		metrics: metrics.New(metrics.WithRegistry(prometheus.NewRegistry())),
		score:   90,
	}
	reviewer := review.NewService(
		review.WithAnalyzer(review.KindQuality, review.AnalyzerFunc(f.analyze)),
		review.WithAnalyzer(review.KindCoverage, review.AnalyzerFunc(f.analyze)),
	)
	f.deps = Deps{
		Git:        f.git,
		Strategies: strategy.NewRegistry(strategy.Config{}),
		Engine:     executor.NewEngine(executor.WithObserver(f.metrics)),
		Reviewer:   reviewer,
		Confirmer:  gate.AutoApprove{},
		Auditor:    f.auditor,
		Metrics:    f.metrics,
	}
	f.set = Settings{
		Automation:            automation.Settings{DefaultLevel: level},
		BaseBranch:            "main",
		Protected:             config.Default().Git.Protected,
		ReviewDepth:           review.DepthStandard,
		Threshold:             70,
		DeleteBranchOnFailure: true,
	}
	return f
}

func (f *fixture) analyze(context.Context, string, review.Options) (*review.Analysis, error) {
	return &review.Analysis{Score: f.score, Recommendations: []string{"keep going"}}, nil
}

func (f *fixture) manager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(f.deps, f.set)
	require.NoError(t, err)
	return m
}

func newTask(id string, typ task.Type) *task.Task {
	return &task.Task{ID: id, Type: typ, Title: "Add the thing", Description: "details"}
}

func stepsWorkflow(t *testing.T, steps ...workflow.Step) *workflow.Composed {
	t.Helper()
	b := workflow.NewBuilder("steps")
	for _, s := range steps {
		b.AddStep(s)
	}
	wf, err := b.Build()
	require.NoError(t, err)
	return wf
}

func okWorker(out any) workflow.Worker {
	return workflow.WorkerFunc(func(context.Context, workflow.Request) (any, error) { return out, nil })
}

func TestExecute_AssistedMergesAfterReviewAndConfirmation(t *testing.T) {
	f := newFixture(t, automation.LevelAssisted)
	m := f.manager(t)

	res, err := m.Execute(context.Background(), Run{
		WorkflowID:  "wf-1",
		Task:        newTask("T-1", task.TypeFeature),
		ProjectPath: t.TempDir(),
		Workflow:    stepsWorkflow(t, workflow.NewAnalysis("analyze", okWorker("ok"))),
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, StageCompleted, res.Stage)
	assert.True(t, strings.HasPrefix(res.Branch, "feature/feature/add-the-thing-t-1-"), res.Branch)
	assert.Equal(t, 1, res.PRNumber())
	assert.InDelta(t, 90.0, res.Review.Score, 0.001)
	require.NotNil(t, res.Merge)
	assert.True(t, res.Merge.Merged)
	assert.Equal(t, git.MethodSquash, res.Merge.Method)
	assert.Equal(t, []string{"branch_exists", "branch_exists", "create_branch", "branch_exists", "create_pr", "merge"}, f.git.Ops())

	assert.Equal(t, []audit.Action{
		audit.ActionValidated,
		audit.ActionBranchCreated,
		audit.ActionStepsCompleted,
		audit.ActionPRCreated,
		audit.ActionReviewCompleted,
		audit.ActionMergeCompleted,
	}, f.auditor.Actions("wf-1"))

	var path []Stage
	for _, tr := range res.Transitions {
		path = append(path, tr.To)
	}
	assert.Equal(t, []Stage{StageBranchCreating, StageExecuting, StageReviewGating, StageMerging, StageCompleted}, path)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.WorkflowTotal.WithLabelValues("success", "feature", "assisted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StageTotal.WithLabelValues("merging", "success", "feature", "assisted")))
}

func TestExecute_ScoreBelowThresholdBlocksMerge(t *testing.T) {
	for _, level := range []automation.Level{automation.LevelAssisted, automation.LevelSemiAuto} {
		t.Run(string(level), func(t *testing.T) {
			f := newFixture(t, level)
			f.score = 50
			m := f.manager(t)

			res, err := m.Execute(context.Background(), Run{
				WorkflowID:  "wf-low",
				Task:        newTask("T-2", task.TypeFeature),
				ProjectPath: t.TempDir(),
			})
			require.Error(t, err)

			assert.ErrorIs(t, err, errors.ErrReviewGate(0, 0))
			assert.False(t, res.Success)
			assert.True(t, res.Recoverable)
			assert.Equal(t, StageMerging, res.Stage)
			assert.Zero(t, f.git.Count("merge"))
			assert.True(t, f.git.HasBranch(res.Branch), "blocked work stays on its branch")
			assert.Contains(t, f.auditor.Actions("wf-low"), audit.ActionMergeBlocked)
			assert.Equal(t, StageFailed, res.Transitions[len(res.Transitions)-1].To)
		})
	}
}

func TestExecute_FullAutoSkipsPullRequestAndGate(t *testing.T) {
	f := newFixture(t, automation.LevelFullAuto)
	f.score = 10
	f.deps.Confirmer = nil
	m := f.manager(t)

	res, err := m.Execute(context.Background(), Run{
		WorkflowID:  "wf-auto",
		Task:        newTask("T-3", task.TypeFeature),
		ProjectPath: t.TempDir(),
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	require.NotNil(t, res.PullRequest)
	assert.True(t, res.PullRequest.Skipped)
	assert.Equal(t, pullrequest.ReasonFullAuto, res.PullRequest.Reason)
	assert.Zero(t, f.git.Count("create_pr"))
	require.NotNil(t, res.Review, "review still runs for the audit trail")
	assert.False(t, res.Review.Passed)
	assert.Equal(t, 1, f.git.Count("merge"))
	assert.Contains(t, f.auditor.Actions("wf-auto"), audit.ActionPRSkipped)
}

func TestExecute_ManualLeavesMergeToHuman(t *testing.T) {
	f := newFixture(t, automation.LevelManual)
	f.deps.Preferences = &preferences.Static{Doc: preferences.Document{
		Users: map[string]automation.Preferences{"alice": {Reviewers: []string{"bob"}}},
	}}
	f.set.User = "alice"
	m := f.manager(t)

	res, err := m.Execute(context.Background(), Run{
		WorkflowID:  "wf-manual",
		Task:        newTask("T-4", task.TypeRefactor),
		ProjectPath: t.TempDir(),
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Nil(t, res.Review)
	require.NotNil(t, res.Merge)
	assert.True(t, res.Merge.Skipped)
	assert.Equal(t, "manual_mode", res.Merge.Reason)
	assert.Zero(t, f.git.Count("merge"))
	rec, ok := m.PullRequests().Latest("wf-manual")
	require.True(t, ok)
	assert.Equal(t, []string{"bob"}, rec.Reviewers)
}

func TestExecute_BugUsesHotfixStrategy(t *testing.T) {
	f := newFixture(t, automation.LevelAssisted)
	m := f.manager(t)

	res, err := m.Execute(context.Background(), Run{
		Task:        newTask("BUG-9", task.TypeBug),
		ProjectPath: t.TempDir(),
	})
	require.NoError(t, err)

	assert.Equal(t, strategy.NameHotfix, res.Strategy)
	assert.True(t, strings.HasPrefix(res.Branch, "hotfix/"), res.Branch)
	assert.Equal(t, git.MethodMerge, res.Merge.Method)
	assert.NotEmpty(t, res.WorkflowID)
}

func TestExecute_CriticalStepFailureRollsBack(t *testing.T) {
	f := newFixture(t, automation.LevelAssisted)
	m := f.manager(t)

	var (
		mu     sync.Mutex
		ran    []string
		undone []string
	)
	worker := func(err error) workflow.Worker {
		return workflow.WorkerFunc(func(_ context.Context, req workflow.Request) (any, error) {
			mu.Lock()
			ran = append(ran, req.StepID)
			mu.Unlock()
			return req.StepID, err
		})
	}
	undo := workflow.UndoFunc(func(_ context.Context, req workflow.Request) error {
		mu.Lock()
		undone = append(undone, req.StepID)
		mu.Unlock()
		return nil
	})
	boom := stderrors.New("tests failed")
	wf := stepsWorkflow(t,
		workflow.NewRefactoring("s1", worker(nil), workflow.WithUndo(undo)),
		workflow.NewRefactoring("s2", worker(boom), workflow.WithUndo(undo)),
		workflow.NewRefactoring("s3", worker(nil), workflow.WithUndo(undo)),
	)

	res, err := m.Execute(context.Background(), Run{
		WorkflowID:  "wf-fail",
		Task:        newTask("T-5", task.TypeFeature),
		ProjectPath: t.TempDir(),
		Workflow:    wf,
	})
	require.Error(t, err)

	assert.ErrorIs(t, err, errors.ErrStepExecution("", nil))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StageExecuting, res.Stage)
	assert.False(t, res.Recoverable)
	assert.Equal(t, []string{"s1", "s2"}, ran)
	assert.Equal(t, []string{"s1"}, undone)
	assert.Equal(t, 2, res.Context().HistoryLen())
	assert.False(t, f.git.HasBranch(res.Branch))
	assert.Zero(t, f.git.Count("create_pr"))

	actions := f.auditor.Actions("wf-fail")
	assert.Contains(t, actions, audit.ActionBranchDeleted)
	assert.Equal(t, audit.ActionWorkflowFailed, actions[len(actions)-1])
	last := f.auditor.Records("wf-fail")[len(actions)-1]
	assert.Equal(t, res.Branch, last.Snapshot.Branch)
}

func TestExecute_ValidationFailsBeforeAnyMutation(t *testing.T) {
	f := newFixture(t, automation.LevelAssisted)
	m := f.manager(t)

	res, err := m.Execute(context.Background(), Run{
		WorkflowID:  "wf-invalid",
		Task:        &task.Task{ID: "T-6", Type: "bogus"},
		ProjectPath: "/does/not/exist",
	})
	require.Error(t, err)

	assert.ErrorIs(t, err, errors.ErrValidation(nil))
	assert.Equal(t, StageValidating, res.Stage)
	assert.False(t, res.Validation.Valid)
	assert.GreaterOrEqual(t, len(res.Validation.Errors), 3)
	assert.Zero(t, f.git.Count("create_branch"))
	assert.Equal(t, []audit.Action{audit.ActionWorkflowFailed}, f.auditor.Actions("wf-invalid"))
}

func TestExecute_PullRequestFailureBlocksGatedMerge(t *testing.T) {
	f := newFixture(t, automation.LevelSemiAuto)
	f.git.Errs["create_pr"] = git.ErrNoProvider
	m := f.manager(t)

	res, err := m.Execute(context.Background(), Run{
		WorkflowID:  "wf-pr",
		Task:        newTask("T-7", task.TypeFeature),
		ProjectPath: t.TempDir(),
	})
	require.Error(t, err)

	assert.ErrorIs(t, err, errors.ErrPullRequest("", nil))
	assert.True(t, res.Recoverable)
	assert.Equal(t, StageReviewGating, res.Stage)
	assert.NotNil(t, res.Review, "review runs without a pull request")
	assert.Zero(t, f.git.Count("merge"))
	var blocked []string
	for _, r := range f.auditor.Records("wf-pr") {
		if r.Action == audit.ActionMergeBlocked {
			blocked = append(blocked, r.Stage)
		}
	}
	assert.Equal(t, []string{"review_gating"}, blocked)

	delete(f.git.Errs, "create_pr")
	resumed, err := m.Resume(context.Background(), res)
	require.NoError(t, err)
	assert.True(t, resumed.Success)
	assert.Equal(t, 1, resumed.PRNumber())
	assert.Equal(t, 1, f.git.Count("create_branch"))
}

func TestExecute_MergeConflictIsRecoverable(t *testing.T) {
	f := newFixture(t, automation.LevelAssisted)
	f.git.Conflicts = []string{"main.go"}
	m := f.manager(t)

	res, err := m.Execute(context.Background(), Run{
		WorkflowID:  "wf-conflict",
		Task:        newTask("T-8", task.TypeFeature),
		ProjectPath: t.TempDir(),
	})
	require.Error(t, err)

	assert.ErrorIs(t, err, errors.ErrMergeConflict("", "", nil))
	assert.True(t, res.Recoverable)
	assert.Equal(t, StageMerging, res.Stage)
	fe := errors.AsFlowError(err)
	require.NotNil(t, fe)
	assert.Equal(t, []string{"main.go"}, fe.Files)
	assert.Equal(t, "merging", fe.Stage)

	f.git.Conflicts = nil
	resumed, err := m.Resume(context.Background(), res)
	require.NoError(t, err)
	assert.True(t, resumed.Merge.Merged)
	assert.Equal(t, 1, f.git.Count("create_pr"), "resume does not reopen the pull request")
}

func TestExecute_ReleaseWithDefaultProtection(t *testing.T) {
	f := newFixture(t, automation.LevelFullAuto)
	m := f.manager(t)

	tk := newTask("REL-1", task.TypeRelease)
	tk.Metadata = map[string]string{task.MetaVersion: "1.2.0"}
	res, err := m.Execute(context.Background(), Run{
		WorkflowID:  "wf-release",
		Task:        tk,
		ProjectPath: t.TempDir(),
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, strategy.NameRelease, res.Strategy)
	assert.True(t, strings.HasPrefix(res.Branch, "release/"), res.Branch)
	require.NotNil(t, res.Merge)
	assert.Equal(t, "v1.2.0", res.Merge.Tag)
	assert.Equal(t, 1, f.git.Count("tag"))
	assert.Contains(t, f.auditor.Actions("wf-release"), audit.ActionReleaseTagged)
}

func TestExecute_ReleaseTagFailureKeepsMerge(t *testing.T) {
	f := newFixture(t, automation.LevelFullAuto)
	f.git.Errs["tag"] = stderrors.New("tag push rejected")
	m := f.manager(t)

	tk := newTask("REL-2", task.TypeRelease)
	tk.Metadata = map[string]string{task.MetaVersion: "2.0.0"}
	res, err := m.Execute(context.Background(), Run{
		WorkflowID:  "wf-tag",
		Task:        tk,
		ProjectPath: t.TempDir(),
	})
	require.Error(t, err)

	assert.ErrorIs(t, err, errors.ErrReleaseTag("", nil))
	assert.True(t, res.Recoverable)
	assert.Equal(t, StageMerging, res.Stage)
	require.NotNil(t, res.Merge)
	assert.True(t, res.Merge.Merged)
	assert.Empty(t, res.Merge.Tag)
	actions := f.auditor.Actions("wf-tag")
	assert.Contains(t, actions, audit.ActionMergeCompleted)
	assert.Contains(t, actions, audit.ActionReleaseTagged)

	delete(f.git.Errs, "tag")
	resumed, err := m.Resume(context.Background(), res)
	require.NoError(t, err)

	assert.True(t, resumed.Success)
	assert.Equal(t, "v2.0.0", resumed.Merge.Tag)
	assert.Equal(t, 1, f.git.Count("merge"), "resume only retries the tag")
	assert.Equal(t, 2, f.git.Count("tag"))
	assert.Empty(t, res.Merge.Tag, "previous result is unchanged")
}

type flakyReviewer struct {
	fail bool
}

func (r *flakyReviewer) Review(context.Context, string, int, review.Options) (*review.Result, error) {
	if r.fail {
		return nil, stderrors.New("analyzer crashed")
	}
	return &review.Result{Score: 90, Threshold: 70, Passed: true}, nil
}

func TestExecute_ReviewerErrorIsNotCancellation(t *testing.T) {
	f := newFixture(t, automation.LevelAssisted)
	rv := &flakyReviewer{fail: true}
	f.deps.Reviewer = rv
	m := f.manager(t)

	res, err := m.Execute(context.Background(), Run{
		WorkflowID:  "wf-review",
		Task:        newTask("T-11", task.TypeFeature),
		ProjectPath: t.TempDir(),
	})
	require.Error(t, err)

	assert.ErrorIs(t, err, errors.ErrReview(nil))
	assert.NotErrorIs(t, err, errors.ErrCancelled(nil))
	assert.True(t, res.Recoverable)
	assert.Equal(t, StageReviewGating, res.Stage)
	assert.NotContains(t, f.auditor.Actions("wf-review"), audit.ActionWorkflowCancelled)
	assert.Zero(t, f.git.Count("merge"))

	rv.fail = false
	resumed, err := m.Resume(context.Background(), res)
	require.NoError(t, err)
	assert.True(t, resumed.Success)
	assert.Equal(t, 1, f.git.Count("create_pr"))
}

func TestResume_AfterPendingConfirmation(t *testing.T) {
	f := newFixture(t, automation.LevelSemiAuto)
	pending := gate.NewPending(nil)
	f.deps.Confirmer = pending
	m := f.manager(t)

	var runs atomic.Int32
	wf := stepsWorkflow(t, workflow.NewTesting("unit", workflow.WorkerFunc(func(context.Context, workflow.Request) (any, error) {
		runs.Add(1)
		return "pass", nil
	})))

	res, err := m.Execute(context.Background(), Run{
		WorkflowID:  "wf-pending",
		Task:        newTask("T-9", task.TypeFeature),
		ProjectPath: t.TempDir(),
		Workflow:    wf,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConfirmationRequired(""))
	assert.True(t, res.Recoverable)

	list := pending.List()
	require.Len(t, list, 1)
	assert.Equal(t, res.Branch, list[0].Request.Source)

	// still pending: resuming blocks again
	again, err := m.Resume(context.Background(), res)
	require.Error(t, err)
	assert.True(t, again.Recoverable)

	require.NoError(t, pending.Resolve(context.Background(), list[0].DecisionID, true, "carol", "looks good"))
	done, err := m.Resume(context.Background(), again)
	require.NoError(t, err)

	assert.True(t, done.Success)
	assert.Equal(t, int32(1), runs.Load(), "steps are not replayed")
	assert.Equal(t, 1, f.git.Count("create_branch"))
	assert.Equal(t, 1, f.git.Count("merge"))
	assert.False(t, res.Success, "previous result is unchanged")
	assert.Contains(t, f.auditor.Actions("wf-pending"), audit.ActionWorkflowResumed)
}

func TestResume_RejectsUnrecoverable(t *testing.T) {
	f := newFixture(t, automation.LevelAssisted)
	m := f.manager(t)

	_, err := m.Resume(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNotRecoverable)

	res, _ := m.Execute(context.Background(), Run{Task: newTask("T-10", "nope"), ProjectPath: t.TempDir()})
	_, err = m.Resume(context.Background(), res)
	assert.ErrorIs(t, err, ErrNotRecoverable)
}

func TestExecute_CancellationRollsBackAndAudits(t *testing.T) {
	f := newFixture(t, automation.LevelAssisted)
	m := f.manager(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var undone atomic.Bool
	wf := stepsWorkflow(t,
		workflow.NewRefactoring("edit", okWorker("edited"), workflow.WithUndo(workflow.UndoFunc(func(context.Context, workflow.Request) error {
			undone.Store(true)
			return nil
		}))),
		workflow.NewTesting("slow", workflow.WorkerFunc(func(ctx context.Context, _ workflow.Request) (any, error) {
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		})),
	)

	res, err := m.Execute(ctx, Run{
		WorkflowID:  "wf-cancel",
		Task:        newTask("T-11", task.TypeFeature),
		ProjectPath: t.TempDir(),
		Workflow:    wf,
	})
	require.Error(t, err)

	assert.ErrorIs(t, err, errors.ErrCancelled(nil))
	assert.True(t, undone.Load())
	assert.False(t, f.git.HasBranch(res.Branch))
	assert.Contains(t, f.auditor.Actions("wf-cancel"), audit.ActionWorkflowCancelled)
}

// serialGit wraps a git.Service and records overlapping mutations per path.
type serialGit struct {
	git.Service
	mu        sync.Mutex
	active    map[string]int
	maxActive int
	order     []string
}

func (s *serialGit) enter(path, op string) {
	s.mu.Lock()
	s.active[path]++
	s.maxActive = max(s.maxActive, s.active[path])
	s.order = append(s.order, "start:"+op)
	s.mu.Unlock()
}

func (s *serialGit) leave(path, op string) {
	s.mu.Lock()
	s.active[path]--
	s.order = append(s.order, "end:"+op)
	s.mu.Unlock()
}

func (s *serialGit) CreateBranch(ctx context.Context, path, name, base string) error {
	s.enter(path, "create_branch")
	defer s.leave(path, "create_branch")
	return s.Service.CreateBranch(ctx, path, name, base)
}

func (s *serialGit) Merge(ctx context.Context, path string, req git.MergeRequest) (*git.MergeOutcome, error) {
	s.enter(path, "merge")
	defer s.leave(path, "merge")
	return s.Service.Merge(ctx, path, req)
}

func (s *serialGit) CreatePullRequest(ctx context.Context, path string, req git.PullRequestRequest) (*hosting.PR, error) {
	s.enter(path, "create_pr")
	defer s.leave(path, "create_pr")
	return s.Service.CreatePullRequest(ctx, path, req)
}

func TestExecute_ConcurrentWorkflowsSerializeGitMutations(t *testing.T) {
	f := newFixture(t, automation.LevelAssisted)
	f.git.Delay = 5 * time.Millisecond
	tracked := &serialGit{Service: f.git, active: make(map[string]int)}
	f.deps.Git = tracked
	f.deps.Locker = lock.NewMemoryLocker()
	m := f.manager(t)
	path := t.TempDir()

	var wg sync.WaitGroup
	results := make([]*Result, 4)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = m.Execute(context.Background(), Run{
				Task:        newTask("T-C"+string(rune('a'+i)), task.TypeFeature),
				ProjectPath: path,
			})
		}()
	}
	wg.Wait()

	for _, r := range results {
		require.NotNil(t, r)
		assert.True(t, r.Success, r.Error)
	}
	assert.Equal(t, 1, tracked.maxActive)
	assert.Equal(t, 4, f.git.Count("merge"))
	for i := 0; i < len(tracked.order); i += 2 {
		op := strings.TrimPrefix(tracked.order[i], "start:")
		assert.Equal(t, "end:"+op, tracked.order[i+1], "mutation %d interleaved", i/2)
	}
}

func TestNewManager_RequiresCollaborators(t *testing.T) {
	_, err := NewManager(Deps{}, Settings{})
	assert.Error(t, err)
	_, err = NewManager(Deps{Git: gittest.New()}, Settings{})
	assert.Error(t, err)
	_, err = NewManager(Deps{Git: gittest.New(), Strategies: strategy.NewRegistry(strategy.Config{})}, Settings{})
	assert.Error(t, err)
}

func TestPreview_ValidatesWithoutSideEffects(t *testing.T) {
	f := newFixture(t, automation.LevelSemiAuto)
	m := f.manager(t)

	res := m.Preview(context.Background(), Run{
		WorkflowID:  "wf-preview",
		Task:        newTask("T-9", task.TypeBug),
		ProjectPath: t.TempDir(),
	})
	assert.True(t, res.Success)
	assert.Equal(t, StageValidating, res.Stage)
	assert.Equal(t, strategy.NameHotfix, res.Strategy)
	assert.Equal(t, automation.LevelSemiAuto, res.Plan.Level)
	assert.True(t, res.Plan.Auto)
	assert.True(t, strings.HasPrefix(res.Branch, "hotfix/bug/"), res.Branch)
	assert.Equal(t, []string{"branch_exists", "branch_exists"}, f.git.Ops())
	assert.Empty(t, f.auditor.Actions("wf-preview"))

	bad := m.Preview(context.Background(), Run{Task: &task.Task{Type: task.TypeFeature}, ProjectPath: t.TempDir()})
	assert.False(t, bad.Success)
	require.NotNil(t, bad.Validation)
	assert.True(t, stderrors.Is(bad.Err, errors.ErrValidation(nil)))
}
