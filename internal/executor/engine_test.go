package executor

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/autoflow/internal/errors"
	"github.com/randalmurphal/autoflow/internal/task"
	"github.com/randalmurphal/autoflow/internal/workflow"
)

// trace records the order steps ran and were undone in.
type trace struct {
	mu     sync.Mutex
	ran    []string
	undone []string
}

func (tr *trace) worker(out any, err error) workflow.Worker {
	return workflow.WorkerFunc(func(_ context.Context, req workflow.Request) (any, error) {
		tr.mu.Lock()
		tr.ran = append(tr.ran, req.StepID)
		tr.mu.Unlock()
		return out, err
	})
}

func (tr *trace) undo() workflow.Undoer {
	return workflow.UndoFunc(func(_ context.Context, req workflow.Request) error {
		tr.mu.Lock()
		tr.undone = append(tr.undone, req.StepID)
		tr.mu.Unlock()
		return nil
	})
}

func (tr *trace) Ran() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.ran...)
}

func newContext(id string) *workflow.Context {
	return workflow.NewContext(id, &task.Task{ID: "T-1", Type: task.TypeFeature, Title: "t"}, "/repo")
}

func run(t *testing.T, e *Engine, b *workflow.Builder, ctx context.Context, wctx *workflow.Context) *workflow.Result {
	t.Helper()
	wf, err := b.Build()
	require.NoError(t, err)
	return e.Run(ctx, wf, wctx)
}

func TestCriticalFailureStopsAndRollsBack(t *testing.T) {
	tr := &trace{}
	boom := stderrors.New("boom")
	b := workflow.NewBuilder("wf").
		AddStep(workflow.NewRefactoring("s1", tr.worker("one", nil), workflow.WithUndo(tr.undo()))).
		AddStep(workflow.NewRefactoring("s2", tr.worker(nil, boom), workflow.WithUndo(tr.undo()))).
		AddStep(workflow.NewRefactoring("s3", tr.worker("three", nil), workflow.WithUndo(tr.undo())))
	wctx := newContext("wf-1")

	res := run(t, NewEngine(), b, context.Background(), wctx)

	assert.False(t, res.Success)
	assert.Equal(t, "s2", res.Failed)
	assert.ErrorIs(t, res.Err, errors.ErrStepExecution("", nil))
	assert.ErrorIs(t, res.Err, boom)
	assert.Equal(t, []string{"s1", "s2"}, tr.Ran())
	assert.Equal(t, 2, wctx.HistoryLen())
	assert.Equal(t, []string{"s1"}, tr.undone)
	assert.Equal(t, []string{"s1"}, res.RolledBack)

	_, ok := wctx.Output("s1")
	assert.False(t, ok, "context restored to its state before the run")
	failed, _ := res.Step("s2")
	assert.Equal(t, "boom", failed.Error)
}

func TestNonCriticalFailureContinues(t *testing.T) {
	tr := &trace{}
	b := workflow.NewBuilder("wf").
		AddStep(workflow.NewDocumentation("docs", tr.worker(nil, stderrors.New("no docs")))).
		AddStep(workflow.NewTesting("test", tr.worker("ok", nil)))
	wctx := newContext("wf-1")

	res := run(t, NewEngine(), b, context.Background(), wctx)

	require.True(t, res.Success)
	assert.NoError(t, res.Err)
	assert.Equal(t, []string{"docs", "test"}, tr.Ran())
	require.Len(t, res.Errors(), 1)
	assert.Equal(t, "docs", res.Errors()[0].StepID)
	out, ok := wctx.Output("test")
	require.True(t, ok)
	assert.Equal(t, "ok", out)
}

func TestStepTimeoutIsFatal(t *testing.T) {
	tests := []struct {
		name   string
		worker workflow.WorkerFunc
	}{
		{"honours context", func(ctx context.Context, _ workflow.Request) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}},
		{"ignores context", func(context.Context, workflow.Request) (any, error) {
			time.Sleep(300 * time.Millisecond)
			return "late", nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &trace{}
			// Documentation steps are not critical; timeouts abort anyway.
			b := workflow.NewBuilder("wf").
				AddStep(workflow.NewDocumentation("slow", tt.worker, workflow.WithTimeout(20*time.Millisecond))).
				AddStep(workflow.NewTesting("after", tr.worker(nil, nil)))

			start := time.Now()
			res := run(t, NewEngine(), b, context.Background(), newContext("wf"))

			assert.Less(t, time.Since(start), 250*time.Millisecond)
			assert.False(t, res.Success)
			assert.Equal(t, "slow", res.Failed)
			assert.ErrorIs(t, res.Err, errors.ErrTimeout("", 0))
			step, _ := res.Step("slow")
			assert.True(t, step.TimedOut)
			assert.Empty(t, tr.Ran())
		})
	}
}

func TestCancellationRollsBack(t *testing.T) {
	tr := &trace{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	blocking := workflow.WorkerFunc(func(ctx context.Context, _ workflow.Request) (any, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	})
	b := workflow.NewBuilder("wf").
		AddStep(workflow.NewRefactoring("edit", tr.worker("x", nil), workflow.WithUndo(tr.undo()))).
		AddStep(workflow.NewTesting("test", blocking)).
		AddStep(workflow.NewTesting("never", tr.worker(nil, nil)))

	res := run(t, NewEngine(), b, ctx, newContext("wf"))

	assert.True(t, res.Cancelled)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, errors.ErrCancelled(nil))
	assert.Equal(t, []string{"edit"}, tr.Ran())
	assert.Equal(t, []string{"edit"}, res.RolledBack)
}

func TestParallelGroupRunsConcurrently(t *testing.T) {
	var started sync.WaitGroup
	started.Add(3)
	all := make(chan struct{})
	go func() {
		started.Wait()
		close(all)
	}()
	member := workflow.WorkerFunc(func(ctx context.Context, req workflow.Request) (any, error) {
		started.Done()
		select {
		case <-all:
			return req.StepID, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	tr := &trace{}
	b := workflow.NewBuilder("wf").
		AddStep(workflow.NewAnalysis("a", member), workflow.InGroup("g")).
		AddStep(workflow.NewAnalysis("b", member), workflow.InGroup("g")).
		AddStep(workflow.NewAnalysis("c", member), workflow.InGroup("g")).
		AddStep(workflow.NewTesting("join", tr.worker(nil, nil)))

	e := NewEngine(WithResources(NewResourceManager(3, 0, 0)), WithStepTimeout(2*time.Second))
	res := run(t, e, b, context.Background(), newContext("wf"))

	require.True(t, res.Success, "%v", res.Err)
	require.Len(t, res.Steps, 4)
	assert.Equal(t, "join", res.Steps[3].StepID)
	assert.Equal(t, 3, e.Resources().Peak())
}

func TestParallelGroupFatalCancelsSiblings(t *testing.T) {
	tr := &trace{}
	slow := workflow.WorkerFunc(func(ctx context.Context, _ workflow.Request) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	b := workflow.NewBuilder("wf").
		AddStep(workflow.NewRefactoring("edit", tr.worker("x", nil), workflow.WithUndo(tr.undo()))).
		AddStep(workflow.NewAnalysis("slow", slow), workflow.InGroup("g")).
		AddStep(workflow.NewAnalysis("bad", tr.worker(nil, stderrors.New("bad"))), workflow.InGroup("g"))

	res := run(t, NewEngine(WithStepTimeout(5*time.Second)), b, context.Background(), newContext("wf"))

	assert.Equal(t, "bad", res.Failed)
	assert.False(t, res.Cancelled)
	assert.Equal(t, []string{"edit"}, res.RolledBack)
	s, ok := res.Step("slow")
	require.True(t, ok)
	assert.False(t, s.Success)
}

func TestPriorityOrderUnderCap(t *testing.T) {
	tr := &trace{}
	b := workflow.NewBuilder("wf").
		AddStep(workflow.NewAnalysis("low", tr.worker(nil, nil)), workflow.InGroup("g"), workflow.Priority(1)).
		AddStep(workflow.NewAnalysis("high", tr.worker(nil, nil)), workflow.InGroup("g"), workflow.Priority(5)).
		AddStep(workflow.NewAnalysis("mid", tr.worker(nil, nil)), workflow.InGroup("g"), workflow.Priority(3))

	res := run(t, NewEngine(WithResources(NewResourceManager(1, 0, 0))), b, context.Background(), newContext("wf"))

	require.True(t, res.Success)
	assert.Equal(t, []string{"high", "mid", "low"}, tr.Ran())
}

func TestGlobalCapAcrossWorkflows(t *testing.T) {
	rm := NewResourceManager(2, 0, 0)
	sleepy := workflow.WorkerFunc(func(context.Context, workflow.Request) (any, error) {
		time.Sleep(5 * time.Millisecond)
		return nil, nil
	})
	build := func() *workflow.Builder {
		return workflow.NewBuilder("wf").
			AddStep(workflow.NewAnalysis("a", sleepy), workflow.InGroup("g")).
			AddStep(workflow.NewAnalysis("b", sleepy), workflow.InGroup("g")).
			AddStep(workflow.NewAnalysis("c", sleepy), workflow.InGroup("g"))
	}

	var wg sync.WaitGroup
	for i := range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wf, err := build().Build()
			if !assert.NoError(t, err) {
				return
			}
			res := NewEngine(WithResources(rm)).Run(context.Background(), wf, newContext(string(rune('a'+i))))
			assert.True(t, res.Success)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, rm.Peak(), 2)
	assert.Equal(t, 0, rm.InFlight())
}

func TestConditionAndPreconditionSkip(t *testing.T) {
	tr := &trace{}
	b := workflow.NewBuilder("wf").
		AddStep(workflow.NewAnalysis("analyze", tr.worker(map[string]any{"needs_docs": false}, nil))).
		AddStep(workflow.NewDocumentation("docs", tr.worker(nil, nil)),
			workflow.When(workflow.OutputTruthy("analyze", "needs_docs"))).
		AddStep(workflow.NewTesting("guarded", tr.worker(nil, nil),
			workflow.WithGuard(func(*workflow.Context) bool { return false })))
	wctx := newContext("wf")

	res := run(t, NewEngine(), b, context.Background(), wctx)

	require.True(t, res.Success)
	assert.Equal(t, []string{"analyze"}, tr.Ran())
	docs, _ := res.Step("docs")
	assert.True(t, docs.Skipped)
	assert.Equal(t, SkipConditionFalse, docs.SkipReason)
	guarded, _ := res.Step("guarded")
	assert.Equal(t, SkipCannotExecute, guarded.SkipReason)
	assert.Equal(t, 3, wctx.HistoryLen())
}

func TestComposedExecuteUsesEngine(t *testing.T) {
	tr := &trace{}
	wf, err := workflow.NewBuilder("wf").
		AddStep(workflow.NewAnalysis("a", tr.worker(1, nil))).
		WithRunner(NewEngine()).
		Build()
	require.NoError(t, err)

	res, err := wf.Execute(context.Background(), newContext("wf"))
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestUnknownStrategyFallsBack(t *testing.T) {
	tr := &trace{}
	b := workflow.NewBuilder("wf").
		AddStep(workflow.NewAnalysis("a", tr.worker(nil, nil))).
		WithStrategy("nonexistent")
	res := run(t, NewEngine(), b, context.Background(), newContext("wf"))
	assert.True(t, res.Success)
	assert.Equal(t, []string{"a"}, tr.Ran())
}

type countingObserver struct{ n atomic.Int32 }

func (o *countingObserver) StepFinished(*workflow.Context, workflow.StepResult) { o.n.Add(1) }

func TestObserverSeesEveryStep(t *testing.T) {
	tr := &trace{}
	obs := &countingObserver{}
	b := workflow.NewBuilder("wf").
		AddStep(workflow.NewAnalysis("a", tr.worker(nil, nil))).
		AddStep(workflow.NewAnalysis("b", tr.worker(nil, nil)), workflow.When(workflow.OutputExists("zzz")))
	run(t, NewEngine(WithObserver(obs)), b, context.Background(), newContext("wf"))
	assert.Equal(t, int32(2), obs.n.Load())
}
