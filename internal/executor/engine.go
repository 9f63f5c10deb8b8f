// Package executor runs composed workflows: it plans the steps with the
// workflow's strategy, dispatches them from a dependency-aware queue under
// a shared concurrency cap, enforces step timeouts, and rolls back
// reversible steps when a critical step fails or the workflow is cancelled.
package executor

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/autoflow/internal/errors"
	"github.com/randalmurphal/autoflow/internal/workflow"
)

// Defaults for engine timeouts.
const (
	DefaultStepTimeout     = 10 * time.Minute
	DefaultRollbackTimeout = 2 * time.Minute
)

// Skip reasons recorded on skipped step results.
const (
	SkipConditionFalse = "condition_not_met"
	SkipCannotExecute  = "cannot_execute"
)

// Engine executes composed workflows. It implements workflow.Runner and is
// safe for concurrent use by several workflows.
type Engine struct {
	resources       *ResourceManager
	strategies      map[string]Strategy
	defaultStrategy string
	stepTimeout     time.Duration
	rollbackTimeout time.Duration
	observers       []Observer
	logger          *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithResources shares a ResourceManager, and with it the concurrency cap.
func WithResources(rm *ResourceManager) Option { return func(e *Engine) { e.resources = rm } }

// WithStepTimeout sets the budget for steps without their own timeout.
func WithStepTimeout(d time.Duration) Option { return func(e *Engine) { e.stepTimeout = d } }

// WithRollbackTimeout bounds the whole rollback pass.
func WithRollbackTimeout(d time.Duration) Option { return func(e *Engine) { e.rollbackTimeout = d } }

// WithStrategy registers a strategy, replacing one with the same name.
func WithStrategy(s Strategy) Option { return func(e *Engine) { e.strategies[s.Name()] = s } }

// WithDefaultStrategy names the strategy for workflows that do not pick one.
func WithDefaultStrategy(name string) Option { return func(e *Engine) { e.defaultStrategy = name } }

// WithObserver adds an observer of finished steps.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// NewEngine creates an engine with the sequential, optimized, batch and
// smart strategies registered.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		strategies: map[string]Strategy{
			StrategySequential: Sequential{},
			StrategyOptimized:  NewOptimized(0),
			StrategyBatch:      Batch{},
			StrategySmart:      NewSmart(nil, 0),
		},
		defaultStrategy: StrategySequential,
		stepTimeout:     DefaultStepTimeout,
		rollbackTimeout: DefaultRollbackTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.resources == nil {
		e.resources = NewResourceManager(DefaultMaxConcurrent, 0, 0)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Resources returns the engine's ResourceManager.
func (e *Engine) Resources() *ResourceManager { return e.resources }

// Strategy returns a registered strategy.
func (e *Engine) Strategy(name string) (Strategy, bool) {
	s, ok := e.strategies[name]
	return s, ok
}

func (e *Engine) strategyFor(name string) Strategy {
	if name == "" {
		name = e.defaultStrategy
	}
	if s, ok := e.strategies[name]; ok {
		return s
	}
	e.logger.Warn("unknown strategy, using default", "strategy", name, "default", e.defaultStrategy)
	if s, ok := e.strategies[e.defaultStrategy]; ok {
		return s
	}
	return Sequential{}
}

// completedStep is a step that finished successfully and may need undoing.
type completedStep struct {
	step   workflow.Step
	result workflow.StepResult
}

// Run executes wf against wctx. A critical failure, a timeout or the
// cancellation of ctx stops dispatching, rolls back the reversible steps
// that completed, in reverse order, and restores the context to its state
// before the run.
func (e *Engine) Run(ctx context.Context, wf *workflow.Composed, wctx *workflow.Context) *workflow.Result {
	start := time.Now()
	res := &workflow.Result{}
	strat := e.strategyFor(wf.Strategy())
	exec := strat.Wrap(executeStep)
	queue := NewExecutionQueue(link(strat.Plan(wf.Stages(), wctx)))
	baseline := wctx.Snapshot()

	logger := e.logger.With("workflow_id", wctx.ID(), "workflow", wf.Name(), "strategy", strat.Name())
	logger.Debug("workflow started", "steps", len(wf.Units()))

	var done []completedStep
	for queue.Len() > 0 {
		if ctx.Err() != nil {
			break
		}
		ready := queue.Ready()
		if len(ready) == 0 {
			res.Err = errors.ErrStepExecution("plan", fmt.Errorf("%d steps have unsatisfiable dependencies", queue.Len()))
			break
		}

		finished := e.dispatch(ctx, ready, wctx, exec)
		fatal := ""
		for _, f := range finished {
			e.record(wctx, res, f, logger)
			if f.result.Success && !f.result.Skipped {
				done = append(done, f)
			}
			if fatal == "" && f.result.Fatal() {
				fatal = f.result.StepID
				res.Failed = fatal
				res.Err = errors.ErrStepExecution(fatal, f.result.Err)
			}
		}
		for _, j := range ready {
			queue.Done(j.ID)
		}
		if fatal != "" {
			break
		}
	}

	switch {
	case ctx.Err() != nil:
		res.Cancelled = true
		res.Err = errors.ErrCancelled(ctx.Err())
		logger.Warn("workflow cancelled", "pending", queue.Len())
	case res.Err != nil:
		logger.Warn("workflow failed", "failed_step", res.Failed, "error", res.Err)
	}
	if res.Err != nil {
		res.RolledBack = e.rollback(ctx, wctx, done, logger)
		wctx.Restore(baseline)
	}
	res.Success = res.Err == nil
	res.Duration = time.Since(start)
	logger.Debug("workflow finished", "success", res.Success, "duration", res.Duration)
	return res
}

// dispatch runs the ready jobs and returns their step results in
// completion order. Jobs are admitted in queue order as slots free up. A
// fatal result cancels the jobs still running.
func (e *Engine) dispatch(ctx context.Context, jobs []*Job, wctx *workflow.Context, exec StepFunc) []completedStep {
	g, gctx := errgroup.WithContext(ctx)
	var (
		mu  sync.Mutex
		out []completedStep
	)
	collect := func(rs []completedStep) bool {
		mu.Lock()
		defer mu.Unlock()
		out = append(out, rs...)
		for _, r := range rs {
			if r.result.Fatal() {
				return true
			}
		}
		return false
	}

	for _, job := range jobs {
		if gctx.Err() != nil {
			break
		}
		runnable, skipped := e.admit(job, wctx)
		collect(skipped)
		if len(runnable) == 0 {
			continue
		}
		release, err := e.resources.Acquire(gctx)
		if err != nil {
			// Cancelled while waiting for a slot; the job never ran.
			break
		}
		g.Go(func() error {
			defer release()
			var rs []completedStep
			if len(runnable) > 1 {
				rs = e.runBatch(gctx, runnable, wctx)
			} else {
				rs = []completedStep{e.runStep(gctx, runnable[0], wctx, exec)}
			}
			if collect(rs) {
				return errFatal
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

var errFatal = stderrors.New("fatal step failure")

// admit evaluates conditions and preconditions right before dispatch.
func (e *Engine) admit(job *Job, wctx *workflow.Context) (runnable []*workflow.Unit, skipped []completedStep) {
	for _, u := range job.Units {
		reason := ""
		switch {
		case u.Condition != nil && !u.Condition(wctx):
			reason = SkipConditionFalse
		case !u.Step.CanExecute(wctx):
			reason = SkipCannotExecute
		}
		if reason == "" {
			runnable = append(runnable, u)
			continue
		}
		skipped = append(skipped, completedStep{step: u.Step, result: workflow.StepResult{
			StepID:     u.ID(),
			Kind:       u.Step.Kind(),
			Critical:   u.Step.Critical(),
			Success:    true,
			Skipped:    true,
			SkipReason: reason,
		}})
	}
	return runnable, skipped
}

func (e *Engine) timeoutFor(s workflow.Step) time.Duration {
	if t, ok := s.(workflow.Timed); ok && t.Timeout() > 0 {
		return t.Timeout()
	}
	return e.stepTimeout
}

type callResult struct {
	out Outcome
	err error
}

// call runs fn under a timeout. fn runs in its own goroutine so a step
// that ignores its context still cannot hold the workflow past its budget.
func call(ctx context.Context, timeout time.Duration, fn func(context.Context) (Outcome, error)) (out Outcome, timedOut bool, err error) {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan callResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- callResult{err: fmt.Errorf("step panicked: %v", p)}
			}
		}()
		o, err := fn(sctx)
		ch <- callResult{out: o, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && ctx.Err() == nil && sctx.Err() == context.DeadlineExceeded {
			return Outcome{}, true, r.err
		}
		return r.out, false, r.err
	case <-sctx.Done():
		if ctx.Err() != nil {
			return Outcome{}, false, ctx.Err()
		}
		return Outcome{}, true, sctx.Err()
	}
}

func (e *Engine) runStep(ctx context.Context, u *workflow.Unit, wctx *workflow.Context, exec StepFunc) completedStep {
	step := u.Step
	r := workflow.StepResult{StepID: step.ID(), Kind: step.Kind(), Critical: step.Critical()}
	timeout := e.timeoutFor(step)

	start := time.Now()
	out, timedOut, err := call(ctx, timeout, func(sctx context.Context) (Outcome, error) {
		return exec(sctx, step, wctx)
	})
	r.Duration = time.Since(start)
	setOutcome(ctx, &r, out, timedOut, err, timeout)
	return completedStep{step: step, result: r}
}

// runBatch executes units sharing a batch key with one BatchWorker call.
// The batch succeeds or fails as a whole.
func (e *Engine) runBatch(ctx context.Context, units []*workflow.Unit, wctx *workflow.Context) []completedStep {
	lead := units[0].Step.(workflow.Batchable)
	reqs := make([]workflow.Request, len(units))
	var timeout time.Duration
	for i, u := range units {
		reqs[i] = u.Step.(workflow.Batchable).Request(wctx)
		timeout = max(timeout, e.timeoutFor(u.Step))
	}

	start := time.Now()
	var values []any
	_, timedOut, err := call(ctx, timeout, func(sctx context.Context) (Outcome, error) {
		vs, err := lead.Batcher().DoBatch(sctx, reqs)
		values = vs
		return Outcome{}, err
	})
	if err == nil && len(values) != len(reqs) {
		err = fmt.Errorf("batch returned %d results for %d steps", len(values), len(reqs))
	}
	elapsed := time.Since(start)

	out := make([]completedStep, len(units))
	for i, u := range units {
		r := workflow.StepResult{
			StepID:   u.ID(),
			Kind:     u.Step.Kind(),
			Critical: u.Step.Critical(),
			Batched:  true,
			Duration: elapsed,
		}
		var o Outcome
		if err == nil {
			o.Payload = values[i]
		}
		setOutcome(ctx, &r, o, timedOut, err, timeout)
		out[i] = completedStep{step: u.Step, result: r}
	}
	return out
}

func setOutcome(ctx context.Context, r *workflow.StepResult, out Outcome, timedOut bool, err error, timeout time.Duration) {
	switch {
	case timedOut:
		r.TimedOut = true
		r.Err = errors.ErrTimeout(r.StepID, timeout)
	case err != nil && ctx.Err() != nil:
		r.Err = errors.ErrCancelled(err)
	case err != nil:
		r.Err = err
	default:
		r.Success = true
		r.Payload = out.Payload
		r.Cached = out.Cached
		return
	}
	r.Error = r.Err.Error()
}

func (e *Engine) record(wctx *workflow.Context, res *workflow.Result, c completedStep, logger *slog.Logger) {
	r := c.result
	if r.Success && !r.Skipped {
		wctx.SetOutput(r.StepID, r.Payload)
	}
	wctx.Checkpoint(r.StepID, r)
	res.Steps = append(res.Steps, r)
	for _, o := range e.observers {
		o.StepFinished(wctx, r)
	}

	attrs := []any{"step", r.StepID, "kind", r.Kind, "duration", r.Duration}
	switch {
	case r.Skipped:
		logger.Debug("step skipped", append(attrs, "reason", r.SkipReason)...)
	case r.Success:
		logger.Debug("step completed", append(attrs, "cached", r.Cached, "batched", r.Batched)...)
	case r.Fatal():
		logger.Error("step failed", append(attrs, "critical", r.Critical, "timed_out", r.TimedOut, "error", r.Err)...)
	default:
		logger.Warn("step failed, continuing", append(attrs, "error", r.Err)...)
	}
}

// rollback undoes reversible completed steps in reverse completion order.
// It runs detached from ctx so a cancelled workflow is still cleaned up.
// Rollback errors are logged; the remaining steps are still undone.
func (e *Engine) rollback(ctx context.Context, wctx *workflow.Context, done []completedStep, logger *slog.Logger) []string {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.rollbackTimeout)
	defer cancel()

	var rolled []string
	for i := len(done) - 1; i >= 0; i-- {
		s := done[i].step
		if !s.Reversible() {
			continue
		}
		if err := s.Rollback(rctx, wctx); err != nil {
			logger.Warn("step rollback failed", "step", s.ID(), "error", err)
			continue
		}
		rolled = append(rolled, s.ID())
		logger.Info("step rolled back", "step", s.ID())
	}
	return rolled
}
