package executor

import (
	"context"
	"time"

	"github.com/randalmurphal/autoflow/internal/workflow"
)

// Strategy names.
const (
	StrategySequential = "sequential"
	StrategyOptimized  = "optimized"
	StrategyBatch      = "batch"
	StrategySmart      = "smart"
)

// Outcome is what a StepFunc produced.
type Outcome struct {
	Payload any
	Cached  bool
}

// StepFunc executes one step.
type StepFunc func(ctx context.Context, step workflow.Step, wctx *workflow.Context) (Outcome, error)

// Strategy shapes how a workflow runs. Plan may reorder or combine steps
// where that is safe; Wrap decorates single step execution.
type Strategy interface {
	Name() string
	Plan(stages []workflow.Stage, wctx *workflow.Context) []PlanStage
	Wrap(next StepFunc) StepFunc
}

func executeStep(ctx context.Context, step workflow.Step, wctx *workflow.Context) (Outcome, error) {
	v, err := step.Execute(ctx, wctx)
	return Outcome{Payload: v}, err
}

// Sequential runs steps as declared.
type Sequential struct{}

func (Sequential) Name() string { return StrategySequential }

func (Sequential) Plan(stages []workflow.Stage, _ *workflow.Context) []PlanStage {
	return defaultPlan(stages)
}

func (Sequential) Wrap(next StepFunc) StepFunc { return next }

// StepStats summarizes past executions of a step.
type StepStats struct {
	Runs         int
	Failures     int
	MeanDuration time.Duration
}

// FailureRate returns Failures/Runs, 0 without runs.
func (s StepStats) FailureRate() float64 {
	if s.Runs == 0 {
		return 0
	}
	return float64(s.Failures) / float64(s.Runs)
}

// HistoryProvider supplies execution history for step scheduling.
type HistoryProvider interface {
	StepStats(kind workflow.Kind, stepID string) (StepStats, bool)
}

// Observer is notified of every finished step, skipped ones included.
type Observer interface {
	StepFinished(wctx *workflow.Context, result workflow.StepResult)
}
