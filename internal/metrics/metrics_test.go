package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/autoflow/internal/automation"
	"github.com/randalmurphal/autoflow/internal/events"
	"github.com/randalmurphal/autoflow/internal/task"
	"github.com/randalmurphal/autoflow/internal/workflow"
)

func newTestMetrics(t *testing.T, opts ...Option) *Metrics {
	t.Helper()
	return New(append([]Option{WithRegistry(prometheus.NewRegistry())}, opts...)...)
}

func newContext() *workflow.Context {
	wctx := workflow.NewContext("wf-1", &task.Task{ID: "T-1", Type: task.TypeBug, Title: "x"}, "/repo")
	wctx.SetLevel(automation.LevelSemiAuto)
	return wctx
}

func TestRecordStage(t *testing.T) {
	pub := events.NewMemoryPublisher()
	defer pub.Close()
	ch := pub.Subscribe("wf-1")
	m := newTestMetrics(t, WithSink(pub))
	wctx := newContext()

	m.RecordStage(context.Background(), wctx, Stage{From: "validating", To: "branch_creating", Duration: time.Second})
	m.RecordStage(context.Background(), wctx, Stage{From: "merging", To: "failed", Err: errors.New("conflict")})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageTotal.WithLabelValues("validating", "success", "bug", "semi_auto")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageTotal.WithLabelValues("merging", "failure", "bug", "semi_auto")))

	first := <-ch
	assert.Equal(t, events.EventTransition, first.Type)
	data, ok := first.Data.(events.TransitionData)
	require.True(t, ok)
	assert.Equal(t, "branch_creating", data.To)
	second := <-ch
	assert.Equal(t, "conflict", second.Data.(events.TransitionData).Error)
}

func TestStepFinished_History(t *testing.T) {
	m := newTestMetrics(t)
	wctx := newContext()

	_, ok := m.StepStats(workflow.KindTesting, "unit")
	assert.False(t, ok)

	m.StepFinished(wctx, workflow.StepResult{StepID: "unit", Kind: workflow.KindTesting, Success: true, Duration: 2 * time.Second})
	m.StepFinished(wctx, workflow.StepResult{StepID: "unit", Kind: workflow.KindTesting, Duration: 4 * time.Second})
	m.StepFinished(wctx, workflow.StepResult{StepID: "lint", Kind: workflow.KindTesting, Skipped: true, Success: true})
	m.StepFinished(wctx, workflow.StepResult{StepID: "unit", Kind: workflow.KindTesting, Success: true, Cached: true})

	stats, ok := m.StepStats(workflow.KindTesting, "unit")
	require.True(t, ok)
	assert.Equal(t, 2, stats.Runs)
	assert.Equal(t, 1, stats.Failures)
	assert.Equal(t, 3*time.Second, stats.MeanDuration)
	assert.InDelta(t, 0.5, stats.FailureRate(), 1e-9)

	// unknown step falls back to its kind
	kindStats, ok := m.StepStats(workflow.KindTesting, "integration")
	require.True(t, ok)
	assert.Equal(t, 2, kindStats.Runs)

	rate, n := m.SuccessRate(workflow.KindTesting)
	assert.Equal(t, 2, n)
	assert.InDelta(t, 0.5, rate, 1e-9)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StepsTotal.WithLabelValues("testing", "skipped")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.StepsTotal.WithLabelValues("testing", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StepsTotal.WithLabelValues("testing", "failure")))
}

func TestRecordWorkflow(t *testing.T) {
	pub := events.NewMemoryPublisher()
	defer pub.Close()
	ch := pub.Subscribe("wf-1")
	m := newTestMetrics(t, WithSink(pub))

	m.RecordWorkflow(context.Background(), newContext(), Completion{Stage: "merging", Duration: time.Second})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WorkflowTotal.WithLabelValues("failure", "bug", "semi_auto")))

	e := <-ch
	assert.Equal(t, events.EventComplete, e.Type)
	data, ok := e.Data.(events.CompleteData)
	require.True(t, ok)
	assert.Equal(t, "failed", data.Status)
	assert.Equal(t, "merging", data.Stage)
	assert.Equal(t, "1s", data.Duration)
}
