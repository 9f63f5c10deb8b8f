// Package metrics records per-stage and per-step durations and outcomes of
// git workflows. Every recorded value goes to Prometheus collectors and, as
// an event, to the observability sink.
package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/randalmurphal/autoflow/internal/events"
	"github.com/randalmurphal/autoflow/internal/executor"
	"github.com/randalmurphal/autoflow/internal/workflow"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "autoflow"

// Stage outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// Metrics holds the workflow collectors.
//
// Metrics:
//   - <ns>_stage_duration_seconds{stage,outcome,task_type,level}
//   - <ns>_stage_transitions_total{stage,outcome,task_type,level}
//   - <ns>_step_duration_seconds{kind}
//   - <ns>_steps_total{kind,outcome}
//   - <ns>_workflows_total{outcome,task_type,level}
type Metrics struct {
	StageDuration *prometheus.HistogramVec
	StageTotal    *prometheus.CounterVec
	StepDuration  *prometheus.HistogramVec
	StepsTotal    *prometheus.CounterVec
	WorkflowTotal *prometheus.CounterVec

	sink   events.Sink
	logger *slog.Logger

	mu      sync.RWMutex
	history map[string]*stepHistory
}

type stepHistory struct {
	runs     int
	failures int
	total    time.Duration
}

// Option configures Metrics.
type Option func(*config)

type config struct {
	namespace string
	registry  prometheus.Registerer
	sink      events.Sink
	logger    *slog.Logger
}

// WithNamespace sets the metric namespace.
func WithNamespace(ns string) Option { return func(c *config) { c.namespace = ns } }

// WithRegistry registers collectors with reg instead of the default registry.
func WithRegistry(reg prometheus.Registerer) Option { return func(c *config) { c.registry = reg } }

// WithSink also emits every transition and step to sink.
func WithSink(s events.Sink) Option { return func(c *config) { c.sink = s } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

// New creates and registers the collectors.
func New(opts ...Option) *Metrics {
	cfg := config{
		namespace: DefaultNamespace,
		registry:  prometheus.DefaultRegisterer,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	f := promauto.With(cfg.registry)
	stageLabels := []string{"stage", "outcome", "task_type", "level"}

	return &Metrics{
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of workflow stages in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 9), // 10ms to ~11min
		}, stageLabels),
		StageTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "stage_transitions_total",
			Help:      "Total number of workflow stage transitions",
		}, stageLabels),
		StepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of workflow steps in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"kind"}),
		StepsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "steps_total",
			Help:      "Total number of finished workflow steps",
		}, []string{"kind", "outcome"}),
		WorkflowTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "workflows_total",
			Help:      "Total number of finished workflows",
		}, []string{"outcome", "task_type", "level"}),
		sink:    cfg.sink,
		logger:  cfg.logger,
		history: make(map[string]*stepHistory),
	}
}

// Stage describes one finished stage.
type Stage struct {
	From     string
	To       string
	Duration time.Duration
	Err      error
}

// RecordStage records a stage transition, success or failure.
func (m *Metrics) RecordStage(ctx context.Context, wctx *workflow.Context, s Stage) {
	outcome := OutcomeSuccess
	if s.Err != nil {
		outcome = OutcomeFailure
	}
	labels := prometheus.Labels{
		"stage":     s.From,
		"outcome":   outcome,
		"task_type": string(wctx.TaskType()),
		"level":     string(wctx.Level()),
	}
	m.StageDuration.With(labels).Observe(s.Duration.Seconds())
	m.StageTotal.With(labels).Inc()

	data := events.TransitionData{From: s.From, To: s.To, Duration: s.Duration}
	if s.Err != nil {
		data.Error = s.Err.Error()
	}
	m.emit(ctx, events.NewEvent(events.EventTransition, wctx.ID(), data))
}

// Completion describes a workflow that reached a terminal stage.
type Completion struct {
	Success  bool
	Stage    string
	Duration time.Duration
	MergeSHA string
}

// RecordWorkflow records a finished workflow and emits a complete event.
func (m *Metrics) RecordWorkflow(ctx context.Context, wctx *workflow.Context, c Completion) {
	outcome := OutcomeSuccess
	status := "completed"
	if !c.Success {
		outcome = OutcomeFailure
		status = "failed"
	}
	m.WorkflowTotal.WithLabelValues(outcome, string(wctx.TaskType()), string(wctx.Level())).Inc()
	m.emit(ctx, events.NewEvent(events.EventComplete, wctx.ID(), events.CompleteData{
		Status:   status,
		Stage:    c.Stage,
		Duration: c.Duration.String(),
		MergeSHA: c.MergeSHA,
	}))
}

// StepFinished implements executor.Observer.
func (m *Metrics) StepFinished(wctx *workflow.Context, r workflow.StepResult) {
	outcome := OutcomeSuccess
	switch {
	case r.Skipped:
		outcome = OutcomeSkipped
	case !r.Success:
		outcome = OutcomeFailure
	}
	m.StepsTotal.WithLabelValues(string(r.Kind), outcome).Inc()
	if !r.Skipped {
		m.StepDuration.WithLabelValues(string(r.Kind)).Observe(r.Duration.Seconds())
		// cache hits say nothing about how long the step takes
		if !r.Cached {
			m.observe(r)
		}
	}

	m.emit(context.Background(), events.NewEvent(events.EventStep, wctx.ID(), events.StepData{
		StepID:   r.StepID,
		Kind:     string(r.Kind),
		Success:  r.Success,
		Skipped:  r.Skipped,
		Cached:   r.Cached,
		TimedOut: r.TimedOut,
		Duration: r.Duration,
		Error:    r.Error,
	}))
}

func (m *Metrics) observe(r workflow.StepResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range []string{historyKey(r.Kind, r.StepID), historyKey(r.Kind, "")} {
		h, ok := m.history[key]
		if !ok {
			h = &stepHistory{}
			m.history[key] = h
		}
		h.runs++
		h.total += r.Duration
		if !r.Success {
			h.failures++
		}
	}
}

// StepStats implements executor.HistoryProvider. History of the exact step
// is preferred; otherwise the history of its kind is used.
func (m *Metrics) StepStats(kind workflow.Kind, stepID string) (executor.StepStats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.history[historyKey(kind, stepID)]
	if !ok {
		h, ok = m.history[historyKey(kind, "")]
	}
	if !ok || h.runs == 0 {
		return executor.StepStats{}, false
	}
	return executor.StepStats{
		Runs:         h.runs,
		Failures:     h.failures,
		MeanDuration: h.total / time.Duration(h.runs),
	}, true
}

// SuccessRate returns the fraction of successful runs of a step kind and
// the number of samples. It feeds the adaptive automation level.
func (m *Metrics) SuccessRate(kind workflow.Kind) (float64, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.history[historyKey(kind, "")]
	if !ok || h.runs == 0 {
		return 0, 0
	}
	return float64(h.runs-h.failures) / float64(h.runs), h.runs
}

func (m *Metrics) emit(ctx context.Context, e events.Event) {
	if m.sink == nil {
		return
	}
	if err := m.sink.Emit(context.WithoutCancel(ctx), e); err != nil {
		m.logger.Warn("metrics sink write failed",
			"workflow_id", e.WorkflowID,
			"event_type", e.Type,
			"error", err,
		)
	}
}

func historyKey(kind workflow.Kind, stepID string) string {
	return string(kind) + "/" + stepID
}

var (
	_ executor.Observer        = (*Metrics)(nil)
	_ executor.HistoryProvider = (*Metrics)(nil)
)
