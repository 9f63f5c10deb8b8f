// Package audit writes one immutable record per major workflow stage
// transition to the observability sink.
package audit

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/autoflow/internal/events"
	"github.com/randalmurphal/autoflow/internal/workflow"
)

// Outcome of an audited stage.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeBlocked   Outcome = "blocked"
	OutcomeCancelled Outcome = "cancelled"
)

// Action names the audited transition.
type Action string

const (
	ActionValidated         Action = "validated"
	ActionBranchCreated     Action = "branch_created"
	ActionBranchDeleted     Action = "branch_deleted"
	ActionStepsCompleted    Action = "steps_completed"
	ActionPRCreated         Action = "pr_created"
	ActionPRSkipped         Action = "pr_skipped"
	ActionReviewCompleted   Action = "review_completed"
	ActionMergeCompleted    Action = "merge_completed"
	ActionMergeBlocked      Action = "merge_blocked"
	ActionReleaseTagged     Action = "release_tagged"
	ActionWorkflowFailed    Action = "workflow_failed"
	ActionWorkflowCancelled Action = "workflow_cancelled"
	ActionWorkflowResumed   Action = "workflow_resumed"
)

// Record is one audit entry. Records are values and never change after
// they are written.
type Record struct {
	ID         string            `json:"id"`
	WorkflowID string            `json:"workflow_id"`
	TaskID     string            `json:"task_id"`
	Stage      string            `json:"stage"`
	Action     Action            `json:"action"`
	Outcome    Outcome           `json:"outcome"`
	Detail     string            `json:"detail,omitempty"`
	Error      string            `json:"error,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Snapshot   workflow.Snapshot `json:"context_snapshot"`
}

// Auditor appends records to a sink and keeps them in memory for the
// lifetime of the process.
type Auditor struct {
	sink   events.Sink
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	records map[string][]Record
}

// Option configures an Auditor.
type Option func(*Auditor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(a *Auditor) { a.logger = l } }

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option { return func(a *Auditor) { a.now = now } }

// New creates an Auditor writing to sink. A nil sink keeps records in
// memory only.
func New(sink events.Sink, opts ...Option) *Auditor {
	a := &Auditor{
		sink:    sink,
		logger:  slog.Default(),
		now:     time.Now,
		records: make(map[string][]Record),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Entry describes a transition to record.
type Entry struct {
	Stage   string
	Action  Action
	Outcome Outcome
	Detail  string
	Err     error
}

// Record writes an audit record with a full snapshot of wctx. Sink
// failures are logged; the record is kept either way.
func (a *Auditor) Record(ctx context.Context, wctx *workflow.Context, e Entry) Record {
	rec := Record{
		ID:         uuid.NewString(),
		WorkflowID: wctx.ID(),
		TaskID:     wctx.TaskID(),
		Stage:      e.Stage,
		Action:     e.Action,
		Outcome:    e.Outcome,
		Detail:     e.Detail,
		Timestamp:  a.now().UTC(),
		Snapshot:   wctx.Snapshot(),
	}
	if e.Err != nil {
		rec.Error = e.Err.Error()
	}

	a.mu.Lock()
	a.records[rec.WorkflowID] = append(a.records[rec.WorkflowID], rec)
	a.mu.Unlock()

	if a.sink != nil {
		ev := events.Event{
			ID:         rec.ID,
			Type:       events.EventAudit,
			WorkflowID: rec.WorkflowID,
			Data:       rec,
			Time:       rec.Timestamp,
		}
		// a workflow that was cancelled still gets its audit record written
		if err := a.sink.Emit(context.WithoutCancel(ctx), ev); err != nil {
			a.logger.Warn("audit sink write failed",
				"workflow_id", rec.WorkflowID,
				"action", rec.Action,
				"error", err,
			)
		}
	}
	return rec
}

// Records returns a copy of the workflow's records in write order.
func (a *Auditor) Records(workflowID string) []Record {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.records[workflowID])
}

// Actions returns the recorded actions of a workflow in order.
func (a *Auditor) Actions(workflowID string) []Action {
	recs := a.Records(workflowID)
	out := make([]Action, len(recs))
	for i, r := range recs {
		out[i] = r.Action
	}
	return out
}
