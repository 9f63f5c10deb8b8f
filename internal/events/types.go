// Package events provides event types and publishing infrastructure for
// workflow observability. Metrics and audit records travel as events to
// one or more sinks.
package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType defines the type of event.
type EventType string

const (
	// EventTransition indicates a workflow state machine transition.
	EventTransition EventType = "transition"
	// EventStep indicates a step finished, skipped steps included.
	EventStep EventType = "step"
	// EventAudit carries an audit record.
	EventAudit EventType = "audit"
	// EventDecisionRequired indicates a merge waits for human confirmation.
	EventDecisionRequired EventType = "decision_required"
	// EventDecisionResolved indicates a pending decision was answered.
	EventDecisionResolved EventType = "decision_resolved"
	// EventComplete indicates the workflow reached a terminal state.
	EventComplete EventType = "complete"
)

// Event represents a published event.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	WorkflowID string    `json:"workflow_id"`
	Data       any       `json:"data"`
	Time       time.Time `json:"time"`
}

// NewEvent creates a new event with a fresh id and the current timestamp.
func NewEvent(eventType EventType, workflowID string, data any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		WorkflowID: workflowID,
		Data:       data,
		Time:       time.Now().UTC(),
	}
}

// TransitionData represents a state machine transition.
type TransitionData struct {
	From     string        `json:"from"`
	To       string        `json:"to"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// StepData represents a finished step.
type StepData struct {
	StepID   string        `json:"step_id"`
	Kind     string        `json:"kind"`
	Success  bool          `json:"success"`
	Skipped  bool          `json:"skipped,omitempty"`
	Cached   bool          `json:"cached,omitempty"`
	TimedOut bool          `json:"timed_out,omitempty"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// DecisionData represents a merge confirmation request or answer.
type DecisionData struct {
	DecisionID string `json:"decision_id"`
	Branch     string `json:"branch,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Approved   bool   `json:"approved,omitempty"`
	ResolvedBy string `json:"resolved_by,omitempty"`
}

// CompleteData represents workflow completion information.
type CompleteData struct {
	Status   string `json:"status"` // completed, failed
	Stage    string `json:"stage,omitempty"`
	Duration string `json:"duration,omitempty"`
	MergeSHA string `json:"merge_sha,omitempty"`
}
