package gate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/autoflow/internal/events"
)

// ErrDecisionNotFound is returned when resolving an unknown decision.
var ErrDecisionNotFound = errors.New("pending decision not found")

// PendingDecision is a merge confirmation waiting for a human.
type PendingDecision struct {
	DecisionID  string
	Request     Request
	RequestedAt time.Time
}

// Pending is a headless Confirmer. The first Confirm for a workflow
// records a pending decision, publishes decision_required and returns a
// pending Decision. Once Resolve is called the next Confirm for the
// workflow returns the resolution.
type Pending struct {
	sink events.Sink

	mu       sync.Mutex
	pending  map[string]*PendingDecision // by decision id
	byFlow   map[string]string           // workflow id -> decision id
	resolved map[string]*Decision        // by workflow id
}

// NewPending creates a Pending confirmer. sink may be nil.
func NewPending(sink events.Sink) *Pending {
	return &Pending{
		sink:     sink,
		pending:  make(map[string]*PendingDecision),
		byFlow:   make(map[string]string),
		resolved: make(map[string]*Decision),
	}
}

func (p *Pending) Confirm(ctx context.Context, req Request) (*Decision, error) {
	p.mu.Lock()
	if d, ok := p.resolved[req.WorkflowID]; ok {
		delete(p.resolved, req.WorkflowID)
		p.mu.Unlock()
		return d, nil
	}
	if id, ok := p.byFlow[req.WorkflowID]; ok {
		p.mu.Unlock()
		return &Decision{Pending: true, DecisionID: id, Reason: "awaiting decision"}, nil
	}
	pd := &PendingDecision{
		DecisionID:  uuid.NewString(),
		Request:     req,
		RequestedAt: time.Now().UTC(),
	}
	p.pending[pd.DecisionID] = pd
	p.byFlow[req.WorkflowID] = pd.DecisionID
	p.mu.Unlock()

	if p.sink != nil {
		ev := events.NewEvent(events.EventDecisionRequired, req.WorkflowID, events.DecisionData{
			DecisionID: pd.DecisionID,
			Branch:     req.Source,
			Reason:     fmt.Sprintf("merge %s into %s", req.Source, req.Target),
		})
		if err := p.sink.Emit(ctx, ev); err != nil {
			return nil, fmt.Errorf("publish decision: %w", err)
		}
	}
	return &Decision{Pending: true, DecisionID: pd.DecisionID, Reason: "awaiting decision"}, nil
}

// Resolve answers a pending decision.
func (p *Pending) Resolve(ctx context.Context, decisionID string, approved bool, by, reason string) error {
	p.mu.Lock()
	pd, ok := p.pending[decisionID]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDecisionNotFound, decisionID)
	}
	delete(p.pending, decisionID)
	delete(p.byFlow, pd.Request.WorkflowID)
	p.resolved[pd.Request.WorkflowID] = &Decision{
		Approved:   approved,
		Reason:     reason,
		ResolvedBy: by,
		DecisionID: decisionID,
	}
	p.mu.Unlock()

	if p.sink != nil {
		ev := events.NewEvent(events.EventDecisionResolved, pd.Request.WorkflowID, events.DecisionData{
			DecisionID: decisionID,
			Branch:     pd.Request.Source,
			Reason:     reason,
			Approved:   approved,
			ResolvedBy: by,
		})
		if err := p.sink.Emit(ctx, ev); err != nil {
			return fmt.Errorf("publish resolution: %w", err)
		}
	}
	return nil
}

// Get returns a pending decision.
func (p *Pending) Get(decisionID string) (*PendingDecision, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pd, ok := p.pending[decisionID]
	return pd, ok
}

// List returns all pending decisions, oldest first.
func (p *Pending) List() []*PendingDecision {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*PendingDecision, 0, len(p.pending))
	for _, pd := range p.pending {
		out = append(out, pd)
	}
	slices.SortFunc(out, func(a, b *PendingDecision) int { return a.RequestedAt.Compare(b.RequestedAt) })
	return out
}
