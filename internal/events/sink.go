package events

import (
	"context"
	"errors"
	"log/slog"
)

// Sink is an append-only consumer of events: the observability sink
// metrics and audit records are written to.
type Sink interface {
	Emit(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event Event) error

func (f SinkFunc) Emit(ctx context.Context, event Event) error { return f(ctx, event) }

// Fanout delivers every event to all sinks. Emit reports the joined errors
// of failing sinks after trying every one.
type Fanout struct {
	sinks []Sink
}

// NewFanout creates a Fanout over the non-nil sinks.
func NewFanout(sinks ...Sink) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Add appends a sink.
func (f *Fanout) Add(s Sink) { f.sinks = append(f.sinks, s) }

func (f *Fanout) Emit(ctx context.Context, event Event) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BestEffort wraps a sink so failures are logged and swallowed. Workflows
// emit through it so an unavailable sink never fails a workflow.
type BestEffort struct {
	sink   Sink
	logger *slog.Logger
}

// NewBestEffort wraps sink.
func NewBestEffort(sink Sink, logger *slog.Logger) *BestEffort {
	if logger == nil {
		logger = slog.Default()
	}
	return &BestEffort{sink: sink, logger: logger}
}

func (b *BestEffort) Emit(ctx context.Context, event Event) error {
	if err := b.sink.Emit(ctx, event); err != nil {
		b.logger.Warn("event sink failed",
			"workflow_id", event.WorkflowID,
			"event_type", event.Type,
			"error", err,
		)
	}
	return nil
}
