package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/randalmurphal/autoflow/internal/events"
)

// timeLayout keeps nanoseconds so events created in quick succession sort.
const timeLayout = "2006-01-02 15:04:05.000000000"

// EventLog represents a persisted workflow event.
type EventLog struct {
	ID         int64
	EventID    string
	WorkflowID string
	EventType  string
	Data       json.RawMessage
	CreatedAt  time.Time
}

// QueryEventsOptions specifies filters for querying events.
type QueryEventsOptions struct {
	WorkflowID string
	EventTypes []string
	Since      *time.Time
	Limit      int
}

// EventStore is an append-only events.Sink backed by the event_log table.
type EventStore struct {
	db *DB
}

// NewEventStore creates an EventStore.
func NewEventStore(db *DB) *EventStore {
	return &EventStore{db: db}
}

// Emit inserts the event. Replaying an event with the same id is a no-op.
func (s *EventStore) Emit(ctx context.Context, e events.Event) error {
	var data *string
	if e.Data != nil {
		b, err := json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("marshal event data: %w", err)
		}
		str := string(b)
		data = &str
	}
	created := e.Time
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.exec(ctx, `
		INSERT INTO event_log (event_id, workflow_id, event_type, data, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING
	`, e.ID, e.WorkflowID, string(e.Type), data, created.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("save event: %w", err)
	}
	return nil
}

// QueryEvents returns events matching opts ordered by creation time.
func (s *EventStore) QueryEvents(ctx context.Context, opts QueryEventsOptions) ([]EventLog, error) {
	var (
		where []string
		args  []any
	)
	if opts.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, opts.WorkflowID)
	}
	if len(opts.EventTypes) > 0 {
		where = append(where, "event_type IN (?"+strings.Repeat(", ?", len(opts.EventTypes)-1)+")")
		for _, t := range opts.EventTypes {
			args = append(args, t)
		}
	}
	if opts.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, opts.Since.UTC().Format(timeLayout))
	}

	q := "SELECT id, event_id, workflow_id, event_type, data, created_at FROM event_log"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at, id"
	if opts.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	rows, err := s.db.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []EventLog
	for rows.Next() {
		var (
			e       EventLog
			data    sql.NullString
			created string
		)
		if err := rows.Scan(&e.ID, &e.EventID, &e.WorkflowID, &e.EventType, &data, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if data.Valid {
			e.Data = json.RawMessage(data.String)
		}
		if t, err := time.Parse(timeLayout, created); err == nil {
			e.CreatedAt = t
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}
