package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Event types written to the pipeline audit trail.
const (
	EventBatchUploaded    = "batch_uploaded"
	EventBatchReprocessed = "batch_reprocessed"
	EventBatchCompleted   = "batch_completed"
	EventBatchFailed      = "batch_failed"
	EventBatchDeleted     = "batch_deleted"
	EventQuestionEdited   = "question_edited"
	EventQuestionDeleted  = "question_deleted"
)

// Event is one entry of the pipeline audit trail. Events outlive the
// batches and questions they mention.
type Event struct {
	BatchID    string
	QuestionID string
	Actor      string
	EventType  string
	Data       map[string]any
	CreatedAt  time.Time
}

// EventLogger defines event logging behavior.
type EventLogger interface {
	LogEvent(event Event) error
}

// NopEventLogger ignores all events.
type NopEventLogger struct{}

func (NopEventLogger) LogEvent(Event) error {
	return nil
}

// MemoryEventLogger stores events in memory for tests.
type MemoryEventLogger struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryEventLogger() *MemoryEventLogger {
	return &MemoryEventLogger{
		events: []Event{},
	}
}

func (l *MemoryEventLogger) LogEvent(event Event) error {
	if event.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()

	return nil
}

func (l *MemoryEventLogger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event{}, l.events...)
}

// OfType returns the recorded events of the given type.
func (l *MemoryEventLogger) OfType(eventType string) []Event {
	var out []Event
	for _, e := range l.Events() {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// PostgresEventLogger inserts events into the pipeline_events table.
type PostgresEventLogger struct {
	pool *pgxpool.Pool
}

func NewPostgresEventLogger(pool *pgxpool.Pool) *PostgresEventLogger {
	return &PostgresEventLogger{pool: pool}
}

func (l *PostgresEventLogger) LogEvent(event Event) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("event logger pool is nil")
	}
	if event.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if event.BatchID == "" && event.QuestionID == "" {
		return fmt.Errorf("batch_id or question_id is required")
	}

	payload := event.Data
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	_, err = l.pool.Exec(ctx,
		`INSERT INTO pipeline_events (batch_id, question_id, actor, event_type, data, created_at)
		 VALUES ($1::uuid, $2::uuid, $3, $4, $5::jsonb, $6)`,
		nullIfEmpty(event.BatchID),
		nullIfEmpty(event.QuestionID),
		event.Actor,
		event.EventType,
		string(data),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	slog.Debug("event logged",
		"type", event.EventType,
		"batch_id", event.BatchID,
		"question_id", event.QuestionID,
	)
	return nil
}

// logEvent records e and only logs a failure; the audit trail never
// blocks the pipeline.
func logEvent(l EventLogger, e Event) {
	if l == nil {
		return
	}
	if err := l.LogEvent(e); err != nil {
		slog.Warn("failed to log pipeline event", "type", e.EventType, "batch_id", e.BatchID, "error", err)
	}
}
