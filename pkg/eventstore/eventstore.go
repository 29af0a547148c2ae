package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrStreamNotFound      = errors.New("stream not found")
)

const schema = `
CREATE TABLE IF NOT EXISTS circulation_events (
	id         UUID PRIMARY KEY,
	stream_id  TEXT NOT NULL,
	event_type TEXT NOT NULL,
	payload    JSONB NOT NULL,
	version    INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (stream_id, version)
)`

// Event is one record of the circulation event journal.
type Event struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	StreamID  string          `json:"stream_id" db:"stream_id"`
	EventType string          `json:"event_type" db:"event_type"`
	Payload   json.RawMessage `json:"payload" db:"payload"`
	Version   int             `json:"version" db:"version"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// EventStore is an append-only journal of circulation events, one ordered
// stream per loan.
type EventStore struct {
	db     *sql.DB
	tracer trace.Tracer
}

// NewEventStore creates a new event store on the given connection pool.
func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{
		db:     db,
		tracer: otel.Tracer("loanflow/eventstore"),
	}
}

// EnsureSchema creates the events table when it does not exist yet.
func (es *EventStore) EnsureSchema(ctx context.Context) error {
	if _, err := es.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure events schema: %w", err)
	}
	return nil
}

// Append atomically appends one event to the stream, assigning the next
// version. A concurrent append to the same stream loses on the unique
// constraint and reports ErrConcurrencyConflict.
func (es *EventStore) Append(ctx context.Context, streamID, eventType string, payload any) error {
	ctx, span := es.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(
			attribute.String("stream.id", streamID),
			attribute.String("event.type", eventType),
		),
	)
	defer span.End()

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	tx, err := es.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var currentVersion int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0)
		FROM circulation_events
		WHERE stream_id = $1
	`, streamID).Scan(&currentVersion)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("query current version: %w", err)
	}

	version := currentVersion + 1
	_, err = tx.ExecContext(ctx, `
		INSERT INTO circulation_events (id, stream_id, event_type, payload, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.New(), streamID, eventType, data, version, time.Now().UTC())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			span.SetAttributes(attribute.Bool("conflict.detected", true))
			return ErrConcurrencyConflict
		}
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	span.AddEvent("event.appended", trace.WithAttributes(
		attribute.Int("event.version", version),
	))
	return nil
}

// Load retrieves the events of one stream in version order.
func (es *EventStore) Load(ctx context.Context, streamID string) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.load",
		trace.WithAttributes(attribute.String("stream.id", streamID)))
	defer span.End()

	rows, err := es.db.QueryContext(ctx, `
		SELECT id, stream_id, event_type, payload, version, created_at
		FROM circulation_events
		WHERE stream_id = $1
		ORDER BY version ASC
	`, streamID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var event Event
		if err := rows.Scan(
			&event.ID,
			&event.StreamID,
			&event.EventType,
			&event.Payload,
			&event.Version,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

// Streamer lets an event payload name the journal stream it belongs to.
type Streamer interface {
	StreamID() string
}

// Bus adapts the event store to the fire-and-forget bus contract the
// circulation engine emits on. Payloads implementing Streamer land in
// their own stream; anything else goes to a shared one.
type Bus struct {
	store *EventStore
	log   *slog.Logger
}

// NewBus wraps the store as an event bus.
func NewBus(store *EventStore, log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{store: store, log: log}
}

// Emit appends the event to the journal.
func (b *Bus) Emit(ctx context.Context, name string, payload any) error {
	streamID := "circulation"
	if s, ok := payload.(Streamer); ok && s.StreamID() != "" {
		streamID = s.StreamID()
	}
	return b.store.Append(ctx, streamID, name, payload)
}
