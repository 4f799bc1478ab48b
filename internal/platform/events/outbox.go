package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saudeplus/tiss/internal/platform/db"
)

// OutboxRepository persists outbox events.
type OutboxRepository interface {
	Record(ctx context.Context, e *Event) error
	ListPending(ctx context.Context, limit int) ([]*Event, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastError string, final bool) error
}

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type outboxRepoPG struct{ pool *pgxpool.Pool }

func NewOutboxRepoPG(pool *pgxpool.Pool) OutboxRepository { return &outboxRepoPG{pool: pool} }

func (r *outboxRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const eventCols = `id, event_type, aggregate_type, aggregate_id, payload, status, attempts, last_error, created_at, delivered_at`

func scanEvent(row pgx.Row) (*Event, error) {
	var e Event
	err := row.Scan(&e.ID, &e.Type, &e.AggregateType, &e.AggregateID, &e.Payload,
		&e.Status, &e.Attempts, &e.LastError, &e.CreatedAt, &e.DeliveredAt)
	return &e, err
}

func (r *outboxRepoPG) Record(ctx context.Context, e *Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Status == "" {
		e.Status = StatusPending
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO evento_outbox (id, event_type, aggregate_type, aggregate_id, payload, status, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.Type, e.AggregateType, e.AggregateID, e.Payload, e.Status, e.Attempts)
	return err
}

func (r *outboxRepoPG) ListPending(ctx context.Context, limit int) ([]*Event, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+eventCols+` FROM evento_outbox
		WHERE status = $1 ORDER BY created_at LIMIT $2`,
		StatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *outboxRepoPG) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE evento_outbox SET status = $1, delivered_at = now() WHERE id = $2`,
		StatusDelivered, id)
	return err
}

func (r *outboxRepoPG) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastError string, final bool) error {
	status := StatusPending
	if final {
		status = StatusFailed
	}
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE evento_outbox SET status = $1, attempts = $2, last_error = $3 WHERE id = $4`,
		status, attempts, lastError, id)
	return err
}

// Recorder is the interface domain services use to emit events. It is
// satisfied by Emitter and by per-package test fakes.
type Recorder interface {
	Emit(ctx context.Context, eventType, aggregateType, aggregateID string, payload interface{}) error
}

// Emitter writes events to the outbox. When called inside db.WithTx the
// event shares the mutation's transaction.
type Emitter struct {
	repo OutboxRepository
}

func NewEmitter(repo OutboxRepository) *Emitter { return &Emitter{repo: repo} }

func (e *Emitter) Emit(ctx context.Context, eventType, aggregateType, aggregateID string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	return e.repo.Record(ctx, &Event{
		Type:          eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Payload:       raw,
	})
}
