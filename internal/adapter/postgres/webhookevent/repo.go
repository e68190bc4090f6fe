// Package webhookevent implements the webhook event ledger using PostgreSQL.
// The ledger is the idempotency barrier for platform callbacks: the first
// insert of an event id wins, redeliveries are skipped.
package webhookevent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/heartmarshall/newsline-backend/internal/adapter/postgres"
	"github.com/heartmarshall/newsline-backend/internal/domain"
)

// Repo provides webhook event persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new webhook event repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

const insertEventSQL = `
INSERT INTO webhook_events (event_id, event_type, line_user_id, payload)
VALUES ($1, $2, $3, $4)
ON CONFLICT (event_id) DO NOTHING`

// Insert admits an event into the ledger. It reports true when the event is
// new and false when the event id was already admitted; a redelivered event
// must produce no side effects.
func (r *Repo) Insert(ctx context.Context, ev *domain.WebhookEvent) (bool, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	tag, err := q.Exec(ctx, insertEventSQL,
		ev.EventID, string(ev.EventType), ev.LineUserID, ev.Payload)
	if err != nil {
		return false, mapError(err, "webhook_event", ev.EventID)
	}

	return tag.RowsAffected() > 0, nil
}

const getEventByIDSQL = `
SELECT id, event_id, event_type, line_user_id, payload, received_at
FROM webhook_events
WHERE event_id = $1`

// GetByEventID returns a ledger row by platform event id.
func (r *Repo) GetByEventID(ctx context.Context, eventID string) (*domain.WebhookEvent, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var ev domain.WebhookEvent
	var eventType string
	err := q.QueryRow(ctx, getEventByIDSQL, eventID).
		Scan(&ev.ID, &ev.EventID, &eventType, &ev.LineUserID, &ev.Payload, &ev.ReceivedAt)
	if err != nil {
		return nil, mapError(err, "webhook_event", eventID)
	}
	ev.EventType = domain.WebhookEventType(eventType)

	return &ev, nil
}

const deleteEventsOlderThanSQL = `
DELETE FROM webhook_events WHERE received_at < $1`

// DeleteOlderThan prunes ledger rows received before the cutoff and returns
// the number of rows removed. The retention window must outlast the
// platform's redelivery window or dedup protection is lost.
func (r *Repo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	tag, err := q.Exec(ctx, deleteEventsOlderThanSQL, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete webhook_events: %w", err)
	}

	return tag.RowsAffected(), nil
}

// ---------------------------------------------------------------------------
// Error mapping
// ---------------------------------------------------------------------------

// mapError converts pgx/pgconn errors into domain errors. The ledger is
// keyed by the platform's string event id, so the reference is a string.
func mapError(err error, entity, eventID string) error {
	if err == nil {
		return nil
	}

	// context errors pass through as-is
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s %s: %w", entity, eventID, err)
	}

	// pgx.ErrNoRows -> domain.ErrNotFound
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", entity, eventID, domain.ErrNotFound)
	}

	// PgError codes
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s %s: %w", entity, eventID, domain.ErrAlreadyExists)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s %s: %w", entity, eventID, domain.ErrNotFound)
		case "23514": // check_violation
			return fmt.Errorf("%s %s: %w", entity, eventID, domain.ErrValidation)
		}
	}

	// Everything else: wrap with context
	return fmt.Errorf("%s %s: %w", entity, eventID, err)
}
