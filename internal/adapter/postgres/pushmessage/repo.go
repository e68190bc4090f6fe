// Package pushmessage implements the outbound delivery queue using
// PostgreSQL. Claiming is a single UPDATE over SKIP LOCKED row locks, so any
// number of sender processes can share one queue, and the claim query only
// ever considers each user's oldest PENDING message. That keeps delivery
// per-user FIFO: a younger message cannot overtake an older one, and a user
// never has two messages in flight.
package pushmessage

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/heartmarshall/newsline-backend/internal/adapter/postgres"
	"github.com/heartmarshall/newsline-backend/internal/domain"
)

// Repo provides delivery queue persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new push message repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// ---------------------------------------------------------------------------
// Enqueue
// ---------------------------------------------------------------------------

const enqueueSQL = `
INSERT INTO push_messages (user_id, item_id, translation_id, agent_run_id,
                           target_line_user_id, title, body, payload)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, created_at, updated_at`

// Enqueue appends a message to the queue in PENDING state.
func (r *Repo) Enqueue(ctx context.Context, msg *domain.PushMessage) (int64, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	payload := msg.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	err := q.QueryRow(ctx, enqueueSQL,
		msg.UserID, msg.ItemID, msg.TranslationID, msg.AgentRunID,
		msg.TargetLineUserID, msg.Title, msg.Body, payload,
	).Scan(&msg.ID, &msg.CreatedAt, &msg.UpdatedAt)
	if err != nil {
		return 0, mapError(err, "push_message", 0)
	}

	msg.Status = domain.PushStatusPending
	return msg.ID, nil
}

// ---------------------------------------------------------------------------
// Claiming
// ---------------------------------------------------------------------------

// claimBatchSQL claims up to $1 messages, at most one per user.
//
// heads yields each user's oldest PENDING id, so SKIP LOCKED can only ever
// skip a whole user, never fall through to a younger message of the same
// user. The NOT EXISTS guard keeps users with an in-flight SENDING row out
// of the batch, and the re-checked p.status covers rows that were claimed
// and committed between our snapshot and the row lock.
const claimBatchSQL = `
WITH heads AS (
    SELECT min(id) AS id
    FROM push_messages
    WHERE status = 'PENDING'
    GROUP BY user_id
),
claimable AS (
    SELECT p.id
    FROM push_messages p
    JOIN heads h ON h.id = p.id
    WHERE p.status = 'PENDING'
      AND NOT EXISTS (
          SELECT 1 FROM push_messages s
          WHERE s.user_id = p.user_id AND s.status = 'SENDING'
      )
    ORDER BY p.id
    LIMIT $1
    FOR UPDATE OF p SKIP LOCKED
)
UPDATE push_messages m
SET status = 'SENDING', claimed_at = now(), attempt_count = m.attempt_count + 1
FROM claimable c
WHERE m.id = c.id
RETURNING m.id, m.user_id, m.item_id, m.translation_id, m.agent_run_id,
          m.target_line_user_id, m.title, m.body, m.payload, m.status,
          m.attempt_count, m.line_request_id, m.error_message,
          m.claimed_at, m.sent_at, m.created_at, m.updated_at`

// ClaimBatch atomically moves up to limit claimable messages to SENDING and
// returns them oldest-first. An empty batch means nothing is claimable right
// now, not that the queue is empty.
func (r *Repo) ClaimBatch(ctx context.Context, limit int) ([]domain.PushMessage, error) {
	if limit <= 0 {
		limit = 1
	}
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var rows []messageRow
	if err := pgxscan.Select(ctx, q, &rows, claimBatchSQL, limit); err != nil {
		return nil, fmt.Errorf("claim push_messages: %w", err)
	}

	msgs := make([]domain.PushMessage, len(rows))
	for i, row := range rows {
		msgs[i] = row.toDomain()
	}
	return msgs, nil
}

// claimUserHeadSQL claims the user's oldest PENDING message. Unlike the
// batch query it waits on the head's row lock instead of skipping it; after
// the wait the re-checked status drops the row when a concurrent claimer
// won, so the only possible outcomes are "claimed the head" and "claimed
// nothing".
const claimUserHeadSQL = `
WITH head AS (
    SELECT min(id) AS id
    FROM push_messages
    WHERE user_id = $1 AND status = 'PENDING'
)
UPDATE push_messages m
SET status = 'SENDING', claimed_at = now(), attempt_count = m.attempt_count + 1
FROM head h
WHERE m.id = h.id
  AND m.status = 'PENDING'
  AND NOT EXISTS (
      SELECT 1 FROM push_messages s
      WHERE s.user_id = $1 AND s.status = 'SENDING' AND s.id <> m.id
  )
RETURNING m.id, m.user_id, m.item_id, m.translation_id, m.agent_run_id,
          m.target_line_user_id, m.title, m.body, m.payload, m.status,
          m.attempt_count, m.line_request_id, m.error_message,
          m.claimed_at, m.sent_at, m.created_at, m.updated_at`

// ClaimUserHead claims the oldest PENDING message of one user, used for
// immediate delivery right after an enqueue. Returns ErrNotFound when the
// user has nothing claimable.
func (r *Repo) ClaimUserHead(ctx context.Context, userID int64) (*domain.PushMessage, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var row messageRow
	err := pgxscan.Get(ctx, q, &row, claimUserHeadSQL, userID)
	if err != nil {
		return nil, mapError(err, "push_message", 0)
	}

	msg := row.toDomain()
	return &msg, nil
}

// ---------------------------------------------------------------------------
// Attempt outcomes
// ---------------------------------------------------------------------------

const markSentSQL = `
UPDATE push_messages
SET status = 'SENT', line_request_id = $2, sent_at = $3, error_message = NULL
WHERE id = $1 AND status = 'SENDING'`

// MarkSent finalizes a delivered message. Only the SENDING holder may
// finalize; anything else is a conflict.
func (r *Repo) MarkSent(ctx context.Context, id int64, lineRequestID *string, sentAt time.Time) error {
	return r.transition(ctx, markSentSQL, id, lineRequestID, sentAt)
}

const markFailedSQL = `
UPDATE push_messages
SET status = 'FAILED', error_message = $2
WHERE id = $1 AND status = 'SENDING'`

// MarkFailed records a failed attempt. The retry policy decides later
// whether the message becomes PENDING again.
func (r *Repo) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	return r.transition(ctx, markFailedSQL, id, errMsg)
}

// transition runs a compare-and-set status update. Zero affected rows means
// the message is absent or its status moved under us.
func (r *Repo) transition(ctx context.Context, sql string, id int64, args ...any) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	tag, err := q.Exec(ctx, sql, append([]any{id}, args...)...)
	if err != nil {
		return mapError(err, "push_message", id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("push_message %d: status moved concurrently: %w", id, domain.ErrConflict)
	}

	return nil
}

// ---------------------------------------------------------------------------
// Maintenance
// ---------------------------------------------------------------------------

const releaseStaleSQL = `
UPDATE push_messages
SET status = 'PENDING', claimed_at = NULL
WHERE status = 'SENDING' AND claimed_at < $1`

// ReleaseStale returns crashed-claim messages to PENDING. The attempt that
// died stays counted in attempt_count. Returns the number of released rows.
func (r *Repo) ReleaseStale(ctx context.Context, olderThan time.Time) (int64, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	tag, err := q.Exec(ctx, releaseStaleSQL, olderThan)
	if err != nil {
		return 0, fmt.Errorf("release stale push_messages: %w", err)
	}
	return tag.RowsAffected(), nil
}

// retryFailedSQL re-flags FAILED messages whose exponential backoff has
// elapsed: base * 2^(attempt-1) seconds since the failing update.
const retryFailedSQL = `
UPDATE push_messages
SET status = 'PENDING'
WHERE status = 'FAILED'
  AND attempt_count < $1
  AND updated_at < now() - ($2 * interval '1 second') * power(2, GREATEST(attempt_count, 1) - 1)`

// RetryFailed re-flags retryable FAILED messages as PENDING. Messages at or
// past maxAttempts stay FAILED until an operator requeues them. Returns the
// number of re-flagged rows.
func (r *Repo) RetryFailed(ctx context.Context, maxAttempts int, backoffBase time.Duration) (int64, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	tag, err := q.Exec(ctx, retryFailedSQL, maxAttempts, backoffBase.Seconds())
	if err != nil {
		return 0, fmt.Errorf("retry failed push_messages: %w", err)
	}
	return tag.RowsAffected(), nil
}

const requeueSQL = `
UPDATE push_messages
SET status = 'PENDING', attempt_count = 0, error_message = NULL, claimed_at = NULL
WHERE id = $1 AND status = 'FAILED'`

// Requeue resets a FAILED message for a fresh round of attempts, bypassing
// the attempt cap. Operator surface only.
func (r *Repo) Requeue(ctx context.Context, id int64) error {
	return r.transition(ctx, requeueSQL, id)
}

// ---------------------------------------------------------------------------
// Read operations
// ---------------------------------------------------------------------------

const messageColumns = `id, user_id, item_id, translation_id, agent_run_id, target_line_user_id,
       title, body, payload, status, attempt_count, line_request_id, error_message,
       claimed_at, sent_at, created_at, updated_at`

// GetByID returns a message by primary key.
func (r *Repo) GetByID(ctx context.Context, id int64) (*domain.PushMessage, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var row messageRow
	err := pgxscan.Get(ctx, q, &row, `SELECT `+messageColumns+` FROM push_messages WHERE id = $1`, id)
	if err != nil {
		return nil, mapError(err, "push_message", id)
	}

	msg := row.toDomain()
	return &msg, nil
}

// Filter narrows List results. Zero values mean "no filter".
type Filter struct {
	Status domain.PushStatus
	UserID int64
	Limit  int
	Offset int
}

func (f *Filter) normalize() {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 200 {
		f.Limit = 200
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// List returns messages newest-first with optional status and user filters.
func (r *Repo) List(ctx context.Context, f Filter) ([]domain.PushMessage, error) {
	f.normalize()
	q := postgres.QuerierFromCtx(ctx, r.pool)

	builder := sq.Select("id", "user_id", "item_id", "translation_id", "agent_run_id",
		"target_line_user_id", "title", "body", "payload", "status", "attempt_count",
		"line_request_id", "error_message", "claimed_at", "sent_at", "created_at", "updated_at").
		From("push_messages").
		OrderBy("id DESC").
		Limit(uint64(f.Limit)).
		Offset(uint64(f.Offset)).
		PlaceholderFormat(sq.Dollar)

	if f.Status != "" {
		builder = builder.Where(sq.Eq{"status": string(f.Status)})
	}
	if f.UserID != 0 {
		builder = builder.Where(sq.Eq{"user_id": f.UserID})
	}

	sql, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}

	var rows []messageRow
	if err := pgxscan.Select(ctx, q, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("list push_messages: %w", err)
	}

	msgs := make([]domain.PushMessage, len(rows))
	for i, row := range rows {
		msgs[i] = row.toDomain()
	}
	return msgs, nil
}

// CountByStatus returns queue depth per status.
func (r *Repo) CountByStatus(ctx context.Context) (map[domain.PushStatus]int, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := q.Query(ctx, `SELECT status, count(*) FROM push_messages GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count push_messages: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.PushStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan push_message count: %w", err)
		}
		counts[domain.PushStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate push_message counts: %w", err)
	}

	return counts, nil
}

// ---------------------------------------------------------------------------
// Error mapping
// ---------------------------------------------------------------------------

// mapError converts pgx/pgconn errors into domain errors.
func mapError(err error, entity string, id int64) error {
	if err == nil {
		return nil
	}

	// context errors pass through as-is
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s %d: %w", entity, id, err)
	}

	// pgx.ErrNoRows -> domain.ErrNotFound
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", entity, id, domain.ErrNotFound)
	}

	// PgError codes
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s %d: %w", entity, id, domain.ErrAlreadyExists)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s %d: %w", entity, id, domain.ErrNotFound)
		case "23514": // check_violation
			return fmt.Errorf("%s %d: %w", entity, id, domain.ErrValidation)
		}
	}

	// Everything else: wrap with context
	return fmt.Errorf("%s %d: %w", entity, id, err)
}

// ---------------------------------------------------------------------------
// Row mapping
// ---------------------------------------------------------------------------

type messageRow struct {
	ID               int64          `db:"id"`
	UserID           int64          `db:"user_id"`
	ItemID           *int64         `db:"item_id"`
	TranslationID    *int64         `db:"translation_id"`
	AgentRunID       *int64         `db:"agent_run_id"`
	TargetLineUserID string         `db:"target_line_user_id"`
	Title            string         `db:"title"`
	Body             string         `db:"body"`
	Payload          map[string]any `db:"payload"`
	Status           string         `db:"status"`
	AttemptCount     int            `db:"attempt_count"`
	LineRequestID    *string        `db:"line_request_id"`
	ErrorMessage     *string        `db:"error_message"`
	ClaimedAt        *time.Time     `db:"claimed_at"`
	SentAt           *time.Time     `db:"sent_at"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

func (row messageRow) toDomain() domain.PushMessage {
	return domain.PushMessage{
		ID:               row.ID,
		UserID:           row.UserID,
		ItemID:           row.ItemID,
		TranslationID:    row.TranslationID,
		AgentRunID:       row.AgentRunID,
		TargetLineUserID: row.TargetLineUserID,
		Title:            row.Title,
		Body:             row.Body,
		Payload:          row.Payload,
		Status:           domain.PushStatus(row.Status),
		AttemptCount:     row.AttemptCount,
		LineRequestID:    row.LineRequestID,
		ErrorMessage:     row.ErrorMessage,
		ClaimedAt:        row.ClaimedAt,
		SentAt:           row.SentAt,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	}
}
