// Package userquery implements the question ledger using PostgreSQL.
// Rows are append-only: every question gets exactly one row recording its
// outcome, rejected and failed ones included.
package userquery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/heartmarshall/newsline-backend/internal/adapter/postgres"
	"github.com/heartmarshall/newsline-backend/internal/domain"
)

// Repo provides user query persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new user query repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// ---------------------------------------------------------------------------
// Write operations
// ---------------------------------------------------------------------------

const insertQuerySQL = `
INSERT INTO user_queries (user_id, question_text, answer_text, status,
                          rejected_reason, rag_provider, rag_space_key, rag_mode, rag_refs, answered_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id, created_at`

// Insert records a question outcome. The rag_refs default is an empty JSON
// array when the caller passes none.
func (r *Repo) Insert(ctx context.Context, q *domain.UserQuery) (int64, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	refs := q.RAGRefs
	if len(refs) == 0 {
		refs = []byte(`[]`)
	}

	err := querier.QueryRow(ctx, insertQuerySQL,
		q.UserID, q.QuestionText, q.AnswerText, string(q.Status),
		q.RejectedReason, q.RAGProvider, q.RAGSpaceKey, q.RAGMode, refs, q.AnsweredAt,
	).Scan(&q.ID, &q.CreatedAt)
	if err != nil {
		return 0, mapError(err, "user_query", 0)
	}

	return q.ID, nil
}

// ---------------------------------------------------------------------------
// Read operations
// ---------------------------------------------------------------------------

const queryColumns = `id, user_id, question_text, answer_text, status, rejected_reason,
       rag_provider, rag_space_key, rag_mode, rag_refs, answered_at, created_at`

// GetByID returns a query by primary key.
func (r *Repo) GetByID(ctx context.Context, id int64) (*domain.UserQuery, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	var row queryRow
	err := pgxscan.Get(ctx, querier, &row, `SELECT `+queryColumns+` FROM user_queries WHERE id = $1`, id)
	if err != nil {
		return nil, mapError(err, "user_query", id)
	}

	q := row.toDomain()
	return &q, nil
}

// ListByUser returns the user's questions newest-first.
func (r *Repo) ListByUser(ctx context.Context, userID int64, limit int) ([]domain.UserQuery, error) {
	if limit <= 0 {
		limit = 50
	}
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	var rows []queryRow
	err := pgxscan.Select(ctx, querier, &rows,
		`SELECT `+queryColumns+` FROM user_queries WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list user_queries for user %d: %w", userID, err)
	}

	out := make([]domain.UserQuery, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

// CountByUserSince counts the user's questions created at or after since,
// regardless of outcome. Used by ops reporting, not the quota gate.
func (r *Repo) CountByUserSince(ctx context.Context, userID int64, since time.Time) (int, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	var n int
	err := querier.QueryRow(ctx,
		`SELECT count(*) FROM user_queries WHERE user_id = $1 AND created_at >= $2`,
		userID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count user_queries for user %d: %w", userID, err)
	}
	return n, nil
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

type queryRow struct {
	ID             int64      `db:"id"`
	UserID         int64      `db:"user_id"`
	QuestionText   string     `db:"question_text"`
	AnswerText     *string    `db:"answer_text"`
	Status         string     `db:"status"`
	RejectedReason *string    `db:"rejected_reason"`
	RAGProvider    string     `db:"rag_provider"`
	RAGSpaceKey    string     `db:"rag_space_key"`
	RAGMode        string     `db:"rag_mode"`
	RAGRefs        []byte     `db:"rag_refs"`
	AnsweredAt     *time.Time `db:"answered_at"`
	CreatedAt      time.Time  `db:"created_at"`
}

func (row queryRow) toDomain() domain.UserQuery {
	return domain.UserQuery{
		ID:             row.ID,
		UserID:         row.UserID,
		QuestionText:   row.QuestionText,
		AnswerText:     row.AnswerText,
		Status:         domain.QueryStatus(row.Status),
		RejectedReason: row.RejectedReason,
		RAGProvider:    row.RAGProvider,
		RAGSpaceKey:    row.RAGSpaceKey,
		RAGMode:        row.RAGMode,
		RAGRefs:        row.RAGRefs,
		AnsweredAt:     row.AnsweredAt,
		CreatedAt:      row.CreatedAt,
	}
}
