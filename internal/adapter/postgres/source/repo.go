// Package source implements the feed source registry repository using PostgreSQL.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/heartmarshall/newsline-backend/internal/adapter/postgres"
	"github.com/heartmarshall/newsline-backend/internal/domain"
)

// Repo provides feed source persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new source repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

const validateSourceSQL = `
SELECT 1 FROM sources WHERE id = $1 AND source_key = $2 AND enabled = TRUE`

// Validate checks that the (id, source_key) pair names a registered, enabled
// source. Returns domain.ErrValidation otherwise: the fetcher sent an item
// for a source the system does not accept.
func (r *Repo) Validate(ctx context.Context, id int64, sourceKey string) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var one int
	err := q.QueryRow(ctx, validateSourceSQL, id, sourceKey).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("source %d (%s): unknown or disabled: %w", id, sourceKey, domain.ErrValidation)
	}
	if err != nil {
		return mapError(err, "source", id)
	}

	return nil
}

const getSourceByKeySQL = `
SELECT id, source_key, title, feed_url, enabled, created_at
FROM sources
WHERE source_key = $1`

// GetByKey returns a source by its unique source key.
func (r *Repo) GetByKey(ctx context.Context, sourceKey string) (*domain.Source, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var src domain.Source
	err := q.QueryRow(ctx, getSourceByKeySQL, sourceKey).
		Scan(&src.ID, &src.SourceKey, &src.Title, &src.FeedURL, &src.Enabled, &src.CreatedAt)
	if err != nil {
		return nil, mapError(err, "source", 0)
	}

	return &src, nil
}

const createSourceSQL = `
INSERT INTO sources (source_key, title, feed_url, enabled)
VALUES ($1, $2, $3, $4)
RETURNING id, created_at`

// Create registers a new source. Returns domain.ErrAlreadyExists when the
// source key is taken.
func (r *Repo) Create(ctx context.Context, src *domain.Source) (*domain.Source, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	result := *src
	err := q.QueryRow(ctx, createSourceSQL, src.SourceKey, src.Title, src.FeedURL, src.Enabled).
		Scan(&result.ID, &result.CreatedAt)
	if err != nil {
		return nil, mapError(err, "source", 0)
	}

	return &result, nil
}

const listSourcesSQL = `
SELECT id, source_key, title, feed_url, enabled, created_at
FROM sources
ORDER BY source_key`

// List returns all registered sources ordered by key.
func (r *Repo) List(ctx context.Context) ([]domain.Source, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := q.Query(ctx, listSourcesSQL)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var sources []domain.Source
	for rows.Next() {
		var src domain.Source
		if err := rows.Scan(&src.ID, &src.SourceKey, &src.Title, &src.FeedURL, &src.Enabled, &src.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}

	return sources, nil
}

const setSourceEnabledSQL = `
UPDATE sources SET enabled = $2 WHERE id = $1`

// SetEnabled switches a source on or off. Returns domain.ErrNotFound for an
// unknown id.
func (r *Repo) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	tag, err := q.Exec(ctx, setSourceEnabledSQL, id, enabled)
	if err != nil {
		return mapError(err, "source", id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source %d: %w", id, domain.ErrNotFound)
	}

	return nil
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
