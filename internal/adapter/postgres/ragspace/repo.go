// Package ragspace implements retrieval space configuration persistence
// using PostgreSQL.
package ragspace

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

// Repo provides rag space persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new rag space repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

const createSpaceSQL = `
INSERT INTO rag_spaces (space_key, backend, mode, is_graph_enabled, graph_namespace, config)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, created_at`

// Create registers a retrieval space.
func (r *Repo) Create(ctx context.Context, space *domain.RagSpace) (int64, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	cfg := space.Config
	if cfg == nil {
		cfg = map[string]any{}
	}

	err := q.QueryRow(ctx, createSpaceSQL,
		space.SpaceKey, space.Backend, space.Mode, space.IsGraphEnabled, space.GraphNamespace, cfg,
	).Scan(&space.ID, &space.CreatedAt)
	if err != nil {
		return 0, mapError(err, space.SpaceKey)
	}

	return space.ID, nil
}

const getSpaceByKeySQL = `
SELECT id, space_key, backend, mode, is_graph_enabled, graph_namespace, config, created_at
FROM rag_spaces
WHERE space_key = $1`

// GetByKey returns a space by its key.
func (r *Repo) GetByKey(ctx context.Context, spaceKey string) (*domain.RagSpace, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var space domain.RagSpace
	err := q.QueryRow(ctx, getSpaceByKeySQL, spaceKey).Scan(
		&space.ID, &space.SpaceKey, &space.Backend, &space.Mode,
		&space.IsGraphEnabled, &space.GraphNamespace, &space.Config, &space.CreatedAt,
	)
	if err != nil {
		return nil, mapError(err, spaceKey)
	}

	return &space, nil
}

// List returns all configured spaces.
func (r *Repo) List(ctx context.Context) ([]domain.RagSpace, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := q.Query(ctx,
		`SELECT id, space_key, backend, mode, is_graph_enabled, graph_namespace, config, created_at
		 FROM rag_spaces ORDER BY space_key`)
	if err != nil {
		return nil, fmt.Errorf("list rag_spaces: %w", err)
	}
	defer rows.Close()

	var spaces []domain.RagSpace
	for rows.Next() {
		var space domain.RagSpace
		if err := rows.Scan(
			&space.ID, &space.SpaceKey, &space.Backend, &space.Mode,
			&space.IsGraphEnabled, &space.GraphNamespace, &space.Config, &space.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan rag_space: %w", err)
		}
		spaces = append(spaces, space)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rag_spaces: %w", err)
	}

	return spaces, nil
}

// ---------------------------------------------------------------------------
// Error mapping
// ---------------------------------------------------------------------------

// mapError converts pgx/pgconn errors into domain errors.
func mapError(err error, spaceKey string) error {
	if err == nil {
		return nil
	}

	// context errors pass through as-is
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("rag_space %q: %w", spaceKey, err)
	}

	// pgx.ErrNoRows -> domain.ErrNotFound
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("rag_space %q: %w", spaceKey, domain.ErrNotFound)
	}

	// PgError codes
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("rag_space %q: %w", spaceKey, domain.ErrAlreadyExists)
		case "23514": // check_violation
			return fmt.Errorf("rag_space %q: %w", spaceKey, domain.ErrValidation)
		}
	}

	// Everything else: wrap with context
	return fmt.Errorf("rag_space %q: %w", spaceKey, err)
}
