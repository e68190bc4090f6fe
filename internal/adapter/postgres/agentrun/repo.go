// Package agentrun implements the append-only agent run log using PostgreSQL.
// Runs are audit records: nothing ever updates or deletes them, and their
// references to users, items, and queries are weak by schema.
package agentrun

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

// Repo provides agent run persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new agent run repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// ---------------------------------------------------------------------------
// Write operations
// ---------------------------------------------------------------------------

const insertRunSQL = `
INSERT INTO agent_runs (agent, user_id, item_id, query_id, provider, model, prompt_version,
                        input_tokens, output_tokens, total_tokens, latency_ms, status, error_message, meta)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
RETURNING id, created_at`

// Insert appends a run record.
func (r *Repo) Insert(ctx context.Context, run *domain.AgentRun) (int64, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	meta := run.Meta
	if meta == nil {
		meta = map[string]any{}
	}

	err := q.QueryRow(ctx, insertRunSQL,
		string(run.Agent), run.UserID, run.ItemID, run.QueryID,
		run.Provider, run.Model, run.PromptVersion,
		run.InputTokens, run.OutputTokens, run.TotalTokens,
		run.LatencyMS, string(run.Status), run.ErrorMessage, meta,
	).Scan(&run.ID, &run.CreatedAt)
	if err != nil {
		return 0, mapError(err, "agent_run", 0)
	}

	return run.ID, nil
}

// ---------------------------------------------------------------------------
// Read operations
// ---------------------------------------------------------------------------

const runColumns = `id, agent, user_id, item_id, query_id, provider, model, prompt_version,
       input_tokens, output_tokens, total_tokens, latency_ms, status, error_message, meta, created_at`

// GetByID returns a run by primary key.
func (r *Repo) GetByID(ctx context.Context, id int64) (*domain.AgentRun, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var row runRow
	err := pgxscan.Get(ctx, q, &row, `SELECT `+runColumns+` FROM agent_runs WHERE id = $1`, id)
	if err != nil {
		return nil, mapError(err, "agent_run", id)
	}

	run := row.toDomain()
	return &run, nil
}

// Filter narrows List results. Zero values mean "no filter".
type Filter struct {
	Agent  domain.AgentKind
	Status domain.RunStatus
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

// List returns runs newest-first with optional agent, status, and user filters.
func (r *Repo) List(ctx context.Context, f Filter) ([]domain.AgentRun, error) {
	f.normalize()
	q := postgres.QuerierFromCtx(ctx, r.pool)

	builder := sq.Select("id", "agent", "user_id", "item_id", "query_id", "provider", "model",
		"prompt_version", "input_tokens", "output_tokens", "total_tokens", "latency_ms",
		"status", "error_message", "meta", "created_at").
		From("agent_runs").
		OrderBy("id DESC").
		Limit(uint64(f.Limit)).
		Offset(uint64(f.Offset)).
		PlaceholderFormat(sq.Dollar)

	if f.Agent != "" {
		builder = builder.Where(sq.Eq{"agent": string(f.Agent)})
	}
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

	var rows []runRow
	if err := pgxscan.Select(ctx, q, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("list agent_runs: %w", err)
	}

	runs := make([]domain.AgentRun, len(rows))
	for i, row := range rows {
		runs[i] = row.toDomain()
	}
	return runs, nil
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

type runRow struct {
	ID            int64          `db:"id"`
	Agent         string         `db:"agent"`
	UserID        *int64         `db:"user_id"`
	ItemID        *int64         `db:"item_id"`
	QueryID       *int64         `db:"query_id"`
	Provider      string         `db:"provider"`
	Model         string         `db:"model"`
	PromptVersion string         `db:"prompt_version"`
	InputTokens   int            `db:"input_tokens"`
	OutputTokens  int            `db:"output_tokens"`
	TotalTokens   int            `db:"total_tokens"`
	LatencyMS     *int64         `db:"latency_ms"`
	Status        string         `db:"status"`
	ErrorMessage  *string        `db:"error_message"`
	Meta          map[string]any `db:"meta"`
	CreatedAt     time.Time      `db:"created_at"`
}

func (row runRow) toDomain() domain.AgentRun {
	return domain.AgentRun{
		ID:            row.ID,
		Agent:         domain.AgentKind(row.Agent),
		UserID:        row.UserID,
		ItemID:        row.ItemID,
		QueryID:       row.QueryID,
		Provider:      row.Provider,
		Model:         row.Model,
		PromptVersion: row.PromptVersion,
		InputTokens:   row.InputTokens,
		OutputTokens:  row.OutputTokens,
		TotalTokens:   row.TotalTokens,
		LatencyMS:     row.LatencyMS,
		Status:        domain.RunStatus(row.Status),
		ErrorMessage:  row.ErrorMessage,
		Meta:          row.Meta,
		CreatedAt:     row.CreatedAt,
	}
}
