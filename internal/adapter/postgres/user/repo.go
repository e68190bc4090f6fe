// Package user implements the User repository using PostgreSQL.
// Users are created implicitly on first contact and never deleted by the
// application; unfollow only flips is_active.
package user

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

// Repo provides user persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool

	// defaultDailyLimit is stamped on rows this repo creates. Existing rows
	// keep whatever limit they already carry.
	defaultDailyLimit int
}

// New creates a new user repository. defaultDailyLimit applies to users
// created through this repo; values below 1 fall back to the domain default.
func New(pool *pgxpool.Pool, defaultDailyLimit int) *Repo {
	if defaultDailyLimit < 1 {
		defaultDailyLimit = domain.DefaultDailyQuestionLimit
	}
	return &Repo{pool: pool, defaultDailyLimit: defaultDailyLimit}
}

const userColumns = `id, line_user_id, display_name, preferred_lang, timezone, is_active, daily_question_limit, created_at, updated_at`

// ---------------------------------------------------------------------------
// Read operations
// ---------------------------------------------------------------------------

// GetByID returns a user by primary key.
func (r *Repo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	row := q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		return nil, mapError(err, "user", id)
	}

	return u, nil
}

// GetByLineID returns a user by platform user id.
func (r *Repo) GetByLineID(ctx context.Context, lineUserID string) (*domain.User, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	row := q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE line_user_id = $1`, lineUserID)
	u, err := scanUser(row)
	if err != nil {
		return nil, mapError(err, "user", 0)
	}

	return u, nil
}

// ---------------------------------------------------------------------------
// Write operations
// ---------------------------------------------------------------------------

const getOrCreateUserSQL = `
INSERT INTO users (line_user_id, display_name, preferred_lang, daily_question_limit)
VALUES ($1, $2, COALESCE($3, 'zh-Hant'), $4)
ON CONFLICT (line_user_id) DO UPDATE SET
    display_name   = COALESCE($2, users.display_name),
    preferred_lang = COALESCE($3, users.preferred_lang),
    updated_at     = now()
RETURNING ` + userColumns

// GetOrCreate upserts a user by platform user id. Known fields the caller
// passes (display name, preferred language) refresh the row; nil arguments
// leave existing values untouched.
func (r *Repo) GetOrCreate(ctx context.Context, lineUserID string, displayName, preferredLang *string) (*domain.User, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	row := q.QueryRow(ctx, getOrCreateUserSQL, lineUserID, displayName, preferredLang, r.defaultDailyLimit)
	u, err := scanUser(row)
	if err != nil {
		return nil, mapError(err, "user", 0)
	}

	return u, nil
}

const setActiveSQL = `
INSERT INTO users (line_user_id, is_active, daily_question_limit)
VALUES ($1, $2, $3)
ON CONFLICT (line_user_id) DO UPDATE SET
    is_active  = $2,
    updated_at = now()
RETURNING ` + userColumns

// SetActive upserts the activation flag for a platform user. An unfollow
// from a user the system has never seen creates the row deactivated; this
// is not an error.
func (r *Repo) SetActive(ctx context.Context, lineUserID string, active bool) (*domain.User, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	row := q.QueryRow(ctx, setActiveSQL, lineUserID, active, r.defaultDailyLimit)
	u, err := scanUser(row)
	if err != nil {
		return nil, mapError(err, "user", 0)
	}

	return u, nil
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

// scanUser reads one user row in userColumns order.
func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID, &u.LineUserID, &u.DisplayName, &u.PreferredLang, &u.Timezone,
		&u.IsActive, &u.DailyQuestionLimit, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
