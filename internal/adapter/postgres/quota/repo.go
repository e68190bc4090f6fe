// Package quota implements the daily question quota gate using PostgreSQL.
// Consumption is a single conditional upsert, so concurrent questions can
// never push used_count past limit_count.
package quota

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

// Repo provides quota persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new quota repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// consumeQuotaSQL increments the user's counter for the day only while it is
// below the limit. The WHERE clause on DO UPDATE makes denial atomic: at the
// limit the upsert affects no row and returns nothing.
const consumeQuotaSQL = `
INSERT INTO user_daily_quota (user_id, usage_date, used_count, limit_count, updated_at)
VALUES ($1, $2, 1, $3, now())
ON CONFLICT (user_id, usage_date) DO UPDATE SET
    used_count = user_daily_quota.used_count + 1,
    updated_at = now()
WHERE user_daily_quota.used_count < user_daily_quota.limit_count
RETURNING used_count, limit_count`

const getQuotaSQL = `
SELECT user_id, usage_date, used_count, limit_count, updated_at
FROM user_daily_quota
WHERE user_id = $1 AND usage_date = $2`

// Consume attempts to use one question for the given day. On grant it
// returns the post-increment counters; on denial it returns the current
// usage snapshot with Allowed=false. Only the date part of day is used.
func (r *Repo) Consume(ctx context.Context, userID int64, day time.Time, limit int) (domain.QuotaResult, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var used, limitCount int
	err := q.QueryRow(ctx, consumeQuotaSQL, userID, day, limit).Scan(&used, &limitCount)
	if err == nil {
		return domain.QuotaResult{Allowed: true, Used: used, Limit: limitCount}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.QuotaResult{}, mapError(err, "quota", userID)
	}

	// Denied: the conditional upsert matched nothing, so a row at the limit
	// exists. Read it for the snapshot; if it vanished in between (user
	// deleted), report the limit as spent.
	usage, err := r.Get(ctx, userID, day)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.QuotaResult{Allowed: false, Used: limit, Limit: limit}, nil
	}
	if err != nil {
		return domain.QuotaResult{}, err
	}

	return domain.QuotaResult{Allowed: false, Used: usage.UsedCount, Limit: usage.LimitCount}, nil
}

// Get returns the usage row for one user and day.
func (r *Repo) Get(ctx context.Context, userID int64, day time.Time) (*domain.QuotaUsage, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var u domain.QuotaUsage
	err := q.QueryRow(ctx, getQuotaSQL, userID, day).
		Scan(&u.UserID, &u.UsageDate, &u.UsedCount, &u.LimitCount, &u.UpdatedAt)
	if err != nil {
		return nil, mapError(err, "quota", userID)
	}

	return &u, nil
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
