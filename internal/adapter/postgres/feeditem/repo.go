// Package feeditem implements the deduplicated content store using PostgreSQL.
// Admission is one atomic upsert keyed by the content hash; PostgreSQL's xmax
// system column distinguishes a fresh insert from a conflict update without a
// second round trip.
package feeditem

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

// Repo provides feed item persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new feed item repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// ---------------------------------------------------------------------------
// Admission
// ---------------------------------------------------------------------------

// upsertItemSQL admits an item. On a dedup_key conflict only fetched_at is
// refreshed: identity fields are fixed at first admission, and (xmax = 0)
// tells a fresh insert from a duplicate.
const upsertItemSQL = `
INSERT INTO feed_items (item_uid, source_id, source_key, url, title, summary, creator,
                        published_at, fetched_at, lang, dedup_key, rights, raw, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (dedup_key) DO UPDATE SET fetched_at = EXCLUDED.fetched_at
RETURNING id, (xmax = 0) AS inserted`

// Upsert admits a feed item and reports (id, inserted). inserted=false means
// the dedup key was already present; the returned id is the existing row's.
// A collision on the partial url unique index surfaces as
// domain.ErrAlreadyExists instead, because the conflict target is dedup_key
// only.
func (r *Repo) Upsert(ctx context.Context, item *domain.FeedItem) (int64, bool, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var (
		id       int64
		inserted bool
	)
	err := q.QueryRow(ctx, upsertItemSQL,
		item.ItemUID, item.SourceID, item.SourceKey, item.URL, item.Title, item.Summary,
		item.Creator, item.PublishedAt, item.FetchedAt, item.Lang, item.DedupKey,
		item.Rights, item.Raw, string(item.Status),
	).Scan(&id, &inserted)
	if err != nil {
		return 0, false, mapError(err, "feed_item", 0)
	}

	return id, inserted, nil
}

// ---------------------------------------------------------------------------
// Read operations
// ---------------------------------------------------------------------------

const itemColumns = `id, item_uid, source_id, source_key, url, title, summary, creator,
       published_at, fetched_at, lang, dedup_key, rights, raw, status, created_at`

// GetByID returns a feed item by primary key.
func (r *Repo) GetByID(ctx context.Context, id int64) (*domain.FeedItem, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var row itemRow
	err := pgxscan.Get(ctx, q, &row, `SELECT `+itemColumns+` FROM feed_items WHERE id = $1`, id)
	if err != nil {
		return nil, mapError(err, "feed_item", id)
	}

	item := row.toDomain()
	return &item, nil
}

// GetByDedupKey returns a feed item by its content hash.
func (r *Repo) GetByDedupKey(ctx context.Context, dedupKey string) (*domain.FeedItem, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var row itemRow
	err := pgxscan.Get(ctx, q, &row, `SELECT `+itemColumns+` FROM feed_items WHERE dedup_key = $1`, dedupKey)
	if err != nil {
		return nil, mapError(err, "feed_item", 0)
	}

	item := row.toDomain()
	return &item, nil
}

// GetByURL returns a feed item by exact URL.
func (r *Repo) GetByURL(ctx context.Context, url string) (*domain.FeedItem, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var row itemRow
	err := pgxscan.Get(ctx, q, &row, `SELECT `+itemColumns+` FROM feed_items WHERE url = $1`, url)
	if err != nil {
		return nil, mapError(err, "feed_item", 0)
	}

	item := row.toDomain()
	return &item, nil
}

// getWithLatestTranslationSQL joins the most recent DONE translation, if any.
const getWithLatestTranslationSQL = `
SELECT ` + itemColumns + `,
       t.id AS tr_id, t.target_lang AS tr_target_lang,
       t.translated_title AS tr_title, t.translated_summary AS tr_summary,
       t.translated_content AS tr_content
FROM feed_items
LEFT JOIN LATERAL (
    SELECT id, target_lang, translated_title, translated_summary, translated_content
    FROM item_translations
    WHERE item_id = feed_items.id AND status = 'DONE'
    ORDER BY id DESC
    LIMIT 1
) t ON TRUE
WHERE feed_items.id = $1`

// GetWithLatestTranslation returns the item together with its latest DONE
// translation. The translation is nil when none has completed.
func (r *Repo) GetWithLatestTranslation(ctx context.Context, id int64) (*domain.FeedItem, *domain.ItemTranslation, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var row struct {
		itemRow
		TrID      *int64  `db:"tr_id"`
		TrLang    *string `db:"tr_target_lang"`
		TrTitle   *string `db:"tr_title"`
		TrSummary *string `db:"tr_summary"`
		TrContent *string `db:"tr_content"`
	}
	err := pgxscan.Get(ctx, q, &row, getWithLatestTranslationSQL, id)
	if err != nil {
		return nil, nil, mapError(err, "feed_item", id)
	}

	item := row.itemRow.toDomain()
	if row.TrID == nil {
		return &item, nil, nil
	}

	tr := domain.ItemTranslation{
		ID:                *row.TrID,
		ItemID:            item.ID,
		Status:            domain.TranslationStatusDone,
		TranslatedTitle:   row.TrTitle,
		TranslatedSummary: row.TrSummary,
		TranslatedContent: row.TrContent,
	}
	if row.TrLang != nil {
		tr.TargetLang = *row.TrLang
	}
	return &item, &tr, nil
}

// Filter narrows List results. Zero values mean "no filter".
type Filter struct {
	SourceKey string
	Status    domain.ItemStatus
	Limit     int
	Offset    int
}

// normalize applies paging bounds: default 50, cap 200.
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

// List returns items newest-first with optional source and status filters.
func (r *Repo) List(ctx context.Context, f Filter) ([]domain.FeedItem, error) {
	f.normalize()
	q := postgres.QuerierFromCtx(ctx, r.pool)

	builder := sq.Select("id", "item_uid", "source_id", "source_key", "url", "title", "summary",
		"creator", "published_at", "fetched_at", "lang", "dedup_key", "rights", "raw", "status", "created_at").
		From("feed_items").
		OrderBy("id DESC").
		Limit(uint64(f.Limit)).
		Offset(uint64(f.Offset)).
		PlaceholderFormat(sq.Dollar)

	if f.SourceKey != "" {
		builder = builder.Where(sq.Eq{"source_key": f.SourceKey})
	}
	if f.Status != "" {
		builder = builder.Where(sq.Eq{"status": string(f.Status)})
	}

	sql, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}

	var rows []itemRow
	if err := pgxscan.Select(ctx, q, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("list feed_items: %w", err)
	}

	items := make([]domain.FeedItem, len(rows))
	for i, row := range rows {
		items[i] = row.toDomain()
	}
	return items, nil
}

// ---------------------------------------------------------------------------
// Write operations
// ---------------------------------------------------------------------------

const updateItemStatusSQL = `
UPDATE feed_items SET status = $2 WHERE id = $1`

// UpdateStatus moves an item to a new pipeline stage.
func (r *Repo) UpdateStatus(ctx context.Context, id int64, status domain.ItemStatus) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	tag, err := q.Exec(ctx, updateItemStatusSQL, id, string(status))
	if err != nil {
		return mapError(err, "feed_item", id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("feed_item %d: %w", id, domain.ErrNotFound)
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

// ---------------------------------------------------------------------------
// Row mapping
// ---------------------------------------------------------------------------

// itemRow mirrors the feed_items columns for scany.
type itemRow struct {
	ID          int64         `db:"id"`
	ItemUID     string        `db:"item_uid"`
	SourceID    int64         `db:"source_id"`
	SourceKey   string        `db:"source_key"`
	URL         string        `db:"url"`
	Title       string        `db:"title"`
	Summary     string        `db:"summary"`
	Creator     *string       `db:"creator"`
	PublishedAt *time.Time    `db:"published_at"`
	FetchedAt   time.Time     `db:"fetched_at"`
	Lang        string        `db:"lang"`
	DedupKey    string        `db:"dedup_key"`
	Rights      domain.Rights `db:"rights"`
	Raw         []byte        `db:"raw"`
	Status      string        `db:"status"`
	CreatedAt   time.Time     `db:"created_at"`
}

func (row itemRow) toDomain() domain.FeedItem {
	return domain.FeedItem{
		ID:          row.ID,
		ItemUID:     row.ItemUID,
		SourceID:    row.SourceID,
		SourceKey:   row.SourceKey,
		URL:         row.URL,
		Title:       row.Title,
		Summary:     row.Summary,
		Creator:     row.Creator,
		PublishedAt: row.PublishedAt,
		FetchedAt:   row.FetchedAt,
		Lang:        row.Lang,
		DedupKey:    row.DedupKey,
		Rights:      row.Rights,
		Raw:         row.Raw,
		Status:      domain.ItemStatus(row.Status),
		CreatedAt:   row.CreatedAt,
	}
}
