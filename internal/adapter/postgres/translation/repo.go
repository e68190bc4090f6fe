// Package translation implements translation attempt persistence using
// PostgreSQL. Status moves QUEUED → PROCESSING → DONE|FAILED through
// compare-and-set updates, so a lost race surfaces as domain.ErrConflict
// instead of silently clobbering another worker's progress.
package translation

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

// Repo provides translation persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new translation repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// ---------------------------------------------------------------------------
// Write operations
// ---------------------------------------------------------------------------

const insertTranslationSQL = `
INSERT INTO item_translations (item_id, target_lang, engine_provider, model, prompt_version, source_text_hash, status, meta)
VALUES ($1, $2, $3, $4, $5, $6, 'QUEUED', $7)
RETURNING id, created_at, updated_at`

// Insert enqueues a new translation attempt in QUEUED state. A retry is a
// fresh row; prior attempts for the item are left untouched.
func (r *Repo) Insert(ctx context.Context, tr *domain.ItemTranslation) (int64, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	meta := tr.Meta
	if meta == nil {
		meta = map[string]any{}
	}

	err := q.QueryRow(ctx, insertTranslationSQL,
		tr.ItemID, tr.TargetLang, tr.EngineProvider, tr.Model, tr.PromptVersion, tr.SourceTextHash, meta,
	).Scan(&tr.ID, &tr.CreatedAt, &tr.UpdatedAt)
	if err != nil {
		return 0, mapError(err, "translation", 0)
	}

	tr.Status = domain.TranslationStatusQueued
	return tr.ID, nil
}

const markProcessingSQL = `
UPDATE item_translations SET status = 'PROCESSING' WHERE id = $1 AND status = 'QUEUED'`

// MarkProcessing claims a queued attempt. Zero rows means another worker got
// there first, or the row is gone.
func (r *Repo) MarkProcessing(ctx context.Context, id int64) error {
	return r.transition(ctx, markProcessingSQL, id)
}

const markDoneSQL = `
UPDATE item_translations
SET status = 'DONE', translated_title = $2, translated_summary = $3, translated_content = $4, error_message = NULL
WHERE id = $1 AND status = 'PROCESSING'`

// MarkDone records the result of a successful attempt. Only a PROCESSING row
// may complete.
func (r *Repo) MarkDone(ctx context.Context, id int64, title, summary, content *string) error {
	return r.transition(ctx, markDoneSQL, id, title, summary, content)
}

const markFailedSQL = `
UPDATE item_translations
SET status = 'FAILED', error_message = $2
WHERE id = $1 AND status IN ('QUEUED', 'PROCESSING')`

// MarkFailed terminates a non-finished attempt with an error message.
func (r *Repo) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	return r.transition(ctx, markFailedSQL, id, errMsg)
}

// transition runs a compare-and-set status update. Zero affected rows is a
// conflict: either the row is absent or its status moved under us, and the
// two cases are deliberately not told apart.
func (r *Repo) transition(ctx context.Context, sql string, id int64, args ...any) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	tag, err := q.Exec(ctx, sql, append([]any{id}, args...)...)
	if err != nil {
		return mapError(err, "translation", id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("translation %d: status moved concurrently: %w", id, domain.ErrConflict)
	}

	return nil
}

// ---------------------------------------------------------------------------
// Read operations
// ---------------------------------------------------------------------------

const translationColumns = `id, item_id, target_lang, translated_title, translated_summary, translated_content,
       engine_provider, model, prompt_version, source_text_hash, status, error_message, meta, created_at, updated_at`

// GetByID returns a translation attempt by primary key.
func (r *Repo) GetByID(ctx context.Context, id int64) (*domain.ItemTranslation, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var row translationRow
	err := pgxscan.Get(ctx, q, &row, `SELECT `+translationColumns+` FROM item_translations WHERE id = $1`, id)
	if err != nil {
		return nil, mapError(err, "translation", id)
	}

	tr := row.toDomain()
	return &tr, nil
}

const getLatestDoneSQL = `
SELECT ` + translationColumns + `
FROM item_translations
WHERE item_id = $1 AND target_lang = $2 AND status = 'DONE'
ORDER BY id DESC
LIMIT 1`

// GetLatestDone returns the most recent completed translation of an item
// into the target language.
func (r *Repo) GetLatestDone(ctx context.Context, itemID int64, targetLang string) (*domain.ItemTranslation, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var row translationRow
	err := pgxscan.Get(ctx, q, &row, getLatestDoneSQL, itemID, targetLang)
	if err != nil {
		return nil, mapError(err, "translation", 0)
	}

	tr := row.toDomain()
	return &tr, nil
}

// ListByItem returns all attempts for an item, oldest first.
func (r *Repo) ListByItem(ctx context.Context, itemID int64) ([]domain.ItemTranslation, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var rows []translationRow
	err := pgxscan.Select(ctx, q, &rows,
		`SELECT `+translationColumns+` FROM item_translations WHERE item_id = $1 ORDER BY id`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list translations for item %d: %w", itemID, err)
	}

	out := make([]domain.ItemTranslation, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
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

type translationRow struct {
	ID                int64          `db:"id"`
	ItemID            int64          `db:"item_id"`
	TargetLang        string         `db:"target_lang"`
	TranslatedTitle   *string        `db:"translated_title"`
	TranslatedSummary *string        `db:"translated_summary"`
	TranslatedContent *string        `db:"translated_content"`
	EngineProvider    string         `db:"engine_provider"`
	Model             string         `db:"model"`
	PromptVersion     string         `db:"prompt_version"`
	SourceTextHash    string         `db:"source_text_hash"`
	Status            string         `db:"status"`
	ErrorMessage      *string        `db:"error_message"`
	Meta              map[string]any `db:"meta"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

func (row translationRow) toDomain() domain.ItemTranslation {
	return domain.ItemTranslation{
		ID:                row.ID,
		ItemID:            row.ItemID,
		TargetLang:        row.TargetLang,
		TranslatedTitle:   row.TranslatedTitle,
		TranslatedSummary: row.TranslatedSummary,
		TranslatedContent: row.TranslatedContent,
		EngineProvider:    row.EngineProvider,
		Model:             row.Model,
		PromptVersion:     row.PromptVersion,
		SourceTextHash:    row.SourceTextHash,
		Status:            domain.TranslationStatus(row.Status),
		ErrorMessage:      row.ErrorMessage,
		Meta:              row.Meta,
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
	}
}
