package testhelper

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heartmarshall/newsline-backend/internal/domain"
)

// uniqueSuffix returns a short unique string for generating non-conflicting test data.
func uniqueSuffix() string {
	return uuid.New().String()[:8]
}

// SeedUser creates an active user with default quota settings.
// Returns the persisted domain.User.
func SeedUser(t *testing.T, pool *pgxpool.Pool) domain.User {
	t.Helper()
	ctx := context.Background()

	suffix := uniqueSuffix()
	user := domain.User{
		LineUserID:         "U" + suffix,
		PreferredLang:      "zh-Hant",
		Timezone:           "UTC",
		IsActive:           true,
		DailyQuestionLimit: domain.DefaultDailyQuestionLimit,
	}

	err := pool.QueryRow(ctx,
		`INSERT INTO users (line_user_id, preferred_lang, timezone, is_active, daily_question_limit)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at, updated_at`,
		user.LineUserID, user.PreferredLang, user.Timezone, user.IsActive, user.DailyQuestionLimit,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		t.Fatalf("testhelper: SeedUser insert: %v", err)
	}

	return user
}

// SeedSource creates an enabled source with a unique source key.
func SeedSource(t *testing.T, pool *pgxpool.Pool) domain.Source {
	t.Helper()
	ctx := context.Background()

	suffix := uniqueSuffix()
	src := domain.Source{
		SourceKey: "src-" + suffix,
		Title:     "Test Source " + suffix,
		FeedURL:   "https://feeds.example.org/" + suffix + ".xml",
		Enabled:   true,
	}

	err := pool.QueryRow(ctx,
		`INSERT INTO sources (source_key, title, feed_url, enabled)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		src.SourceKey, src.Title, src.FeedURL, src.Enabled,
	).Scan(&src.ID, &src.CreatedAt)
	if err != nil {
		t.Fatalf("testhelper: SeedSource insert: %v", err)
	}

	return src
}

// SeedFeedItem creates a RAW feed item for the given source.
func SeedFeedItem(t *testing.T, pool *pgxpool.Pool, src domain.Source) domain.FeedItem {
	t.Helper()
	ctx := context.Background()

	suffix := uniqueSuffix()
	dedupKey := domain.DedupKey(src.SourceKey, "guid-"+suffix,
		"https://example.org/articles/"+suffix, "Title "+suffix, "2026-08-01T10:00:00Z")
	now := time.Now().UTC().Truncate(time.Microsecond)

	item := domain.FeedItem{
		ItemUID:   domain.ItemUID(src.SourceKey, dedupKey),
		SourceID:  src.ID,
		SourceKey: src.SourceKey,
		URL:       "https://example.org/articles/" + suffix,
		Title:     "Title " + suffix,
		Summary:   "Summary " + suffix,
		FetchedAt: now,
		Lang:      "en",
		DedupKey:  dedupKey,
		Rights:    domain.DefaultRights(),
		Raw:       []byte(`{}`),
		Status:    domain.ItemStatusRaw,
	}

	err := pool.QueryRow(ctx,
		`INSERT INTO feed_items (item_uid, source_id, source_key, url, title, summary, fetched_at, lang, dedup_key, rights, raw, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id, created_at`,
		item.ItemUID, item.SourceID, item.SourceKey, item.URL, item.Title, item.Summary,
		item.FetchedAt, item.Lang, item.DedupKey, item.Rights, item.Raw, string(item.Status),
	).Scan(&item.ID, &item.CreatedAt)
	if err != nil {
		t.Fatalf("testhelper: SeedFeedItem insert: %v", err)
	}

	return item
}
