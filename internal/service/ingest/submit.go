package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/heartmarshall/newsline-backend/internal/domain"
)

// Result reports one admission outcome. Item is the canonical form of the
// submitted candidate with ID set to the stored row, which on a duplicate
// is the already existing row.
type Result struct {
	Item     *domain.FeedItem
	Inserted bool
}

// Submit canonicalizes and admits one candidate item, then runs the
// pipeline stages if the item was newly inserted. A duplicate admission
// refreshes fetched_at on the stored row and skips the pipeline.
func (s *Service) Submit(ctx context.Context, input SubmitInput) (*Result, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	if err := s.sources.Validate(ctx, input.SourceID, input.SourceKey); err != nil {
		return nil, fmt.Errorf("validate source: %w", err)
	}

	item := canonicalize(input)

	id, inserted, err := s.items.Upsert(ctx, item)
	if err != nil {
		return nil, fmt.Errorf("admit item: %w", err)
	}
	item.ID = id

	s.log.InfoContext(ctx, "item admitted",
		slog.String("item_uid", item.ItemUID),
		slog.Int64("item_id", id),
		slog.Bool("inserted", inserted),
	)

	if inserted {
		s.runStages(ctx, item)
	}

	return &Result{Item: item, Inserted: inserted}, nil
}

func (s *Service) runStages(ctx context.Context, item *domain.FeedItem) {
	for _, stage := range s.stages {
		if err := stage.Run(ctx, item); err != nil {
			// The item is already admitted; a broken stage must not fail
			// the ingest call.
			s.log.ErrorContext(ctx, "pipeline stage failed",
				slog.String("stage", stage.Name()),
				slog.Int64("item_id", item.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// canonicalize maps a raw candidate onto the stored item shape. The dedup
// key is computed from the raw published string, not the parsed time, so
// an unparseable date still contributes to identity.
func canonicalize(input SubmitInput) *domain.FeedItem {
	c := input.Item

	url := firstNonEmpty(c.Link, c.URL)
	summary := firstNonEmpty(c.Summary, c.ContentSnippet, c.Content)
	published := firstNonEmpty(c.ISODate, c.PubDate)

	dedupKey := domain.DedupKey(input.SourceKey, c.GUID, url, c.Title, published)

	lang := c.Lang
	if lang == "" {
		lang = defaultLang
	}

	rights := domain.DefaultRights()
	if c.Rights != nil {
		rights = *c.Rights
	}

	raw := c.Raw
	if len(raw) == 0 {
		raw = []byte("{}")
	}

	return &domain.FeedItem{
		ItemUID:     domain.ItemUID(input.SourceKey, dedupKey),
		SourceID:    input.SourceID,
		SourceKey:   input.SourceKey,
		URL:         url,
		Title:       c.Title,
		Summary:     summary,
		Creator:     c.Creator,
		PublishedAt: parsePublished(published),
		FetchedAt:   time.Now().UTC(),
		Lang:        lang,
		DedupKey:    dedupKey,
		Rights:      rights,
		Raw:         raw,
		Status:      domain.ItemStatusRaw,
	}
}
