// Package ingest admits fetcher-delivered feed items into the content store
// and runs the post-admission pipeline.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/heartmarshall/newsline-backend/internal/domain"
)

const defaultLang = "en"

// publishedFormats are tried in order when parsing feed timestamps. Feeds
// disagree on formats; a value that parses as none of them stays unparsed
// and contributes to the dedup basis only.
var publishedFormats = []string{
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
}

type sourceRepo interface {
	Validate(ctx context.Context, id int64, sourceKey string) error
	Create(ctx context.Context, src *domain.Source) (*domain.Source, error)
	List(ctx context.Context) ([]domain.Source, error)
	SetEnabled(ctx context.Context, id int64, enabled bool) error
}

type itemRepo interface {
	Upsert(ctx context.Context, item *domain.FeedItem) (int64, bool, error)
}

// Stage is one post-admission pipeline step. Stages run synchronously and
// only for newly inserted items; a stage error never un-admits the item.
type Stage interface {
	Name() string
	Run(ctx context.Context, item *domain.FeedItem) error
}

// Service admits candidate feed items and manages the source registry.
type Service struct {
	sources sourceRepo
	items   itemRepo
	stages  []Stage
	log     *slog.Logger
}

// NewService creates a new ingest service. Stages run in the given order
// after each fresh admission.
func NewService(log *slog.Logger, sources sourceRepo, items itemRepo, stages ...Stage) *Service {
	return &Service{
		sources: sources,
		items:   items,
		stages:  stages,
		log:     log.With("service", "ingest"),
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func parsePublished(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	for _, layout := range publishedFormats {
		if t, err := time.Parse(layout, raw); err == nil {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}
