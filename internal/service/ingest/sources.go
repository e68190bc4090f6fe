package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/heartmarshall/newsline-backend/internal/domain"
)

// RegisterSource registers a feed source the fetcher may submit items for.
// New sources start enabled.
func (s *Service) RegisterSource(ctx context.Context, input RegisterSourceInput) (*domain.Source, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	src, err := s.sources.Create(ctx, &domain.Source{
		SourceKey: strings.TrimSpace(input.SourceKey),
		Title:     strings.TrimSpace(input.Title),
		FeedURL:   strings.TrimSpace(input.FeedURL),
		Enabled:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("create source: %w", err)
	}

	s.log.InfoContext(ctx, "source registered",
		slog.String("source_key", src.SourceKey),
		slog.Int64("source_id", src.ID),
	)

	return src, nil
}

// ListSources returns all registered sources.
func (s *Service) ListSources(ctx context.Context) ([]domain.Source, error) {
	sources, err := s.sources.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return sources, nil
}

// SetSourceEnabled switches a source on or off. Disabled sources fail
// admission validation for every submitted item.
func (s *Service) SetSourceEnabled(ctx context.Context, id int64, enabled bool) error {
	if id <= 0 {
		return domain.NewValidationError("id", "must be positive")
	}

	if err := s.sources.SetEnabled(ctx, id, enabled); err != nil {
		return fmt.Errorf("set source enabled: %w", err)
	}

	s.log.InfoContext(ctx, "source toggled",
		slog.Int64("source_id", id),
		slog.Bool("enabled", enabled),
	)

	return nil
}
