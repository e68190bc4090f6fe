package delivery

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/heartmarshall/newsline-backend/internal/domain"
)

// Run drains the queue until ctx is canceled: one dispatcher claiming
// batches, cfg.Workers senders, and a maintenance loop for stale claims and
// retry re-flags. Cancellation is a clean stop and returns nil; claimed
// messages stuck in flight at shutdown come back through the stale reclaim.
func (s *Service) Run(ctx context.Context) error {
	s.log.InfoContext(ctx, "delivery worker starting",
		slog.Int("workers", s.cfg.Workers),
		slog.Int("batch_size", s.cfg.BatchSize),
	)

	g, ctx := errgroup.WithContext(ctx)
	claims := make(chan domain.PushMessage)

	g.Go(func() error {
		defer close(claims)
		return s.dispatch(ctx, claims)
	})

	for i := 0; i < s.cfg.Workers; i++ {
		g.Go(func() error {
			for msg := range claims {
				s.deliver(ctx, &msg)
			}
			return nil
		})
	}

	g.Go(func() error {
		return s.maintain(ctx)
	})

	return g.Wait()
}

// dispatch claims batches and hands them to the send workers. A full batch
// skips the poll wait, so a hot queue drains at send speed rather than at
// poll speed.
func (s *Service) dispatch(ctx context.Context, claims chan<- domain.PushMessage) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		batch, err := s.messages.ClaimBatch(ctx, s.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.ErrorContext(ctx, "claim batch failed", slog.String("error", err.Error()))
		}

		for _, msg := range batch {
			select {
			case claims <- msg:
			case <-ctx.Done():
				return nil
			}
		}

		if err == nil && len(batch) == s.cfg.BatchSize {
			continue
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
}

// maintain returns crashed claims to the queue and re-flags retryable
// failures on every poll tick.
func (s *Service) maintain(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if n, err := s.messages.ReleaseStale(ctx, time.Now().Add(-s.cfg.ClaimTTL)); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.ErrorContext(ctx, "release stale claims failed", slog.String("error", err.Error()))
		} else if n > 0 {
			s.log.WarnContext(ctx, "released stale claims", slog.Int64("count", n))
		}

		if n, err := s.messages.RetryFailed(ctx, s.cfg.MaxAttempts, s.cfg.RetryBackoff); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.ErrorContext(ctx, "retry sweep failed", slog.String("error", err.Error()))
		} else if n > 0 {
			s.log.InfoContext(ctx, "re-flagged failed messages", slog.Int64("count", n))
		}
	}
}
