// Package delivery drains the outbound message queue: claim, send through
// the messaging platform, report the outcome, retry within policy.
package delivery

import (
	"context"
	"log/slog"
	"time"

	"github.com/heartmarshall/newsline-backend/internal/adapter/postgres/pushmessage"
	"github.com/heartmarshall/newsline-backend/internal/domain"
	"github.com/heartmarshall/newsline-backend/internal/provider"
)

// Config tunes the delivery loop.
type Config struct {
	BatchSize    int
	Workers      int
	PollInterval time.Duration
	SendTimeout  time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
	ClaimTTL     time.Duration
}

func (c *Config) normalize() {
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 30 * time.Second
	}
	if c.ClaimTTL <= c.SendTimeout {
		c.ClaimTTL = c.SendTimeout + 4*time.Minute
	}
}

type messageRepo interface {
	ClaimBatch(ctx context.Context, limit int) ([]domain.PushMessage, error)
	ClaimUserHead(ctx context.Context, userID int64) (*domain.PushMessage, error)
	MarkSent(ctx context.Context, id int64, lineRequestID *string, sentAt time.Time) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
	ReleaseStale(ctx context.Context, olderThan time.Time) (int64, error)
	RetryFailed(ctx context.Context, maxAttempts int, backoffBase time.Duration) (int64, error)
	Requeue(ctx context.Context, id int64) error
	GetByID(ctx context.Context, id int64) (*domain.PushMessage, error)
	List(ctx context.Context, f pushmessage.Filter) ([]domain.PushMessage, error)
	CountByStatus(ctx context.Context) (map[domain.PushStatus]int, error)
}

type sender interface {
	Push(ctx context.Context, to, text string) (*provider.PushResult, error)
}

// Service delivers queued outbound messages.
type Service struct {
	messages messageRepo
	sender   sender
	cfg      Config
	log      *slog.Logger
}

// NewService creates a new delivery service. Zero config fields fall back
// to package defaults.
func NewService(log *slog.Logger, messages messageRepo, sender sender, cfg Config) *Service {
	cfg.normalize()
	return &Service{
		messages: messages,
		sender:   sender,
		cfg:      cfg,
		log:      log.With("service", "delivery"),
	}
}
