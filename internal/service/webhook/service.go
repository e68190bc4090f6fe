// Package webhook admits platform callback events into the ledger exactly
// once and dispatches their side effects.
package webhook

import (
	"context"
	"log/slog"

	"github.com/heartmarshall/newsline-backend/internal/domain"
	"github.com/heartmarshall/newsline-backend/internal/provider"
	"github.com/heartmarshall/newsline-backend/internal/service/answer"
)

// User-facing copy.
const (
	welcomeText       = "歡迎加入，之後我會推播重點新聞，也可以直接提問。"
	replyFallbackText = "目前無法回答，請稍後再試。"
)

type txManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type ledgerRepo interface {
	Insert(ctx context.Context, event *domain.WebhookEvent) (bool, error)
}

type userRepo interface {
	SetActive(ctx context.Context, lineUserID string, active bool) (*domain.User, error)
}

type answerer interface {
	Ask(ctx context.Context, input answer.AskInput) (*answer.AskResult, error)
}

type messenger interface {
	Reply(ctx context.Context, replyToken, text string) (*provider.PushResult, error)
}

// Service processes platform webhook callbacks.
type Service struct {
	tx        txManager
	ledger    ledgerRepo
	users     userRepo
	answers   answerer
	messenger messenger
	log       *slog.Logger
}

// NewService creates a new webhook service.
func NewService(
	log *slog.Logger,
	tx txManager,
	ledger ledgerRepo,
	users userRepo,
	answers answerer,
	messenger messenger,
) *Service {
	return &Service{
		tx:        tx,
		ledger:    ledger,
		users:     users,
		answers:   answers,
		messenger: messenger,
		log:       log.With("service", "webhook"),
	}
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
