// Package push composes news push notifications and hands them to the
// delivery queue.
package push

import (
	"context"
	"log/slog"
	"strings"

	"github.com/heartmarshall/newsline-backend/internal/domain"
	"github.com/heartmarshall/newsline-backend/internal/provider"
)

const (
	defaultPromptVersion = "bard-v1"
	maxTitleLen          = 120
)

// pushSystemPrompt asks for strict JSON so the composed copy can be parsed;
// the 220-char cap lives in the instruction because the platform renders
// long texts poorly.
const pushSystemPrompt = "你是 LINE 官方帳號新聞推播編輯 Bard。" +
	"請以繁體中文輸出 JSON，key 僅有 title, message_body。" +
	"message_body 最多 220 字，保留重點，不誇大，不加入不存在資訊。"

type userRepo interface {
	GetOrCreate(ctx context.Context, lineUserID string, displayName, preferredLang *string) (*domain.User, error)
}

type itemRepo interface {
	GetWithLatestTranslation(ctx context.Context, id int64) (*domain.FeedItem, *domain.ItemTranslation, error)
}

type runRepo interface {
	Insert(ctx context.Context, run *domain.AgentRun) (int64, error)
}

type messageRepo interface {
	Enqueue(ctx context.Context, msg *domain.PushMessage) (int64, error)
	GetByID(ctx context.Context, id int64) (*domain.PushMessage, error)
}

type deliverer interface {
	DeliverNext(ctx context.Context, userID int64) (*domain.PushMessage, error)
}

type llmClient interface {
	Complete(ctx context.Context, system, user string) (*provider.ChatResult, error)
	Model() string
}

// Service composes and enqueues push notifications.
type Service struct {
	users    userRepo
	items    itemRepo
	runs     runRepo
	messages messageRepo
	delivery deliverer
	llm      llmClient

	providerName  string
	promptVersion string
	log           *slog.Logger
}

// NewService creates a new push service. providerName labels run records
// with the configured LLM provider; an empty promptVersion falls back to
// the package default.
func NewService(
	log *slog.Logger,
	users userRepo,
	items itemRepo,
	runs runRepo,
	messages messageRepo,
	delivery deliverer,
	llm llmClient,
	providerName string,
	promptVersion string,
) *Service {
	if promptVersion == "" {
		promptVersion = defaultPromptVersion
	}
	return &Service{
		users:         users,
		items:         items,
		runs:          runs,
		messages:      messages,
		delivery:      delivery,
		llm:           llm,
		providerName:  providerName,
		promptVersion: promptVersion,
		log:           log.With("service", "push"),
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

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// trimOrNil trims whitespace. Returns nil if result is empty.
func trimOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
