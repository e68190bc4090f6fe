// Package answer runs the question answering agent: quota gate, retrieval,
// LLM completion, and the query and run records around them.
package answer

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/heartmarshall/newsline-backend/internal/domain"
	"github.com/heartmarshall/newsline-backend/internal/provider"
)

const (
	defaultRagSpaceKey   = "default"
	defaultPromptVersion = "lorekeeper-v1"

	maxQuestionLen = 2000
	maxReasonLen   = 500
)

// User-facing copy. Replies go to a Traditional Chinese audience.
const (
	systemPrompt = "你是 Lorekeeper。請用繁體中文回答，內容要精準、可讀。" +
		"若檢索內容不足，明確說明限制，不可捏造。"
	emptyAnswerText  = "目前找不到足夠資料回答，請提供更具體的問題。"
	overloadedText   = "系統忙碌中，請稍後再試。"
	quotaReachedText = "你今日提問次數已達上限（%d次）。"
)

type userRepo interface {
	GetOrCreate(ctx context.Context, lineUserID string, displayName, preferredLang *string) (*domain.User, error)
}

type quotaRepo interface {
	Consume(ctx context.Context, userID int64, day time.Time, limit int) (domain.QuotaResult, error)
}

type queryRepo interface {
	Insert(ctx context.Context, q *domain.UserQuery) (int64, error)
}

type runRepo interface {
	Insert(ctx context.Context, run *domain.AgentRun) (int64, error)
}

type spaceRepo interface {
	GetByKey(ctx context.Context, spaceKey string) (*domain.RagSpace, error)
}

type retriever interface {
	Retrieve(ctx context.Context, spaceKey, question string) ([]provider.RetrievalRef, error)
}

type llmClient interface {
	Complete(ctx context.Context, system, user string) (*provider.ChatResult, error)
	Model() string
}

// Service answers user questions.
type Service struct {
	users     userRepo
	quota     quotaRepo
	queries   queryRepo
	runs      runRepo
	spaces    spaceRepo
	retriever retriever
	llm       llmClient

	providerName  string
	promptVersion string
	log           *slog.Logger
}

// NewService creates a new answer service. providerName labels run records
// with the configured LLM provider; an empty promptVersion falls back to
// the package default.
func NewService(
	log *slog.Logger,
	users userRepo,
	quota quotaRepo,
	queries queryRepo,
	runs runRepo,
	spaces spaceRepo,
	retriever retriever,
	llm llmClient,
	providerName string,
	promptVersion string,
) *Service {
	if promptVersion == "" {
		promptVersion = defaultPromptVersion
	}
	return &Service{
		users:         users,
		quota:         quota,
		queries:       queries,
		runs:          runs,
		spaces:        spaces,
		retriever:     retriever,
		llm:           llm,
		providerName:  providerName,
		promptVersion: promptVersion,
		log:           log.With("service", "answer"),
	}
}

// quotaDay resolves the calendar date the question counts against: the
// wall-clock date in the user's timezone, UTC when the timezone is absent
// or unknown.
func quotaDay(now time.Time, tz string) time.Time {
	loc := time.UTC
	if tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
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
