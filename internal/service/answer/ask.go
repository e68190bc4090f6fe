package answer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/heartmarshall/newsline-backend/internal/domain"
	"github.com/heartmarshall/newsline-backend/internal/provider"
)

// AskResult reports one question outcome. Answer is set only for ANSWERED;
// RejectedReason carries the user-facing text for REJECTED and FAILED.
type AskResult struct {
	UserID         int64
	QueryID        int64
	Status         domain.QueryStatus
	Answer         *string
	RejectedReason *string
	Usage          domain.QuotaResult
}

// Ask answers one user question. Every call that reaches the quota gate
// leaves exactly one user_queries row, whatever the outcome; ANSWERED and
// FAILED additionally leave an agent run record.
func (s *Service) Ask(ctx context.Context, input AskInput) (*AskResult, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	question := strings.TrimSpace(input.Question)

	user, err := s.users.GetOrCreate(ctx, input.LineUserID, trimOrNil(input.DisplayName), nil)
	if err != nil {
		return nil, fmt.Errorf("get or create user: %w", err)
	}

	quota, err := s.quota.Consume(ctx, user.ID, quotaDay(time.Now(), user.Timezone), user.DailyQuestionLimit)
	if err != nil {
		return nil, fmt.Errorf("consume quota: %w", err)
	}

	space, err := s.ragSpace(ctx, input.RagSpaceKey)
	if err != nil {
		return nil, err
	}

	if !quota.Allowed {
		return s.reject(ctx, user, question, space, quota)
	}

	refs, err := s.retriever.Retrieve(ctx, space.SpaceKey, question)
	if err != nil {
		return s.fail(ctx, user, question, space, nil, quota, fmt.Errorf("retrieve context: %w", err))
	}

	started := time.Now()
	res, llmErr := s.llm.Complete(ctx, systemPrompt, answerPrompt(question, refs))
	latency := time.Since(started).Milliseconds()
	if llmErr != nil {
		return s.fail(ctx, user, question, space, refs, quota, llmErr)
	}

	answerText := strings.TrimSpace(res.Text)
	if answerText == "" {
		answerText = emptyAnswerText
	}

	now := time.Now().UTC()
	queryID, err := s.queries.Insert(ctx, &domain.UserQuery{
		UserID:       user.ID,
		QuestionText: question,
		AnswerText:   &answerText,
		Status:       domain.QueryStatusAnswered,
		RAGProvider:  space.Backend,
		RAGSpaceKey:  space.SpaceKey,
		RAGMode:      space.Mode,
		RAGRefs:      marshalRefs(refs),
		AnsweredAt:   &now,
	})
	if err != nil {
		return nil, fmt.Errorf("record query: %w", err)
	}

	if err := s.recordRun(ctx, &domain.AgentRun{
		Agent:         domain.AgentAnswer,
		UserID:        &user.ID,
		QueryID:       &queryID,
		Provider:      s.providerName,
		Model:         s.llm.Model(),
		PromptVersion: s.promptVersion,
		InputTokens:   res.InputTokens,
		OutputTokens:  res.OutputTokens,
		TotalTokens:   res.TotalTokens,
		LatencyMS:     &latency,
		Status:        domain.RunStatusDone,
		Meta:          map[string]any{"rag_refs_count": len(refs)},
	}); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "question answered",
		slog.Int64("user_id", user.ID),
		slog.Int64("query_id", queryID),
		slog.Int64("latency_ms", latency),
	)

	return &AskResult{
		UserID:  user.ID,
		QueryID: queryID,
		Status:  domain.QueryStatusAnswered,
		Answer:  &answerText,
		Usage:   quota,
	}, nil
}

// reject records the quota denial. The stored rejected_reason is the
// machine code; the result carries the user-facing message with the
// user's real limit.
func (s *Service) reject(ctx context.Context, user *domain.User, question string, space *domain.RagSpace, quota domain.QuotaResult) (*AskResult, error) {
	now := time.Now().UTC()
	reason := domain.RejectReasonDailyLimit

	queryID, err := s.queries.Insert(ctx, &domain.UserQuery{
		UserID:         user.ID,
		QuestionText:   question,
		Status:         domain.QueryStatusRejected,
		RejectedReason: &reason,
		RAGProvider:    space.Backend,
		RAGSpaceKey:    space.SpaceKey,
		RAGMode:        space.Mode,
		AnsweredAt:     &now,
	})
	if err != nil {
		return nil, fmt.Errorf("record rejected query: %w", err)
	}

	s.log.InfoContext(ctx, "question rejected by quota",
		slog.Int64("user_id", user.ID),
		slog.Int("used", quota.Used),
		slog.Int("limit", quota.Limit),
	)

	msg := fmt.Sprintf(quotaReachedText, quota.Limit)
	return &AskResult{
		UserID:         user.ID,
		QueryID:        queryID,
		Status:         domain.QueryStatusRejected,
		RejectedReason: &msg,
		Usage:          quota,
	}, nil
}

// fail records a generation failure as a FAILED query plus a FAILED run and
// maps it to the generic apology. Only store errors propagate to the caller.
func (s *Service) fail(ctx context.Context, user *domain.User, question string, space *domain.RagSpace, refs []provider.RetrievalRef, quota domain.QuotaResult, cause error) (*AskResult, error) {
	now := time.Now().UTC()
	reason := truncate(cause.Error(), maxReasonLen)

	queryID, err := s.queries.Insert(ctx, &domain.UserQuery{
		UserID:         user.ID,
		QuestionText:   question,
		Status:         domain.QueryStatusFailed,
		RejectedReason: &reason,
		RAGProvider:    space.Backend,
		RAGSpaceKey:    space.SpaceKey,
		RAGMode:        space.Mode,
		RAGRefs:        marshalRefs(refs),
		AnsweredAt:     &now,
	})
	if err != nil {
		return nil, fmt.Errorf("record failed query: %w", err)
	}

	errMsg := cause.Error()
	if err := s.recordRun(ctx, &domain.AgentRun{
		Agent:         domain.AgentAnswer,
		UserID:        &user.ID,
		QueryID:       &queryID,
		Provider:      s.providerName,
		Model:         s.llm.Model(),
		PromptVersion: s.promptVersion,
		Status:        domain.RunStatusFailed,
		ErrorMessage:  &errMsg,
		Meta:          map[string]any{"rag_refs_count": len(refs)},
	}); err != nil {
		return nil, err
	}

	s.log.ErrorContext(ctx, "answer generation failed",
		slog.Int64("user_id", user.ID),
		slog.Int64("query_id", queryID),
		slog.String("error", cause.Error()),
	)

	apology := overloadedText
	return &AskResult{
		UserID:         user.ID,
		QueryID:        queryID,
		Status:         domain.QueryStatusFailed,
		RejectedReason: &apology,
		Usage:          quota,
	}, nil
}

// recordRun appends the audit record. A run that cannot be written fails
// the whole operation: the audit trail is not best-effort.
func (s *Service) recordRun(ctx context.Context, run *domain.AgentRun) error {
	if _, err := s.runs.Insert(ctx, run); err != nil {
		return fmt.Errorf("record agent run: %w", err)
	}
	return nil
}

// ragSpace loads the requested retrieval space. An unknown key falls back
// to a built-in default space rather than failing the question.
func (s *Service) ragSpace(ctx context.Context, key string) (*domain.RagSpace, error) {
	if key == "" {
		key = defaultRagSpaceKey
	}

	space, err := s.spaces.GetByKey(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.RagSpace{SpaceKey: defaultRagSpaceKey, Backend: "stub", Mode: "hybrid"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load rag space: %w", err)
	}
	return space, nil
}

func answerPrompt(question string, refs []provider.RetrievalRef) string {
	refsJSON := marshalRefs(refs)
	if refsJSON == nil {
		refsJSON = json.RawMessage(`[]`)
	}
	return fmt.Sprintf("question:\n%s\n\nrag_refs:\n%s", question, refsJSON)
}

func marshalRefs(refs []provider.RetrievalRef) json.RawMessage {
	if len(refs) == 0 {
		return nil
	}
	b, err := json.Marshal(refs)
	if err != nil {
		return nil
	}
	return b
}
