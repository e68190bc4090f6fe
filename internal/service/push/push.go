package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/heartmarshall/newsline-backend/internal/domain"
	"github.com/heartmarshall/newsline-backend/internal/provider"
)

// Result reports one composed push and its delivery state at response time.
type Result struct {
	UserID         int64
	AgentRunID     int64
	PushMessageID  int64
	DeliveryStatus domain.PushStatus
	LineRequestID  *string
	MessagePreview string
}

// pushCopy is the LLM's structured output.
type pushCopy struct {
	Title       string `json:"title"`
	MessageBody string `json:"message_body"`
}

// CreateAndDeliver composes a push message for one feed item and enqueues
// it. The LLM failing is not fatal: the message falls back to the
// translated or source title and summary, recorded as a FAILED run. With
// Send set, the user's queue is drained immediately through the delivery
// service, oldest message first.
func (s *Service) CreateAndDeliver(ctx context.Context, input Input) (*Result, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	user, err := s.users.GetOrCreate(ctx, input.LineUserID, trimOrNil(input.DisplayName), nil)
	if err != nil {
		return nil, fmt.Errorf("get or create user: %w", err)
	}

	item, tr, err := s.items.GetWithLatestTranslation(ctx, input.ItemID)
	if err != nil {
		return nil, fmt.Errorf("load push source: %w", err)
	}

	title := item.Title
	summary := item.Summary
	var translationID *int64
	if tr != nil {
		if tr.TranslatedTitle != nil && *tr.TranslatedTitle != "" {
			title = *tr.TranslatedTitle
		}
		if tr.TranslatedSummary != nil && *tr.TranslatedSummary != "" {
			summary = *tr.TranslatedSummary
		}
		translationID = &tr.ID
	}

	started := time.Now()
	copyOut, res, llmErr := s.compose(ctx, title, summary, item.URL)
	latency := time.Since(started).Milliseconds()

	runStatus := domain.RunStatusDone
	var runErr *string
	if llmErr != nil {
		runStatus = domain.RunStatusFailed
		msg := llmErr.Error()
		runErr = &msg
		s.log.WarnContext(ctx, "compose failed, falling back to source copy",
			slog.Int64("item_id", item.ID),
			slog.String("error", msg),
		)
	}

	var inTokens, outTokens, totalTokens int
	if res != nil {
		inTokens, outTokens, totalTokens = res.InputTokens, res.OutputTokens, res.TotalTokens
	}
	runID, err := s.runs.Insert(ctx, &domain.AgentRun{
		Agent:         domain.AgentPush,
		UserID:        &user.ID,
		ItemID:        &item.ID,
		Provider:      s.providerName,
		Model:         s.llm.Model(),
		PromptVersion: s.promptVersion,
		InputTokens:   inTokens,
		OutputTokens:  outTokens,
		TotalTokens:   totalTokens,
		LatencyMS:     &latency,
		Status:        runStatus,
		ErrorMessage:  runErr,
		Meta:          map[string]any{"fallback_used": llmErr != nil},
	})
	if err != nil {
		return nil, fmt.Errorf("record agent run: %w", err)
	}

	msgID, err := s.messages.Enqueue(ctx, &domain.PushMessage{
		UserID:           user.ID,
		ItemID:           &item.ID,
		TranslationID:    translationID,
		AgentRunID:       &runID,
		TargetLineUserID: user.LineUserID,
		Title:            copyOut.Title,
		Body:             copyOut.MessageBody,
		Payload: map[string]any{
			"messages": []map[string]any{{"type": "text", "text": copyOut.MessageBody}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue message: %w", err)
	}

	s.log.InfoContext(ctx, "push enqueued",
		slog.Int64("user_id", user.ID),
		slog.Int64("item_id", item.ID),
		slog.Int64("message_id", msgID),
		slog.Bool("fallback_used", llmErr != nil),
	)

	result := &Result{
		UserID:         user.ID,
		AgentRunID:     runID,
		PushMessageID:  msgID,
		DeliveryStatus: domain.PushStatusPending,
		MessagePreview: copyOut.MessageBody,
	}

	if input.Send {
		s.drain(ctx, user.ID, msgID, result)
	}

	return result, nil
}

// drain delivers the user's queue until the just-enqueued message has been
// attempted. Older pending messages of the same user go out first; that is
// the queue's FIFO promise, not a detour.
func (s *Service) drain(ctx context.Context, userID, msgID int64, result *Result) {
	for {
		processed, err := s.delivery.DeliverNext(ctx, userID)
		if err != nil {
			s.log.ErrorContext(ctx, "immediate delivery failed",
				slog.Int64("message_id", msgID),
				slog.String("error", err.Error()),
			)
			break
		}
		if processed == nil {
			// Nothing claimable: either a background sender holds the user's
			// in-flight message or ours was already taken.
			break
		}
		if processed.ID == msgID {
			result.DeliveryStatus = processed.Status
			result.LineRequestID = processed.LineRequestID
			return
		}
		if processed.ID > msgID {
			break
		}
	}

	// Someone else attempted our message, or delivery stopped short. The
	// queue row holds the truth.
	msg, err := s.messages.GetByID(ctx, msgID)
	if err != nil {
		s.log.ErrorContext(ctx, "refresh message state failed",
			slog.Int64("message_id", msgID),
			slog.String("error", err.Error()),
		)
		return
	}
	result.DeliveryStatus = msg.Status
	result.LineRequestID = msg.LineRequestID
}

// compose generates the push copy. On LLM failure the returned copy is the
// source fallback and the error is reported for the run record.
func (s *Service) compose(ctx context.Context, title, summary, url string) (pushCopy, *provider.ChatResult, error) {
	res, err := s.llm.Complete(ctx, pushSystemPrompt, pushPrompt(title, summary, url))
	if err != nil {
		return fallbackCopy(title, summary, url), nil, err
	}

	parsed := parseCopy(res.Text)
	final := pushCopy{
		Title:       truncate(strings.TrimSpace(firstNonEmpty(parsed.Title, title)), maxTitleLen),
		MessageBody: strings.TrimSpace(firstNonEmpty(parsed.MessageBody, summary+"\n\n"+url)),
	}
	return final, res, nil
}

func fallbackCopy(title, summary, url string) pushCopy {
	return pushCopy{
		Title:       truncate(title, maxTitleLen),
		MessageBody: strings.TrimSpace(summary + "\n\n" + url),
	}
}

func pushPrompt(title, summary, url string) string {
	return fmt.Sprintf("title:\n%s\n\nsummary:\n%s\n\nurl:\n%s", title, summary, url)
}

// parseCopy decodes the model's JSON, tolerating a markdown code fence
// around it. Undecodable output yields the zero value and the fallbacks
// take over.
func parseCopy(text string) pushCopy {
	payload := strings.TrimSpace(text)
	if strings.HasPrefix(payload, "```") {
		payload = strings.Trim(payload, "`")
		payload = strings.TrimSpace(strings.TrimPrefix(payload, "json"))
	}

	var c pushCopy
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return pushCopy{}
	}
	return c
}
