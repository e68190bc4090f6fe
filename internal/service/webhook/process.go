package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/heartmarshall/newsline-backend/internal/domain"
	"github.com/heartmarshall/newsline-backend/internal/service/answer"
)

// callbackBody is the platform's webhook envelope.
type callbackBody struct {
	Destination string            `json:"destination"`
	Events      []json.RawMessage `json:"events"`
}

// event is the subset of a platform event the dispatcher reads. The full
// payload lands in the ledger untouched.
type event struct {
	Type           string `json:"type"`
	WebhookEventID string `json:"webhookEventId"`
	ReplyToken     string `json:"replyToken"`
	Source         struct {
		UserID string `json:"userId"`
	} `json:"source"`
	Message struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"message"`
}

// Outcome counts what one callback body produced.
type Outcome struct {
	Processed  int
	Duplicates int
	Total      int
}

// Process handles one verified callback body. Each event is admitted into
// the ledger exactly once; redelivered events count as duplicates and cause
// no side effects. A store error aborts the body so the platform retries,
// which is safe because admitted events dedup on redelivery.
func (s *Service) Process(ctx context.Context, body []byte) (*Outcome, error) {
	var cb callbackBody
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, domain.NewValidationError("body", "malformed callback payload")
	}

	out := &Outcome{Total: len(cb.Events)}
	for _, raw := range cb.Events {
		admitted, err := s.handleEvent(ctx, raw)
		if err != nil {
			return nil, err
		}
		if admitted {
			out.Processed++
		} else {
			out.Duplicates++
		}
	}

	s.log.InfoContext(ctx, "callback processed",
		slog.Int("total", out.Total),
		slog.Int("processed", out.Processed),
		slog.Int("duplicates", out.Duplicates),
	)

	return out, nil
}

func (s *Service) handleEvent(ctx context.Context, raw json.RawMessage) (bool, error) {
	var ev event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return false, domain.NewValidationError("events", "malformed event")
	}

	eventID := ev.WebhookEventID
	if eventID == "" {
		id, err := domain.FallbackEventID(raw)
		if err != nil {
			return false, fmt.Errorf("derive event id: %w", err)
		}
		eventID = id
	}

	eventType := domain.WebhookEventType(ev.Type)
	if eventType == "" {
		eventType = "unknown"
	}

	// The user lifecycle mutation commits atomically with the admission:
	// a crash between the two must not leave the event marked handled.
	var admitted bool
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		inserted, err := s.ledger.Insert(ctx, &domain.WebhookEvent{
			EventID:    eventID,
			EventType:  eventType,
			LineUserID: nilIfEmpty(ev.Source.UserID),
			Payload:    raw,
		})
		if err != nil {
			return fmt.Errorf("admit event: %w", err)
		}
		admitted = inserted
		if !inserted || ev.Source.UserID == "" {
			return nil
		}

		switch eventType {
		case domain.WebhookEventFollow:
			if _, err := s.users.SetActive(ctx, ev.Source.UserID, true); err != nil {
				return fmt.Errorf("activate user: %w", err)
			}
		case domain.WebhookEventUnfollow:
			if _, err := s.users.SetActive(ctx, ev.Source.UserID, false); err != nil {
				return fmt.Errorf("deactivate user: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if !admitted {
		s.log.DebugContext(ctx, "duplicate event skipped",
			slog.String("event_id", eventID),
			slog.String("event_type", ev.Type),
		)
		return false, nil
	}

	// Post-commit side effects are logged, never returned: the event is
	// admitted and the platform must not redeliver it.
	switch eventType {
	case domain.WebhookEventFollow:
		s.welcome(ctx, ev)
	case domain.WebhookEventMessage:
		s.answerMessage(ctx, ev)
	}

	return true, nil
}

func (s *Service) welcome(ctx context.Context, ev event) {
	if ev.ReplyToken == "" {
		return
	}
	if _, err := s.messenger.Reply(ctx, ev.ReplyToken, welcomeText); err != nil {
		s.log.ErrorContext(ctx, "welcome reply failed",
			slog.String("line_user_id", ev.Source.UserID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) answerMessage(ctx context.Context, ev event) {
	if ev.Source.UserID == "" || ev.Message.Type != "text" {
		return
	}
	question := strings.TrimSpace(ev.Message.Text)
	if question == "" {
		return
	}

	result, err := s.answers.Ask(ctx, answer.AskInput{
		LineUserID:  ev.Source.UserID,
		Question:    question,
		RagSpaceKey: "default",
	})
	if err != nil {
		s.log.ErrorContext(ctx, "answer flow failed",
			slog.String("line_user_id", ev.Source.UserID),
			slog.String("error", err.Error()),
		)
	}

	if ev.ReplyToken == "" {
		return
	}
	if _, err := s.messenger.Reply(ctx, ev.ReplyToken, replyText(result)); err != nil {
		s.log.ErrorContext(ctx, "answer reply failed",
			slog.String("line_user_id", ev.Source.UserID),
			slog.String("error", err.Error()),
		)
	}
}

// replyText picks what goes back to the user: the answer when there is one,
// the rejection or apology otherwise, and a generic fallback when the
// answer flow itself broke.
func replyText(result *answer.AskResult) string {
	if result != nil {
		if result.Answer != nil && *result.Answer != "" {
			return *result.Answer
		}
		if result.RejectedReason != nil && *result.RejectedReason != "" {
			return *result.RejectedReason
		}
	}
	return replyFallbackText
}
