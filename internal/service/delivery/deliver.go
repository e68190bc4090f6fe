package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/heartmarshall/newsline-backend/internal/domain"
)

// deliver runs one send attempt for a claimed message and reports the
// outcome. The claim context, not the per-attempt send timeout, governs the
// report: a timed-out send must still be recorded as FAILED. msg is updated
// in place to reflect the reported outcome.
func (s *Service) deliver(ctx context.Context, msg *domain.PushMessage) {
	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()

	res, err := s.sender.Push(sendCtx, msg.TargetLineUserID, msg.Body)
	if err != nil {
		s.log.ErrorContext(ctx, "send failed",
			slog.Int64("message_id", msg.ID),
			slog.Int("attempt", msg.AttemptCount),
			slog.String("error", err.Error()),
		)
		errMsg := err.Error()
		if markErr := s.messages.MarkFailed(ctx, msg.ID, errMsg); markErr != nil {
			s.log.ErrorContext(ctx, "report failure failed",
				slog.Int64("message_id", msg.ID),
				slog.String("error", markErr.Error()),
			)
			return
		}
		msg.Status = domain.PushStatusFailed
		msg.ErrorMessage = &errMsg
		return
	}

	var reqID *string
	if res != nil {
		reqID = res.RequestID
	}
	sentAt := time.Now().UTC()
	if err := s.messages.MarkSent(ctx, msg.ID, reqID, sentAt); err != nil {
		// Lost the claim, most likely to the stale reclaim after a very slow
		// send. The message may go out twice; SENT stays owned by whoever
		// finalized first.
		s.log.WarnContext(ctx, "report send failed",
			slog.Int64("message_id", msg.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	msg.Status = domain.PushStatusSent
	msg.LineRequestID = reqID
	msg.SentAt = &sentAt
	msg.ErrorMessage = nil

	s.log.InfoContext(ctx, "message delivered",
		slog.Int64("message_id", msg.ID),
		slog.Int64("user_id", msg.UserID),
		slog.Int("attempt", msg.AttemptCount),
	)
}

// DeliverNext claims and delivers the oldest pending message of one user.
// It returns nil when the user has nothing claimable, which includes the
// case of another worker holding an in-flight message.
func (s *Service) DeliverNext(ctx context.Context, userID int64) (*domain.PushMessage, error) {
	msg, err := s.messages.ClaimUserHead(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim user head: %w", err)
	}

	s.deliver(ctx, msg)
	return msg, nil
}
