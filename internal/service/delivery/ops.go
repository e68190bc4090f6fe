package delivery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/heartmarshall/newsline-backend/internal/adapter/postgres/pushmessage"
	"github.com/heartmarshall/newsline-backend/internal/domain"
)

// ListInput narrows the ops listing. Zero values mean "no filter".
type ListInput struct {
	Status string
	UserID int64
	Limit  int
	Offset int
}

// Validate checks all fields and collects all errors.
func (i ListInput) Validate() error {
	var errs []domain.FieldError

	if i.Status != "" && !domain.PushStatus(i.Status).IsValid() {
		errs = append(errs, domain.FieldError{Field: "status", Message: "unknown status"})
	}
	if i.UserID < 0 {
		errs = append(errs, domain.FieldError{Field: "user_id", Message: "must not be negative"})
	}

	if len(errs) > 0 {
		return &domain.ValidationError{Errors: errs}
	}
	return nil
}

// Messages lists queue rows newest-first for the ops surface.
func (s *Service) Messages(ctx context.Context, input ListInput) ([]domain.PushMessage, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	msgs, err := s.messages.List(ctx, pushmessage.Filter{
		Status: domain.PushStatus(input.Status),
		UserID: input.UserID,
		Limit:  input.Limit,
		Offset: input.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// Message returns one queue row.
func (s *Service) Message(ctx context.Context, id int64) (*domain.PushMessage, error) {
	if id <= 0 {
		return nil, domain.NewValidationError("id", "must be positive")
	}

	msg, err := s.messages.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

// QueueDepth returns current per-status counts.
func (s *Service) QueueDepth(ctx context.Context) (map[domain.PushStatus]int, error) {
	counts, err := s.messages.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	return counts, nil
}

// Requeue resets one FAILED message for a fresh round of attempts,
// bypassing the attempt cap. Messages in any other state conflict.
func (s *Service) Requeue(ctx context.Context, id int64) error {
	if id <= 0 {
		return domain.NewValidationError("id", "must be positive")
	}

	if err := s.messages.Requeue(ctx, id); err != nil {
		return fmt.Errorf("requeue message: %w", err)
	}

	s.log.InfoContext(ctx, "message requeued", slog.Int64("message_id", id))
	return nil
}
