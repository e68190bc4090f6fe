package answer

import (
	"strings"
	"unicode/utf8"

	"github.com/heartmarshall/newsline-backend/internal/domain"
)

// AskInput holds one question from a messaging-platform user.
type AskInput struct {
	LineUserID  string
	Question    string
	DisplayName *string
	RagSpaceKey string
}

// Validate checks all fields and collects all errors.
func (i AskInput) Validate() error {
	var errs []domain.FieldError

	if strings.TrimSpace(i.LineUserID) == "" {
		errs = append(errs, domain.FieldError{Field: "line_user_id", Message: "required"})
	}

	q := strings.TrimSpace(i.Question)
	if q == "" {
		errs = append(errs, domain.FieldError{Field: "question", Message: "required"})
	} else if utf8.RuneCountInString(q) > maxQuestionLen {
		errs = append(errs, domain.FieldError{Field: "question", Message: "must be at most 2000 characters"})
	}

	if len(errs) > 0 {
		return &domain.ValidationError{Errors: errs}
	}
	return nil
}
