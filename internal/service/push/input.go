package push

import (
	"strings"

	"github.com/heartmarshall/newsline-backend/internal/domain"
)

// Input holds one push request from the ops surface. Send=false composes
// and enqueues only, leaving delivery to the background sender.
type Input struct {
	LineUserID  string
	ItemID      int64
	DisplayName *string
	Send        bool
}

// Validate checks all fields and collects all errors.
func (i Input) Validate() error {
	var errs []domain.FieldError

	if strings.TrimSpace(i.LineUserID) == "" {
		errs = append(errs, domain.FieldError{Field: "line_user_id", Message: "required"})
	}
	if i.ItemID <= 0 {
		errs = append(errs, domain.FieldError{Field: "item_id", Message: "required"})
	}

	if len(errs) > 0 {
		return &domain.ValidationError{Errors: errs}
	}
	return nil
}
