package domain

import (
	"time"
)

// PushMessage is one outbound notification in the delivery queue.
// PENDING rows are claimable; SENDING marks an in-flight attempt; SENT is
// final; FAILED rows may be re-flagged PENDING by the retry policy until
// attempts are exhausted.
type PushMessage struct {
	ID               int64
	UserID           int64
	ItemID           *int64
	TranslationID    *int64
	AgentRunID       *int64
	TargetLineUserID string
	Title            string
	Body             string
	Payload          map[string]any
	Status           PushStatus
	AttemptCount     int
	LineRequestID    *string
	ErrorMessage     *string
	ClaimedAt        *time.Time
	SentAt           *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
