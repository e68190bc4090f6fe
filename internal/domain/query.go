package domain

import (
	"encoding/json"
	"time"
)

// RejectReasonDailyLimit marks queries rejected by the daily quota gate.
const RejectReasonDailyLimit = "DAILY_LIMIT_REACHED"

// UserQuery is one user question and its outcome. Every question produces
// exactly one row, whatever the outcome.
type UserQuery struct {
	ID             int64
	UserID         int64
	QuestionText   string
	AnswerText     *string
	Status         QueryStatus
	RejectedReason *string
	RAGProvider    string
	RAGSpaceKey    string
	RAGMode        string
	RAGRefs        json.RawMessage
	AnsweredAt     *time.Time
	CreatedAt      time.Time
}
