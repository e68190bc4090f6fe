package domain

import (
	"time"
)

// AgentRun is one append-only record of an agent invocation. References to
// users, items, and queries are weak: the run outlives whatever it points at.
type AgentRun struct {
	ID            int64
	Agent         AgentKind
	UserID        *int64
	ItemID        *int64
	QueryID       *int64
	Provider      string
	Model         string
	PromptVersion string
	InputTokens   int
	OutputTokens  int
	TotalTokens   int
	LatencyMS     *int64
	Status        RunStatus
	ErrorMessage  *string
	Meta          map[string]any
	CreatedAt     time.Time
}
