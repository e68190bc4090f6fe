package domain

import (
	"time"
)

// User is a messaging-platform user known to the system. Users are created
// implicitly on first contact (follow, message, or push targeting); unfollow
// deactivates but never deletes.
type User struct {
	ID                 int64
	LineUserID         string
	DisplayName        *string
	PreferredLang      string
	Timezone           string
	IsActive           bool
	DailyQuestionLimit int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// DefaultDailyQuestionLimit applies when a user row is created implicitly.
const DefaultDailyQuestionLimit = 5

// QuotaUsage is one user's question counter for one calendar day.
type QuotaUsage struct {
	UserID     int64
	UsageDate  time.Time
	UsedCount  int
	LimitCount int
	UpdatedAt  time.Time
}

// QuotaResult is the outcome of a quota consumption attempt.
type QuotaResult struct {
	Allowed bool
	Used    int
	Limit   int
}

// Remaining returns how many questions the user may still ask today.
func (r QuotaResult) Remaining() int {
	if r.Limit < r.Used {
		return 0
	}
	return r.Limit - r.Used
}
