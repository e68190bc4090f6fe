package domain

// ItemStatus represents the pipeline stage of an ingested feed item.
type ItemStatus string

const (
	ItemStatusRaw        ItemStatus = "RAW"
	ItemStatusTranslated ItemStatus = "TRANSLATED"
	ItemStatusPushed     ItemStatus = "PUSHED"
)

func (s ItemStatus) String() string { return string(s) }

func (s ItemStatus) IsValid() bool {
	switch s {
	case ItemStatusRaw, ItemStatusTranslated, ItemStatusPushed:
		return true
	}
	return false
}

// TranslationStatus represents the state of a translation attempt.
type TranslationStatus string

const (
	TranslationStatusQueued     TranslationStatus = "QUEUED"
	TranslationStatusProcessing TranslationStatus = "PROCESSING"
	TranslationStatusDone       TranslationStatus = "DONE"
	TranslationStatusFailed     TranslationStatus = "FAILED"
)

func (s TranslationStatus) String() string { return string(s) }

func (s TranslationStatus) IsValid() bool {
	switch s {
	case TranslationStatusQueued, TranslationStatusProcessing,
		TranslationStatusDone, TranslationStatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether the monotonic QUEUED → PROCESSING →
// DONE|FAILED progression allows moving to next. Terminal states allow
// nothing; a fresh attempt is a new row, not a reset.
func (s TranslationStatus) CanTransitionTo(next TranslationStatus) bool {
	switch s {
	case TranslationStatusQueued:
		return next == TranslationStatusProcessing || next == TranslationStatusFailed
	case TranslationStatusProcessing:
		return next == TranslationStatusDone || next == TranslationStatusFailed
	}
	return false
}

// WebhookEventType identifies the kind of platform callback event.
type WebhookEventType string

const (
	WebhookEventFollow   WebhookEventType = "follow"
	WebhookEventUnfollow WebhookEventType = "unfollow"
	WebhookEventMessage  WebhookEventType = "message"
)

func (t WebhookEventType) String() string { return string(t) }

// QueryStatus represents the outcome of a user question.
type QueryStatus string

const (
	QueryStatusAnswered QueryStatus = "ANSWERED"
	QueryStatusRejected QueryStatus = "REJECTED"
	QueryStatusFailed   QueryStatus = "FAILED"
)

func (s QueryStatus) String() string { return string(s) }

func (s QueryStatus) IsValid() bool {
	switch s {
	case QueryStatusAnswered, QueryStatusRejected, QueryStatusFailed:
		return true
	}
	return false
}

// AgentKind identifies which agent produced a run record.
type AgentKind string

const (
	AgentAnswer AgentKind = "ANSWER"
	AgentPush   AgentKind = "PUSH"
)

func (k AgentKind) String() string { return string(k) }

func (k AgentKind) IsValid() bool {
	switch k {
	case AgentAnswer, AgentPush:
		return true
	}
	return false
}

// RunStatus represents the terminal outcome of an agent run.
type RunStatus string

const (
	RunStatusDone   RunStatus = "DONE"
	RunStatusFailed RunStatus = "FAILED"
)

func (s RunStatus) String() string { return string(s) }

func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusDone, RunStatusFailed:
		return true
	}
	return false
}

// PushStatus represents the delivery state of an outbound message.
type PushStatus string

const (
	PushStatusPending PushStatus = "PENDING"
	PushStatusSending PushStatus = "SENDING"
	PushStatusSent    PushStatus = "SENT"
	PushStatusFailed  PushStatus = "FAILED"
)

func (s PushStatus) String() string { return string(s) }

func (s PushStatus) IsValid() bool {
	switch s {
	case PushStatusPending, PushStatusSending, PushStatusSent, PushStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the delivery state accepts no further
// transitions. SENT is final; FAILED may be re-flagged PENDING by the
// retry policy and is not terminal here.
func (s PushStatus) IsTerminal() bool {
	return s == PushStatusSent
}
