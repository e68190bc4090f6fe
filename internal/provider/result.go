package provider

// ChatResult is the structured result of one LLM chat completion.
type ChatResult struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// PushResult reports the outcome of a delivered platform message.
type PushResult struct {
	// RequestID is the platform's delivery id (x-line-request-id), when the
	// platform returned one.
	RequestID *string
}

// RetrievalRef is one piece of supporting evidence returned by a retrieval
// backend. Refs are schema-less on purpose: vector and graph backends attach
// different metadata, and the refs end up in a jsonb audit column rather than
// in typed Go code.
type RetrievalRef map[string]any
