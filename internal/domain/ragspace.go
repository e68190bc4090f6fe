package domain

import (
	"time"
)

// RagSpace is a configured retrieval space the answer agent searches in.
type RagSpace struct {
	ID             int64
	SpaceKey       string
	Backend        string
	Mode           string
	IsGraphEnabled bool
	GraphNamespace *string
	Config         map[string]any
	CreatedAt      time.Time
}
