package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// WebhookEvent is one admitted platform callback event. The ledger keeps it
// as proof of processing; redeliveries of the same event id are skipped.
type WebhookEvent struct {
	ID         int64
	EventID    string
	EventType  WebhookEventType
	LineUserID *string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// FallbackEventID derives a deterministic event id for events the platform
// delivered without one: the hash of the event re-marshalled with sorted
// keys, so key order in the incoming JSON does not change the id.
func FallbackEventID(payload json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return "", fmt.Errorf("decode event payload: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("canonicalize event payload: %w", err)
	}

	sum := sha256.Sum256(bytes.TrimRight(buf.Bytes(), "\n"))
	return hex.EncodeToString(sum[:]), nil
}
