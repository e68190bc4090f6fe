// Package retrieval holds providers that look up supporting evidence for an
// agent question inside a RAG space.
package retrieval

import (
	"context"

	"github.com/heartmarshall/newsline-backend/internal/provider"
)

const maxQuestionNote = 160

// Stub is a placeholder retrieval provider. Real vector retrieval is not
// wired yet; the stub returns a single marker ref so stored queries still
// record which space was consulted and for what question.
type Stub struct{}

// NewStub creates the placeholder retrieval provider.
func NewStub() *Stub { return &Stub{} }

// Retrieve returns one marker ref per call. It never fails.
func (s *Stub) Retrieve(ctx context.Context, spaceKey, question string) ([]provider.RetrievalRef, error) {
	return []provider.RetrievalRef{{
		"source":    "stub",
		"space_key": spaceKey,
		"note":      "vector retrieval not implemented yet",
		"question":  truncateQuestion(question),
	}}, nil
}

func truncateQuestion(q string) string {
	runes := []rune(q)
	if len(runes) <= maxQuestionNote {
		return q
	}
	return string(runes[:maxQuestionNote])
}
