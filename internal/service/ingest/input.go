package ingest

import (
	"encoding/json"
	"strings"

	"github.com/heartmarshall/newsline-backend/internal/domain"
)

// Candidate is one feed item as the fetcher saw it. The field pairs mirror
// common RSS parser output: link/url, summary/contentSnippet/content and
// isoDate/pubDate are alternatives, and canonicalization picks the first
// non-empty of each group.
type Candidate struct {
	Link           string          `json:"link"`
	URL            string          `json:"url"`
	GUID           string          `json:"guid"`
	Title          string          `json:"title"`
	Summary        string          `json:"summary"`
	ContentSnippet string          `json:"contentSnippet"`
	Content        string          `json:"content"`
	ISODate        string          `json:"isoDate"`
	PubDate        string          `json:"pubDate"`
	Creator        *string         `json:"creator"`
	Lang           string          `json:"lang"`
	Rights         *domain.Rights  `json:"rights"`
	Raw            json.RawMessage `json:"raw"`
}

// SubmitInput holds one admission request from the fetcher.
type SubmitInput struct {
	SourceID  int64
	SourceKey string
	Item      Candidate
}

// Validate checks all fields and collects all errors.
func (i SubmitInput) Validate() error {
	var errs []domain.FieldError

	if i.SourceID <= 0 {
		errs = append(errs, domain.FieldError{Field: "source_id", Message: "required"})
	}
	if strings.TrimSpace(i.SourceKey) == "" {
		errs = append(errs, domain.FieldError{Field: "source_key", Message: "required"})
	}

	if len(errs) > 0 {
		return &domain.ValidationError{Errors: errs}
	}
	return nil
}

// RegisterSourceInput holds a new source registration.
type RegisterSourceInput struct {
	SourceKey string
	Title     string
	FeedURL   string
}

// Validate checks all fields and collects all errors.
func (i RegisterSourceInput) Validate() error {
	var errs []domain.FieldError

	key := strings.TrimSpace(i.SourceKey)
	if key == "" {
		errs = append(errs, domain.FieldError{Field: "source_key", Message: "required"})
	} else if len(key) > 100 {
		errs = append(errs, domain.FieldError{Field: "source_key", Message: "must be at most 100 characters"})
	}

	if len(errs) > 0 {
		return &domain.ValidationError{Errors: errs}
	}
	return nil
}
