// Package translation runs the inline translation stage of the ingest
// pipeline. Each newly admitted item gets a fresh translation attempt row;
// the attempt moves QUEUED → PROCESSING → DONE|FAILED and a successful run
// promotes the item to TRANSLATED.
package translation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/heartmarshall/newsline-backend/internal/domain"
	"github.com/heartmarshall/newsline-backend/internal/provider"
)

const (
	defaultTargetLang    = "zh-TW"
	defaultPromptVersion = "translate-v1"

	maxErrorLen = 500
)

type translationRepo interface {
	Insert(ctx context.Context, tr *domain.ItemTranslation) (int64, error)
	MarkProcessing(ctx context.Context, id int64) error
	MarkDone(ctx context.Context, id int64, title, summary, content *string) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
}

type itemRepo interface {
	UpdateStatus(ctx context.Context, id int64, status domain.ItemStatus) error
}

type llmClient interface {
	Complete(ctx context.Context, system, user string) (*provider.ChatResult, error)
	Model() string
}

// Service translates admitted feed items. It plugs into the ingest pipeline
// as a stage and is skipped entirely when translation is disabled in config.
type Service struct {
	log          *slog.Logger
	translations translationRepo
	items        itemRepo
	llm          llmClient

	providerName  string
	targetLang    string
	promptVersion string
}

// NewService creates a new translation service.
func NewService(log *slog.Logger, translations translationRepo, items itemRepo,
	llm llmClient, providerName, targetLang, promptVersion string) *Service {
	if targetLang == "" {
		targetLang = defaultTargetLang
	}
	if promptVersion == "" {
		promptVersion = defaultPromptVersion
	}
	return &Service{
		log:           log.With("service", "translation"),
		translations:  translations,
		items:         items,
		llm:           llm,
		providerName:  providerName,
		targetLang:    targetLang,
		promptVersion: promptVersion,
	}
}

// Name identifies the stage in pipeline logs.
func (s *Service) Name() string { return "translation" }

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// extractContent pulls the article body out of the raw feed payload. Feeds
// disagree on where it lives, so the common keys are tried in order.
func extractContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ""
	}

	for _, key := range []string{"content", "content:encoded", "description"} {
		if v, ok := fields[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// sourceTextHash fingerprints the source text so a re-translation of
// unchanged input can be recognized later.
func sourceTextHash(title, summary, content string) string {
	sum := sha256.Sum256([]byte(title + "\n" + summary + "\n" + content))
	return hex.EncodeToString(sum[:])
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

func errMessage(err error) string {
	return truncate(fmt.Sprintf("%v", err), maxErrorLen)
}
