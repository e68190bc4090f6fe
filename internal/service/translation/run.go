package translation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/heartmarshall/newsline-backend/internal/domain"
)

// translationOut is the structured answer expected from the model.
type translationOut struct {
	TranslatedTitle   string  `json:"translated_title"`
	TranslatedSummary string  `json:"translated_summary"`
	TranslatedContent *string `json:"translated_content"`
}

// Run translates one admitted item. The attempt trail is written first, so a
// crashed or failed run leaves a row behind instead of disappearing.
func (s *Service) Run(ctx context.Context, item *domain.FeedItem) error {
	content := extractContent(item.Raw)
	if !item.Rights.StoreFulltext {
		// Summary-only rights keep full text out of the translation too.
		content = ""
	}

	tr := &domain.ItemTranslation{
		ItemID:         item.ID,
		TargetLang:     s.targetLang,
		EngineProvider: s.providerName,
		Model:          s.llm.Model(),
		PromptVersion:  s.promptVersion,
		SourceTextHash: sourceTextHash(item.Title, item.Summary, content),
		Meta: map[string]any{
			"source_lang": item.Lang,
			"source_key":  item.SourceKey,
		},
	}
	id, err := s.translations.Insert(ctx, tr)
	if err != nil {
		return fmt.Errorf("enqueue translation: %w", err)
	}

	if err := s.translations.MarkProcessing(ctx, id); err != nil {
		return fmt.Errorf("claim translation %d: %w", id, err)
	}

	out, err := s.translate(ctx, item.Title, item.Summary, content)
	if err != nil {
		if markErr := s.translations.MarkFailed(ctx, id, errMessage(err)); markErr != nil {
			s.log.ErrorContext(ctx, "mark translation failed",
				slog.Int64("translation_id", id),
				slog.String("error", markErr.Error()),
			)
		}
		return fmt.Errorf("translate item %d: %w", item.ID, err)
	}

	title := strings.TrimSpace(out.TranslatedTitle)
	summary := nilIfEmpty(out.TranslatedSummary)
	if err := s.translations.MarkDone(ctx, id, &title, summary, out.TranslatedContent); err != nil {
		return fmt.Errorf("record translation %d: %w", id, err)
	}

	if err := s.items.UpdateStatus(ctx, item.ID, domain.ItemStatusTranslated); err != nil {
		return fmt.Errorf("mark item translated: %w", err)
	}

	s.log.InfoContext(ctx, "item translated",
		slog.Int64("item_id", item.ID),
		slog.Int64("translation_id", id),
		slog.String("target_lang", s.targetLang),
	)
	return nil
}

func (s *Service) translate(ctx context.Context, title, summary, content string) (*translationOut, error) {
	res, err := s.llm.Complete(ctx, s.systemPrompt(), translatePrompt(title, summary, content))
	if err != nil {
		return nil, err
	}
	return parseTranslation(res.Text)
}

func (s *Service) systemPrompt() string {
	return fmt.Sprintf("You are a precise news translator. Translate the input into %s. "+
		"Keep facts, names and numbers unchanged. "+
		"Return only JSON with keys translated_title, translated_summary, translated_content.",
		s.targetLang)
}

func translatePrompt(title, summary, content string) string {
	return fmt.Sprintf("title:\n%s\n\nsummary:\n%s\n\ncontent:\n%s", title, summary, content)
}

// parseTranslation decodes the model output, tolerating a markdown code
// fence around the JSON.
func parseTranslation(text string) (*translationOut, error) {
	payload := strings.TrimSpace(text)
	if strings.HasPrefix(payload, "```") {
		payload = strings.Trim(payload, "`")
		payload = strings.TrimPrefix(payload, "json")
		payload = strings.TrimSpace(payload)
	}

	var out translationOut
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return nil, fmt.Errorf("parse translation output: %w", err)
	}
	if strings.TrimSpace(out.TranslatedTitle) == "" {
		return nil, errors.New("translation output has no title")
	}
	return &out, nil
}

func nilIfEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
