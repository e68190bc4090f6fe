package domain

import (
	"time"
)

// ItemTranslation is one translation attempt for a feed item. Attempts are
// never reset: a retry inserts a new row and readers take the latest DONE.
type ItemTranslation struct {
	ID                int64
	ItemID            int64
	TargetLang        string
	TranslatedTitle   *string
	TranslatedSummary *string
	TranslatedContent *string
	EngineProvider    string
	Model             string
	PromptVersion     string
	SourceTextHash    string
	Status            TranslationStatus
	ErrorMessage      *string
	Meta              map[string]any
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
