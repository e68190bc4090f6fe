package rest

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/heartmarshall/newsline-backend/internal/domain"
	"github.com/heartmarshall/newsline-backend/internal/service/ingest"
)

// ingestService defines the minimal interface needed by IngestHandler.
type ingestService interface {
	Submit(ctx context.Context, input ingest.SubmitInput) (*ingest.Result, error)
	RegisterSource(ctx context.Context, input ingest.RegisterSourceInput) (*domain.Source, error)
	ListSources(ctx context.Context) ([]domain.Source, error)
	SetSourceEnabled(ctx context.Context, id int64, enabled bool) error
}

// IngestHandler serves the fetcher-facing admission endpoints.
type IngestHandler struct {
	svc ingestService
	log *slog.Logger
}

// NewIngestHandler creates an IngestHandler.
func NewIngestHandler(svc ingestService, logger *slog.Logger) *IngestHandler {
	return &IngestHandler{svc: svc, log: logger.With("handler", "ingest")}
}

type sourceCtx struct {
	SourceID  int64  `json:"source_id"`
	SourceKey string `json:"source_key"`
}

type submitItemRequest struct {
	Source sourceCtx        `json:"source"`
	Item   ingest.Candidate `json:"item"`
}

type itemResponse struct {
	ItemID      int64      `json:"item_id"`
	ItemUID     string     `json:"item_uid"`
	SourceID    int64      `json:"source_id"`
	SourceKey   string     `json:"source_key"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Summary     string     `json:"summary"`
	PublishedAt *time.Time `json:"published_at"`
	FetchedAt   time.Time  `json:"fetched_at"`
	Lang        string     `json:"lang"`
	DedupKey    string     `json:"dedup_key"`
	Status      string     `json:"status"`
	Inserted    bool       `json:"inserted"`
}

// SubmitItem handles POST /v1/ingest/items. The response reports the
// canonical item and whether this call admitted it; a duplicate is a normal
// 200 with inserted=false.
func (h *IngestHandler) SubmitItem(w http.ResponseWriter, r *http.Request) {
	var req submitItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.svc.Submit(r.Context(), ingest.SubmitInput{
		SourceID:  req.Source.SourceID,
		SourceKey: req.Source.SourceKey,
		Item:      req.Item,
	})
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toItemResponse(result))
}

type registerSourceRequest struct {
	SourceKey string `json:"source_key"`
	Title     string `json:"title"`
	FeedURL   string `json:"feed_url"`
}

type sourceResponse struct {
	ID        int64     `json:"id"`
	SourceKey string    `json:"source_key"`
	Title     string    `json:"title"`
	FeedURL   string    `json:"feed_url"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// RegisterSource handles POST /v1/sources.
func (h *IngestHandler) RegisterSource(w http.ResponseWriter, r *http.Request) {
	var req registerSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	src, err := h.svc.RegisterSource(r.Context(), ingest.RegisterSourceInput{
		SourceKey: req.SourceKey,
		Title:     req.Title,
		FeedURL:   req.FeedURL,
	})
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toSourceResponse(src))
}

// ListSources handles GET /v1/sources.
func (h *IngestHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.svc.ListSources(r.Context())
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}

	out := make([]sourceResponse, len(sources))
	for i, src := range sources {
		out[i] = toSourceResponse(&src)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": out})
}

type setEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// SetSourceEnabled handles PATCH /v1/sources/{id}.
func (h *IngestHandler) SetSourceEnabled(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid source id")
		return
	}

	var req setEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.svc.SetSourceEnabled(r.Context(), id, req.Enabled); err != nil {
		handleError(h.log, w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func toItemResponse(result *ingest.Result) itemResponse {
	item := result.Item
	return itemResponse{
		ItemID:      item.ID,
		ItemUID:     item.ItemUID,
		SourceID:    item.SourceID,
		SourceKey:   item.SourceKey,
		URL:         item.URL,
		Title:       item.Title,
		Summary:     item.Summary,
		PublishedAt: item.PublishedAt,
		FetchedAt:   item.FetchedAt,
		Lang:        item.Lang,
		DedupKey:    item.DedupKey,
		Status:      item.Status.String(),
		Inserted:    result.Inserted,
	}
}

func toSourceResponse(src *domain.Source) sourceResponse {
	return sourceResponse{
		ID:        src.ID,
		SourceKey: src.SourceKey,
		Title:     src.Title,
		FeedURL:   src.FeedURL,
		Enabled:   src.Enabled,
		CreatedAt: src.CreatedAt,
	}
}
