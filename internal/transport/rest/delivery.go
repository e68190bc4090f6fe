package rest

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/heartmarshall/newsline-backend/internal/domain"
	"github.com/heartmarshall/newsline-backend/internal/service/delivery"
)

// deliveryService defines the minimal interface needed by DeliveryHandler.
type deliveryService interface {
	Messages(ctx context.Context, input delivery.ListInput) ([]domain.PushMessage, error)
	Message(ctx context.Context, id int64) (*domain.PushMessage, error)
	QueueDepth(ctx context.Context) (map[domain.PushStatus]int, error)
	Requeue(ctx context.Context, id int64) error
}

// DeliveryHandler serves the delivery queue ops endpoints.
type DeliveryHandler struct {
	svc deliveryService
	log *slog.Logger
}

// NewDeliveryHandler creates a DeliveryHandler.
func NewDeliveryHandler(svc deliveryService, logger *slog.Logger) *DeliveryHandler {
	return &DeliveryHandler{svc: svc, log: logger.With("handler", "delivery")}
}

type messageResponse struct {
	ID            int64      `json:"id"`
	UserID        int64      `json:"user_id"`
	ItemID        *int64     `json:"item_id"`
	TranslationID *int64     `json:"translation_id"`
	AgentRunID    *int64     `json:"agent_run_id"`
	Title         string     `json:"title"`
	Body          string     `json:"body"`
	Status        string     `json:"status"`
	AttemptCount  int        `json:"attempt_count"`
	LineRequestID *string    `json:"line_request_id"`
	ErrorMessage  *string    `json:"error_message"`
	SentAt        *time.Time `json:"sent_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ListMessages handles GET /v1/delivery/messages.
func (h *DeliveryHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	userID, _ := strconv.ParseInt(q.Get("user_id"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	msgs, err := h.svc.Messages(r.Context(), delivery.ListInput{
		Status: q.Get("status"),
		UserID: userID,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}

	out := make([]messageResponse, len(msgs))
	for i, msg := range msgs {
		out[i] = toMessageResponse(&msg)
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

// GetMessage handles GET /v1/delivery/messages/{id}.
func (h *DeliveryHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}

	msg, err := h.svc.Message(r.Context(), id)
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toMessageResponse(msg))
}

// Requeue handles POST /v1/delivery/messages/{id}/requeue.
func (h *DeliveryHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}

	if err := h.svc.Requeue(r.Context(), id); err != nil {
		handleError(h.log, w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Stats handles GET /v1/delivery/stats with per-status queue depths.
func (h *DeliveryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.svc.QueueDepth(r.Context())
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}

	out := make(map[string]int, len(counts))
	for status, n := range counts {
		out[status.String()] = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"counts": out})
}

func toMessageResponse(msg *domain.PushMessage) messageResponse {
	return messageResponse{
		ID:            msg.ID,
		UserID:        msg.UserID,
		ItemID:        msg.ItemID,
		TranslationID: msg.TranslationID,
		AgentRunID:    msg.AgentRunID,
		Title:         msg.Title,
		Body:          msg.Body,
		Status:        msg.Status.String(),
		AttemptCount:  msg.AttemptCount,
		LineRequestID: msg.LineRequestID,
		ErrorMessage:  msg.ErrorMessage,
		SentAt:        msg.SentAt,
		CreatedAt:     msg.CreatedAt,
	}
}
