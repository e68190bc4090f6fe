package rest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/heartmarshall/newsline-backend/internal/domain"
	"github.com/heartmarshall/newsline-backend/internal/service/webhook"
)

// maxWebhookBody caps the callback body we are willing to buffer. LINE
// batches are small; anything past this is not a real callback.
const maxWebhookBody = 1 << 20

// webhookService defines the minimal interface needed by WebhookHandler.
type webhookService interface {
	Process(ctx context.Context, body []byte) (*webhook.Outcome, error)
}

// signatureVerifier checks the platform signature over the raw body.
type signatureVerifier interface {
	VerifySignature(body []byte, signature string) bool
}

// WebhookHandler serves the LINE callback endpoint.
type WebhookHandler struct {
	svc      webhookService
	verifier signatureVerifier
	log      *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(svc webhookService, verifier signatureVerifier, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{svc: svc, verifier: verifier, log: logger.With("handler", "webhook")}
}

type webhookResponse struct {
	OK           bool `json:"ok"`
	Processed    int  `json:"processed"`
	DedupSkipped int  `json:"dedup_skipped"`
	TotalEvents  int  `json:"total_events"`
}

// Callback handles POST /webhook/line. The signature is verified over the
// raw bytes before any parsing. A store failure answers 500 on purpose: the
// platform redelivers, and the event ledger makes redelivery harmless.
func (h *WebhookHandler) Callback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if !h.verifier.VerifySignature(body, r.Header.Get("X-Line-Signature")) {
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	out, err := h.svc.Process(r.Context(), body)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.ErrorContext(r.Context(), "webhook processing failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{
		OK:           true,
		Processed:    out.Processed,
		DedupSkipped: out.Duplicates,
		TotalEvents:  out.Total,
	})
}
