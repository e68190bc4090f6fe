package rest

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/heartmarshall/newsline-backend/internal/service/answer"
	"github.com/heartmarshall/newsline-backend/internal/service/push"
)

// answerService defines the minimal interface needed for the answer agent.
type answerService interface {
	Ask(ctx context.Context, input answer.AskInput) (*answer.AskResult, error)
}

// pushService defines the minimal interface needed for the push agent.
type pushService interface {
	CreateAndDeliver(ctx context.Context, input push.Input) (*push.Result, error)
}

// AgentsHandler serves the ops-facing agent endpoints.
type AgentsHandler struct {
	answers answerService
	pushes  pushService
	log     *slog.Logger
}

// NewAgentsHandler creates an AgentsHandler.
func NewAgentsHandler(answers answerService, pushes pushService, logger *slog.Logger) *AgentsHandler {
	return &AgentsHandler{answers: answers, pushes: pushes, log: logger.With("handler", "agents")}
}

type askRequest struct {
	LineUserID  string  `json:"line_user_id"`
	Question    string  `json:"question"`
	DisplayName *string `json:"display_name"`
	RagSpaceKey string  `json:"rag_space_key"`
}

type askResponse struct {
	UserID         int64          `json:"user_id"`
	QueryID        int64          `json:"query_id"`
	Status         string         `json:"status"`
	Answer         *string        `json:"answer"`
	RejectedReason *string        `json:"rejected_reason"`
	Usage          map[string]int `json:"usage"`
}

// Ask handles POST /v1/agents/answer. A quota rejection is a successful
// call: the caller gets status REJECTED, not an error status.
func (h *AgentsHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.answers.Ask(r.Context(), answer.AskInput{
		LineUserID:  req.LineUserID,
		Question:    req.Question,
		DisplayName: req.DisplayName,
		RagSpaceKey: req.RagSpaceKey,
	})
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, askResponse{
		UserID:         result.UserID,
		QueryID:        result.QueryID,
		Status:         result.Status.String(),
		Answer:         result.Answer,
		RejectedReason: result.RejectedReason,
		Usage: map[string]int{
			"used":      result.Usage.Used,
			"limit":     result.Usage.Limit,
			"remaining": result.Usage.Remaining(),
		},
	})
}

type pushRequest struct {
	LineUserID  string  `json:"line_user_id"`
	RawItemID   int64   `json:"raw_item_id"`
	DisplayName *string `json:"display_name"`
	Send        *bool   `json:"send"`
}

type pushResponse struct {
	UserID         int64   `json:"user_id"`
	AgentRunID     int64   `json:"agent_run_id"`
	PushMessageID  int64   `json:"push_message_id"`
	DeliveryStatus string  `json:"delivery_status"`
	LineRequestID  *string `json:"line_request_id"`
	MessagePreview string  `json:"message_preview"`
}

// Push handles POST /v1/agents/push. send defaults to true: the common ops
// use is "compose and deliver now".
func (h *AgentsHandler) Push(w http.ResponseWriter, r *http.Request) {
	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	send := true
	if req.Send != nil {
		send = *req.Send
	}

	result, err := h.pushes.CreateAndDeliver(r.Context(), push.Input{
		LineUserID:  req.LineUserID,
		ItemID:      req.RawItemID,
		DisplayName: req.DisplayName,
		Send:        send,
	})
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, pushResponse{
		UserID:         result.UserID,
		AgentRunID:     result.AgentRunID,
		PushMessageID:  result.PushMessageID,
		DeliveryStatus: result.DeliveryStatus.String(),
		LineRequestID:  result.LineRequestID,
		MessagePreview: result.MessagePreview,
	})
}
