package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/heartmarshall/newsline-backend/internal/domain"
	"github.com/heartmarshall/newsline-backend/internal/service/answer"
	"github.com/heartmarshall/newsline-backend/internal/service/push"
)

type answerServiceMock struct {
	AskFunc func(ctx context.Context, input answer.AskInput) (*answer.AskResult, error)
}

func (m *answerServiceMock) Ask(ctx context.Context, input answer.AskInput) (*answer.AskResult, error) {
	return m.AskFunc(ctx, input)
}

type pushServiceMock struct {
	CreateAndDeliverFunc func(ctx context.Context, input push.Input) (*push.Result, error)
}

func (m *pushServiceMock) CreateAndDeliver(ctx context.Context, input push.Input) (*push.Result, error) {
	return m.CreateAndDeliverFunc(ctx, input)
}

func newAgentsHandler(answers answerService, pushes pushService) *AgentsHandler {
	return NewAgentsHandler(answers, pushes, testLogger())
}

func TestAgentsAsk_Answered(t *testing.T) {
	text := "台北下午有雨。"
	var gotInput answer.AskInput
	answers := &answerServiceMock{
		AskFunc: func(ctx context.Context, input answer.AskInput) (*answer.AskResult, error) {
			gotInput = input
			return &answer.AskResult{
				UserID:  7,
				QueryID: 11,
				Status:  domain.QueryStatusAnswered,
				Answer:  &text,
				Usage:   domain.QuotaResult{Allowed: true, Used: 2, Limit: 5},
			}, nil
		},
	}
	h := newAgentsHandler(answers, &pushServiceMock{})

	body := []byte(`{"line_user_id":"U1","question":"台北天氣如何？","rag_space_key":"news"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/agents/answer", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Ask(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotInput.LineUserID != "U1" || gotInput.Question != "台北天氣如何？" || gotInput.RagSpaceKey != "news" {
		t.Errorf("unexpected input: %+v", gotInput)
	}

	var resp askResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ANSWERED" || resp.Answer == nil || *resp.Answer != text {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.Usage["remaining"] != 3 {
		t.Errorf("expected remaining 3, got %d", resp.Usage["remaining"])
	}
}

func TestAgentsAsk_ValidationReturns400(t *testing.T) {
	answers := &answerServiceMock{
		AskFunc: func(ctx context.Context, input answer.AskInput) (*answer.AskResult, error) {
			return nil, domain.NewValidationError("question", "required")
		},
	}
	h := newAgentsHandler(answers, &pushServiceMock{})

	req := httptest.NewRequest(http.MethodPost, "/v1/agents/answer", bytes.NewReader([]byte(`{"line_user_id":"U1"}`)))
	rec := httptest.NewRecorder()

	h.Ask(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}
}

func TestAgentsAsk_BadJSON(t *testing.T) {
	h := newAgentsHandler(&answerServiceMock{}, &pushServiceMock{})

	req := httptest.NewRequest(http.MethodPost, "/v1/agents/answer", bytes.NewReader([]byte(`{`)))
	rec := httptest.NewRecorder()

	h.Ask(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}
}

func TestAgentsPush_SendDefaultsTrue(t *testing.T) {
	reqID := "req-1"
	var gotInput push.Input
	pushes := &pushServiceMock{
		CreateAndDeliverFunc: func(ctx context.Context, input push.Input) (*push.Result, error) {
			gotInput = input
			return &push.Result{
				UserID:         7,
				AgentRunID:     51,
				PushMessageID:  61,
				DeliveryStatus: domain.PushStatusSent,
				LineRequestID:  &reqID,
				MessagePreview: "沿海強震。",
			}, nil
		},
	}
	h := newAgentsHandler(&answerServiceMock{}, pushes)

	body := []byte(`{"line_user_id":"U1","raw_item_id":5}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/agents/push", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Push(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !gotInput.Send {
		t.Error("send must default to true")
	}
	if gotInput.ItemID != 5 {
		t.Errorf("expected item id 5, got %d", gotInput.ItemID)
	}

	var resp pushResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.DeliveryStatus != "SENT" || resp.LineRequestID == nil || *resp.LineRequestID != "req-1" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestAgentsPush_SendFalseHonored(t *testing.T) {
	var gotInput push.Input
	pushes := &pushServiceMock{
		CreateAndDeliverFunc: func(ctx context.Context, input push.Input) (*push.Result, error) {
			gotInput = input
			return &push.Result{DeliveryStatus: domain.PushStatusPending}, nil
		},
	}
	h := newAgentsHandler(&answerServiceMock{}, pushes)

	body := []byte(`{"line_user_id":"U1","raw_item_id":5,"send":false}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/agents/push", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Push(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if gotInput.Send {
		t.Error("send=false must be honored")
	}
}

func TestAgentsPush_ItemNotFound(t *testing.T) {
	pushes := &pushServiceMock{
		CreateAndDeliverFunc: func(ctx context.Context, input push.Input) (*push.Result, error) {
			return nil, fmt.Errorf("load push source: %w", domain.ErrNotFound)
		},
	}
	h := newAgentsHandler(&answerServiceMock{}, pushes)

	req := httptest.NewRequest(http.MethodPost, "/v1/agents/push",
		bytes.NewReader([]byte(`{"line_user_id":"U1","raw_item_id":999}`)))
	rec := httptest.NewRecorder()

	h.Push(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rec.Code)
	}
}
