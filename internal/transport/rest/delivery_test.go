package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/heartmarshall/newsline-backend/internal/domain"
	"github.com/heartmarshall/newsline-backend/internal/service/delivery"
)

type deliveryServiceMock struct {
	MessagesFunc   func(ctx context.Context, input delivery.ListInput) ([]domain.PushMessage, error)
	MessageFunc    func(ctx context.Context, id int64) (*domain.PushMessage, error)
	QueueDepthFunc func(ctx context.Context) (map[domain.PushStatus]int, error)
	RequeueFunc    func(ctx context.Context, id int64) error
}

func (m *deliveryServiceMock) Messages(ctx context.Context, input delivery.ListInput) ([]domain.PushMessage, error) {
	return m.MessagesFunc(ctx, input)
}

func (m *deliveryServiceMock) Message(ctx context.Context, id int64) (*domain.PushMessage, error) {
	return m.MessageFunc(ctx, id)
}

func (m *deliveryServiceMock) QueueDepth(ctx context.Context) (map[domain.PushStatus]int, error) {
	return m.QueueDepthFunc(ctx)
}

func (m *deliveryServiceMock) Requeue(ctx context.Context, id int64) error {
	return m.RequeueFunc(ctx, id)
}

func TestDeliveryListMessages_FilterParsed(t *testing.T) {
	var gotInput delivery.ListInput
	svc := &deliveryServiceMock{
		MessagesFunc: func(ctx context.Context, input delivery.ListInput) ([]domain.PushMessage, error) {
			gotInput = input
			return []domain.PushMessage{
				{ID: 61, UserID: 7, Status: domain.PushStatusFailed, AttemptCount: 3},
			}, nil
		},
	}
	h := NewDeliveryHandler(svc, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/v1/delivery/messages?status=FAILED&user_id=7&limit=10&offset=20", nil)
	rec := httptest.NewRecorder()

	h.ListMessages(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	want := delivery.ListInput{Status: "FAILED", UserID: 7, Limit: 10, Offset: 20}
	if gotInput != want {
		t.Errorf("expected %+v, got %+v", want, gotInput)
	}

	var resp struct {
		Messages []messageResponse `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Messages) != 1 || resp.Messages[0].Status != "FAILED" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestDeliveryListMessages_UnknownStatus(t *testing.T) {
	svc := &deliveryServiceMock{
		MessagesFunc: func(ctx context.Context, input delivery.ListInput) ([]domain.PushMessage, error) {
			return nil, domain.NewValidationError("status", "unknown status")
		},
	}
	h := NewDeliveryHandler(svc, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/v1/delivery/messages?status=LOST", nil)
	rec := httptest.NewRecorder()

	h.ListMessages(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}
}

func TestDeliveryGetMessage_NotFound(t *testing.T) {
	svc := &deliveryServiceMock{
		MessageFunc: func(ctx context.Context, id int64) (*domain.PushMessage, error) {
			return nil, fmt.Errorf("get message: %w", domain.ErrNotFound)
		},
	}
	h := NewDeliveryHandler(svc, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/v1/delivery/messages/999", nil)
	req.SetPathValue("id", "999")
	rec := httptest.NewRecorder()

	h.GetMessage(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rec.Code)
	}
}

func TestDeliveryRequeue_OK(t *testing.T) {
	var gotID int64
	svc := &deliveryServiceMock{
		RequeueFunc: func(ctx context.Context, id int64) error {
			gotID = id
			return nil
		},
	}
	h := NewDeliveryHandler(svc, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/v1/delivery/messages/61/requeue", nil)
	req.SetPathValue("id", "61")
	rec := httptest.NewRecorder()

	h.Requeue(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if gotID != 61 {
		t.Errorf("expected id 61, got %d", gotID)
	}
}

func TestDeliveryRequeue_NotFailedConflicts(t *testing.T) {
	svc := &deliveryServiceMock{
		RequeueFunc: func(ctx context.Context, id int64) error {
			return fmt.Errorf("requeue message: %w", domain.ErrConflict)
		},
	}
	h := NewDeliveryHandler(svc, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/v1/delivery/messages/61/requeue", nil)
	req.SetPathValue("id", "61")
	rec := httptest.NewRecorder()

	h.Requeue(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", rec.Code)
	}
}

func TestDeliveryStats(t *testing.T) {
	svc := &deliveryServiceMock{
		QueueDepthFunc: func(ctx context.Context) (map[domain.PushStatus]int, error) {
			return map[domain.PushStatus]int{
				domain.PushStatusPending: 4,
				domain.PushStatusFailed:  1,
			}, nil
		},
	}
	h := NewDeliveryHandler(svc, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/v1/delivery/stats", nil)
	rec := httptest.NewRecorder()

	h.Stats(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp struct {
		Counts map[string]int `json:"counts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Counts["PENDING"] != 4 || resp.Counts["FAILED"] != 1 {
		t.Errorf("unexpected counts: %+v", resp.Counts)
	}
}
