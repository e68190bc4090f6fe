package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/heartmarshall/newsline-backend/pkg/ctxutil"
)

func TestRequestID_EchoesIncomingHeader(t *testing.T) {
	incomingID := "trace-" + uuid.New().String()
	var seenInCtx string

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenInCtx = ctxutil.RequestIDFromCtx(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, incomingID)
	rec := httptest.NewRecorder()

	RequestID()(handler).ServeHTTP(rec, req)

	if seenInCtx != incomingID {
		t.Errorf("context request id = %q, want the incoming %q", seenInCtx, incomingID)
	}
	if got := rec.Header().Get(RequestIDHeader); got != incomingID {
		t.Errorf("%s response header = %q, want %q", RequestIDHeader, got, incomingID)
	}
}

func TestRequestID_GeneratesWhenAbsent(t *testing.T) {
	var seenInCtx string

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenInCtx = ctxutil.RequestIDFromCtx(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	RequestID()(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if _, err := uuid.Parse(seenInCtx); err != nil {
		t.Fatalf("generated request id %q is not a UUID: %v", seenInCtx, err)
	}

	// The id the handler saw and the one the client received must match, or
	// cross-service log correlation falls apart.
	if got := rec.Header().Get(RequestIDHeader); got != seenInCtx {
		t.Errorf("%s response header = %q, context had %q", RequestIDHeader, got, seenInCtx)
	}
}
