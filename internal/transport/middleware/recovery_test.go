package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/heartmarshall/newsline-backend/pkg/ctxutil"
)

func TestRecovery_PassthroughWithoutPanic(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	called := false

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusAccepted)
	})

	wrapped := Recovery(logger)(handler)

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if !called {
		t.Error("expected handler to be called")
	}
	if rec.Code != http.StatusAccepted {
		t.Errorf("expected status %d, got %d", http.StatusAccepted, rec.Code)
	}
}

func TestRecovery_PanicBecomesPlain500(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("ledger row vanished")
	})

	wrapped := Recovery(logger)(handler)

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/line", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "internal server error" {
		t.Errorf("expected body %q, got %q", "internal server error", body)
	}
}

func TestRecovery_LogsPanicWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelError}))

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom in handler")
	})

	wrapped := Recovery(logger)(handler)

	req := httptest.NewRequest(http.MethodPost, "/v1/agents/answer", nil)
	req = req.WithContext(ctxutil.WithRequestID(req.Context(), "req-panic-42"))
	rec := httptest.NewRecorder()

	wrapped.ServeHTTP(rec, req)

	logOutput := buf.String()
	if !strings.Contains(logOutput, "panic recovered") {
		t.Errorf("expected log to contain %q, got %q", "panic recovered", logOutput)
	}
	if !strings.Contains(logOutput, "boom in handler") {
		t.Errorf("expected log to contain the panic value, got %q", logOutput)
	}
	if !strings.Contains(logOutput, "req-panic-42") {
		t.Errorf("expected log to carry the request id, got %q", logOutput)
	}
}
