package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/heartmarshall/newsline-backend/pkg/ctxutil"
)

// Logger emits one "http.request" line after the inner handler returns,
// carrying method, path, status, duration, and the request id, plus the
// resolved caller identity when an outer layer put one on the context.
// Status 5xx logs at error, everything else at info.
func Logger(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sc := &statusCapture{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sc, r)

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", sc.status),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", ctxutil.RequestIDFromCtx(r.Context())),
			}
			if caller, ok := ctxutil.CallerFromCtx(r.Context()); ok {
				attrs = append(attrs, slog.String("caller", caller))
			}

			level := slog.LevelInfo
			if sc.status >= 500 {
				level = slog.LevelError
			}
			logger.LogAttrs(r.Context(), level, "http.request", attrs...)
		})
	}
}

// statusCapture records the status a handler writes. Only the first
// WriteHeader counts, matching net/http semantics.
type statusCapture struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusCapture) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}
