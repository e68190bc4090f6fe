package middleware

import (
	"net/http"
	"strings"

	"github.com/heartmarshall/newsline-backend/pkg/ctxutil"
)

type tokenValidator interface {
	ValidateServiceToken(token string) (string, error)
}

// Auth requires a valid service bearer token on every request it wraps.
// The token subject (the calling service's name) is stored in the context.
// The webhook route is mounted outside this middleware: LINE authenticates
// with its own body signature, not with our tokens.
func Auth(validator tokenValidator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if token == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			caller, err := validator.ValidateServiceToken(token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := ctxutil.WithCaller(r.Context(), caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(auth, "Bearer ")
}
