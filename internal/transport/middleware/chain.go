package middleware

import "net/http"

// Middleware wraps an http.Handler with cross-cutting behavior.
type Middleware func(http.Handler) http.Handler

// Chain folds middleware into one. The first argument becomes the outermost
// wrapper, so requests pass through the list left to right. The server builds
// two stacks this way: the public webhook stack ending in the rate limiter,
// and the service API stack ending in bearer-token auth.
func Chain(mws ...Middleware) Middleware {
	return func(h http.Handler) http.Handler {
		wrapped := h
		for i := len(mws) - 1; i >= 0; i-- {
			wrapped = mws[i](wrapped)
		}
		return wrapped
	}
}
