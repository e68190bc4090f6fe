package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Buckets for addresses idle longer than this are dropped by the prune loop.
const visitorIdleAfter = 10 * time.Minute

// RateLimiter applies a token-bucket limit per remote address. It guards the
// webhook endpoint, which is the one surface without bearer-token auth: after
// an outage the platform replays its backlog in a burst, and the limiter
// bounds how much of that reaches signature verification and the event
// ledger at once.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	stop     chan struct{}
}

type visitor struct {
	tokens     float64
	lastRefill time.Time
}

// NewRateLimiter starts a limiter whose prune loop wakes every
// cleanupInterval to evict idle buckets. Call Stop on shutdown.
func NewRateLimiter(cleanupInterval time.Duration) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		stop:     make(chan struct{}),
	}
	go rl.prune(cleanupInterval)
	return rl
}

// Stop ends the prune loop.
func (rl *RateLimiter) Stop() {
	close(rl.stop)
}

// Limit caps requests per remote address at maxPerMinute. A fresh address
// gets a full bucket, so a burst up to maxPerMinute passes before refill
// pacing takes over. Rejected requests get a 429 with Retry-After set to
// the time one token takes to come back.
func (rl *RateLimiter) Limit(maxPerMinute int) Middleware {
	capacity := float64(maxPerMinute)
	perSecond := capacity / 60
	retryAfter := strconv.Itoa(int(math.Ceil(1 / perSecond)))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.allow(r.RemoteAddr, capacity, perSecond) {
				w.Header().Set("Retry-After", retryAfter)
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) allow(key string, capacity, perSecond float64) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{tokens: capacity, lastRefill: now}
		rl.visitors[key] = v
	}

	v.tokens += now.Sub(v.lastRefill).Seconds() * perSecond
	if v.tokens > capacity {
		v.tokens = capacity
	}
	v.lastRefill = now

	if v.tokens < 1 {
		return false
	}
	v.tokens--
	return true
}

func (rl *RateLimiter) prune(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-visitorIdleAfter)
			rl.mu.Lock()
			for key, v := range rl.visitors {
				if v.lastRefill.Before(cutoff) {
					delete(rl.visitors, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}
