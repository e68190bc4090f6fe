package rest

import (
	"context"
	"net/http"
	"time"
)

// pingTimeout bounds every health-check database round trip.
const pingTimeout = 3 * time.Second

// dbPinger is the slice of pgxpool.Pool the health checks need.
type dbPinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the probe endpoints. They are mounted outside the
// auth chain: orchestrators and load balancers call them without tokens.
type HealthHandler struct {
	db      dbPinger
	version string
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(db dbPinger, version string) *HealthHandler {
	return &HealthHandler{db: db, version: version}
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]componentStatus `json:"components,omitempty"`
	Timestamp  time.Time                  `json:"timestamp"`
}

type componentStatus struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
}

// Live handles GET /health/live. It answers 200 as long as the process
// serves requests at all.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
	})
}

// Ready handles GET /health/ready. Every flow in this service starts with a
// database write, so readiness is a DB ping: answering 503 makes the load
// balancer hold traffic back, and the platform redelivers webhooks it could
// not hand over.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if _, err := h.pingDB(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status:    "down",
			Timestamp: time.Now(),
		})
		return
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
	})
}

// Health handles GET /health: the full report with build version and
// per-component latency.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]componentStatus)
	healthy := true

	latency, err := h.pingDB(r.Context())
	if err != nil {
		components["database"] = componentStatus{Status: "down"}
		healthy = false
	} else {
		components["database"] = componentStatus{
			Status:  "ok",
			Latency: latency.String(),
		}
	}

	status := http.StatusOK
	overall := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "down"
	}

	writeJSON(w, status, healthResponse{
		Status:     overall,
		Version:    h.version,
		Components: components,
		Timestamp:  time.Now(),
	})
}

func (h *HealthHandler) pingDB(ctx context.Context) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	start := time.Now()
	err := h.db.Ping(ctx)
	return time.Since(start), err
}
