package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ultimate-mcp/mcpd/internal/port/outbound"
)

// HealthResponse is the JSON response from GET /health.
type HealthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// HealthChecker verifies component health for GET /health's "service +
// database liveness" contract (§6). The graph store is the one external
// dependency the service cannot serve traffic without; everything else
// degrades gracefully.
type HealthChecker struct {
	graph   outbound.GraphClient
	timeout time.Duration
	version string
}

// NewHealthChecker creates a HealthChecker. timeout bounds how long the
// graph liveness probe is allowed to run before the check is reported
// unhealthy rather than hanging the endpoint.
func NewHealthChecker(graph outbound.GraphClient, timeout time.Duration, version string) *HealthChecker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthChecker{graph: graph, timeout: timeout, version: version}
}

// Check performs the liveness probe.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.graph != nil {
		probeCtx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()
		if h.graph.Health(probeCtx) {
			checks["graph"] = "ok"
		} else {
			checks["graph"] = "unreachable"
			healthy = false
		}
	} else {
		checks["graph"] = "not configured"
	}

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	return HealthResponse{Status: status, Checks: checks, Version: h.version}
}

// Handler returns an HTTP handler for GET /health.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(health)
	})
}
