package handlers

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Paths served by the ops server.
const (
	HealthPath  = "/healthz"
	MetricsPath = "/metrics"
)

// Dependencies aggregates collaborators required by the ops handlers.
type Dependencies struct {
	Checks  map[string]Checker
	Metrics http.Handler
	Limiter RateLimiter
}

// RegisterRoutes wires the ops handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{Checks: deps.Checks}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}

	mux.Handle(HealthPath, limited(deps.Limiter, "health", http.HandlerFunc(health.Handle)))
	mux.Handle(MetricsPath, limited(deps.Limiter, "metrics", metrics))
}
