package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/roundcast/backend/internal/logging"
)

// HealthHandler reports the status of the bot's dependencies.
type HealthHandler struct {
	Checks  map[string]Checker
	Timeout time.Duration
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handle implements GET /healthz. Any failing check turns the response into a 503.
func (h HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	names := make([]string, 0, len(h.Checks))
	for name := range h.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	payload := healthResponse{Status: "ok"}
	status := http.StatusOK
	for _, name := range names {
		if payload.Checks == nil {
			payload.Checks = make(map[string]string, len(names))
		}
		if err := h.Checks[name].Check(ctx); err != nil {
			logging.FromContext(ctx).Warn("health check failed", "check", name, "error", err)
			payload.Checks[name] = err.Error()
			payload.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		payload.Checks[name] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
