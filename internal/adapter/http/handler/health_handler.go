package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Check is a named readiness check.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	checks  []Check
	logger  zerolog.Logger
	timeout time.Duration
}

// NewHealthHandler creates a new HealthHandler. Checks run in order and
// the first failure marks the service unready. Ping errors are logged,
// never returned to the caller.
func NewHealthHandler(logger zerolog.Logger, checks ...Check) *HealthHandler {
	return &HealthHandler{checks: checks, logger: logger, timeout: 5 * time.Second}
}

// Liveness returns 200 if the service is alive.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness returns 200 if every dependency answers.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := map[string]string{"status": "ready"}
	for _, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			h.logger.Warn().Err(err).Str("check", check.Name).Msg("readiness check failed")
			writeError(w, http.StatusServiceUnavailable, check.Name+" unhealthy", "dependency unavailable")
			return
		}
		status[check.Name] = "ok"
	}

	writeJSON(w, http.StatusOK, status)
}
