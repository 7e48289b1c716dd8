package api

import (
	"context"
	"net/http"
	"time"

	"github.com/onnwee/trendfeed/internal/middleware"
)

// HealthChecker defines the interface for components that can be health checked.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheckerFunc adapts a function to the HealthChecker interface.
type HealthCheckerFunc func(ctx context.Context) error

// HealthCheck calls the wrapped function.
func (f HealthCheckerFunc) HealthCheck(ctx context.Context) error {
	return f(ctx)
}

// HealthHandlers provides health and readiness check endpoints.
type HealthHandlers struct {
	dbChecker HealthChecker
}

// NewHealthHandlers creates a new health check handler. The database checker
// is optional; when nil the readiness probe only checks the process.
func NewHealthHandlers(dbChecker HealthChecker) *HealthHandlers {
	return &HealthHandlers{dbChecker: dbChecker}
}

// HealthResponse represents the JSON response for health checks.
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Health handles GET /health (liveness probe).
// Returns 200 if the application is running and can serve requests.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	response := HealthResponse{
		Status:    "healthy",
		Checks:    map[string]string{"runtime": "ok"},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	WriteJSON(w, http.StatusOK, response)
}

// Ready handles GET /ready (readiness probe).
// Returns 200 only when the database answers a ping within the deadline.
func (h *HealthHandlers) Ready(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	response := HealthResponse{
		Status:    "ready",
		Checks:    map[string]string{},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK

	if h.dbChecker != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := h.dbChecker.HealthCheck(ctx); err != nil {
			response.Status = "unavailable"
			response.Checks["database"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			response.Checks["database"] = "ok"
		}
	}

	WriteJSON(w, status, response)
}
