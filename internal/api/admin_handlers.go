package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/onnwee/trendfeed/internal/middleware"
)

// SnapshotRunner triggers one snapshot batch. The boolean result reports
// whether the batch ran (false means another holder owned the batch lock).
type SnapshotRunner interface {
	RunOnce(ctx context.Context) (bool, error)
}

// CacheInvalidator clears a post's cached engagement score.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, postID string) error
}

// AdminHandlers provides internal operational endpoints. These are expected
// to be reachable only from inside the deployment.
type AdminHandlers struct {
	runner      SnapshotRunner
	invalidator CacheInvalidator
}

// NewAdminHandlers creates the internal operational handlers.
func NewAdminHandlers(runner SnapshotRunner, invalidator CacheInvalidator) *AdminHandlers {
	return &AdminHandlers{runner: runner, invalidator: invalidator}
}

// SnapshotRunResponse is the response body for a manual snapshot trigger.
type SnapshotRunResponse struct {
	Ran bool `json:"ran"`
}

// RunSnapshot handles POST /internal/snapshots/run - a manual, idempotent
// snapshot batch trigger. When another run holds the batch lock, the request
// succeeds with ran=false instead of queueing a second batch.
func (h *AdminHandlers) RunSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	ran, err := h.runner.RunOnce(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "manual snapshot batch failed", "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Snapshot batch failed")
		return
	}

	WriteJSON(w, http.StatusOK, SnapshotRunResponse{Ran: ran})
}

// InvalidatePostScore handles POST /internal/posts/{id}/invalidate - the
// write-path hook that clears a post's cached score after an engagement
// mutation committed elsewhere.
func (h *AdminHandlers) InvalidatePostScore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/internal/posts/"), "/")
	if len(pathParts) < 2 || pathParts[0] == "" || pathParts[1] != "invalidate" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Post ID is required")
		return
	}
	postID := pathParts[0]

	if err := h.invalidator.Invalidate(r.Context(), postID); err != nil {
		slog.ErrorContext(r.Context(), "failed to invalidate score cache", "error", err, "post_id", postID)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to invalidate score cache")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
