package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealth_Healthy(t *testing.T) {
	h := NewHealthHandlers(nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()

	h.Health(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("expected status healthy, got %s", resp.Status)
	}
	if resp.Checks["runtime"] != "ok" {
		t.Errorf("expected runtime check ok, got %s", resp.Checks["runtime"])
	}
	if resp.Timestamp == "" {
		t.Error("expected non-empty timestamp")
	}
}

func TestHealth_MethodNotAllowed(t *testing.T) {
	h := NewHealthHandlers(nil)

	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	rr := httptest.NewRecorder()

	h.Health(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", rr.Code)
	}
}

func TestReady_DatabaseOK(t *testing.T) {
	checker := HealthCheckerFunc(func(ctx context.Context) error {
		return nil
	})
	h := NewHealthHandlers(checker)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rr := httptest.NewRecorder()

	h.Ready(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ready" {
		t.Errorf("expected status ready, got %s", resp.Status)
	}
	if resp.Checks["database"] != "ok" {
		t.Errorf("expected database check ok, got %s", resp.Checks["database"])
	}
}

func TestReady_DatabaseDown(t *testing.T) {
	checker := HealthCheckerFunc(func(ctx context.Context) error {
		return errors.New("connection refused")
	})
	h := NewHealthHandlers(checker)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rr := httptest.NewRecorder()

	h.Ready(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "unavailable" {
		t.Errorf("expected status unavailable, got %s", resp.Status)
	}
	if resp.Checks["database"] != "connection refused" {
		t.Errorf("expected database check to carry the error, got %s", resp.Checks["database"])
	}
}

func TestReady_NoCheckerConfigured(t *testing.T) {
	h := NewHealthHandlers(nil)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rr := httptest.NewRecorder()

	h.Ready(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200 without a database checker, got %d", rr.Code)
	}
}

func TestWriteError_Envelope(t *testing.T) {
	rr := httptest.NewRecorder()
	ctx := context.Background()

	WriteError(rr, ctx, http.StatusNotFound, ErrCodeNotFound, "Post not found")

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("unexpected content type %q", ct)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error.Code != ErrCodeNotFound {
		t.Errorf("expected code %s, got %s", ErrCodeNotFound, resp.Error.Code)
	}
	if resp.Error.Message != "Post not found" {
		t.Errorf("expected message 'Post not found', got %q", resp.Error.Message)
	}
}
