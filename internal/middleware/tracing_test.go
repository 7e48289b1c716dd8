package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracing_CreatesSpan(t *testing.T) {
	// Create a test tracer with a span recorder
	spanRecorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder))
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	handler := Tracing("trendfeed-test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/feeds/trending", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	spans := spanRecorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	span := spans[0]
	expectedSpanName := "GET /feeds/trending"
	if span.Name() != expectedSpanName {
		t.Errorf("expected span name %q, got %q", expectedSpanName, span.Name())
	}

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
}

func TestTracing_PropagatesContext(t *testing.T) {
	spanRecorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder))
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	var capturedTraceID string
	var capturedSpanID string

	handler := Tracing("trendfeed-test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedTraceID = GetTraceID(r)
		capturedSpanID = GetSpanID(r)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/internal/snapshots/run", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if capturedTraceID == "" {
		t.Error("expected non-empty trace ID")
	}
	if capturedSpanID == "" {
		t.Error("expected non-empty span ID")
	}

	spans := spanRecorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	span := spans[0]
	if span.SpanContext().TraceID().String() != capturedTraceID {
		t.Errorf("trace ID mismatch: expected %s, got %s",
			span.SpanContext().TraceID().String(), capturedTraceID)
	}
}

func TestGetTraceID_NoActiveSpan(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/feeds/trending", nil)
	if id := GetTraceID(req); id != "" {
		t.Errorf("expected empty trace ID without an active span, got %q", id)
	}
	if id := GetSpanID(req); id != "" {
		t.Errorf("expected empty span ID without an active span, got %q", id)
	}
}
