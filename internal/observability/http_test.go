package observability

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/duckask/duckask/internal/config"
)

func TestTraceMiddlewarePreservesIncomingTraceID(t *testing.T) {
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := TraceIDFromContext(r.Context()); got != "trace-1" {
			t.Fatalf("TraceIDFromContext() = %q", got)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set(traceHeader, "trace-1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get(traceHeader); got != "trace-1" {
		t.Fatalf("trace header = %q", got)
	}
}

func TestTraceMiddlewareGeneratesTraceID(t *testing.T) {
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if TraceIDFromContext(r.Context()) == "" {
			t.Fatal("expected generated trace id")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Header().Get(traceHeader) == "" {
		t.Fatal("expected X-Trace-ID header")
	}
}

func TestTraceIDContextHelpers(t *testing.T) {
	ctx := ContextWithTraceID(context.Background(), "abc123")
	if got := TraceIDFromContext(ctx); got != "abc123" {
		t.Fatalf("TraceIDFromContext() = %q", got)
	}
}

func TestLoggingMiddlewareDoesNotPanic(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	h := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
}

func TestMetricsMiddlewareLabelsByPattern(t *testing.T) {
	mux := http.NewServeMux()
	var seen string
	mux.HandleFunc("GET /v1/datasets/{id}", func(w http.ResponseWriter, r *http.Request) {
		seen = routeLabel(r)
		w.WriteHeader(http.StatusOK)
	})
	h := MetricsMiddleware(mux)
	req := httptest.NewRequest(http.MethodGet, "/v1/datasets/abc", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "GET /v1/datasets/{id}" {
		t.Fatalf("routeLabel() = %q", seen)
	}
	if got := routeLabel(httptest.NewRequest(http.MethodGet, "/nope", nil)); got != "unmatched" {
		t.Fatalf("routeLabel() = %q", got)
	}
}

func TestNewLoggerTextOmitsEmptyStrings(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Config{
		Profile:       config.ProfileTest,
		Service:       config.ServiceConfig{Name: "duckask-api"},
		Observability: config.ObservabilityConfig{LogLevel: slog.LevelInfo},
	}
	NewLogger(cfg, &buf).Info("loaded", slog.String("empty", ""), slog.Int("rows", 3))

	out := buf.String()
	if !strings.Contains(out, "loaded") || !strings.Contains(out, "rows=3") {
		t.Fatalf("log output = %q", out)
	}
	if strings.Contains(out, "empty=") {
		t.Fatalf("empty attribute should be dropped: %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("non-console writer should not be colored: %q", out)
	}
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Config{
		Service:       config.ServiceConfig{Name: "duckask-api"},
		Observability: config.ObservabilityConfig{LogLevel: slog.LevelInfo, LogJSON: true},
	}
	NewLogger(cfg, &buf).Info("ready")
	if !strings.Contains(buf.String(), `"service":"duckask-api"`) {
		t.Fatalf("json output = %q", buf.String())
	}
}

func TestInitSentryWithoutDSNIsNoop(t *testing.T) {
	flush, err := InitSentry(config.Config{})
	if err != nil {
		t.Fatalf("InitSentry() error = %v", err)
	}
	flush()
}
