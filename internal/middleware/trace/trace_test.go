package trace

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"moneybook/internal/log"
)

func TestMiddlewareAssignsRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(log.Config{Level: slog.LevelDebug, JSON: true, Output: &buf})
	m := NewMiddleware(func(*http.Request) string { return "192.0.2.1" }, logger)

	var seen string
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		if log.FromContext(r.Context()).Component() != log.ComponentHTTP {
			t.Error("request logger missing from context")
		}
		w.WriteHeader(http.StatusNotFound)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nothing", nil))

	if !strings.HasPrefix(seen, "req_") {
		t.Fatalf("request id = %q", seen)
	}
	if rec.Header().Get(HeaderRequestID) != seen {
		t.Errorf("response header = %q, want %q", rec.Header().Get(HeaderRequestID), seen)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected start and end lines, got %d", len(lines))
	}
	var end map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &end); err != nil {
		t.Fatal(err)
	}
	if end["level"] != "WARN" || end[log.FieldStatusCode] != float64(404) || end[log.FieldClientIP] != "192.0.2.1" {
		t.Errorf("unexpected completion line %v", end)
	}

	if got := m.GetMetrics().TotalRequests; got != 1 {
		t.Errorf("TotalRequests = %d", got)
	}
}

func TestMiddlewareKeepsIncomingRequestID(t *testing.T) {
	m := NewMiddleware(nil, log.New(log.Config{Output: &bytes.Buffer{}}))
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	r.Header.Set(HeaderRequestID, "upstream-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	if rec.Header().Get(HeaderRequestID) != "upstream-1" {
		t.Errorf("request id = %q", rec.Header().Get(HeaderRequestID))
	}
}
