package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	dec := json.NewDecoder(buf)
	for dec.More() {
		var m map[string]any
		if err := dec.Decode(&m); err != nil {
			t.Fatalf("decode log line: %v", err)
		}
		out = append(out, m)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoggerAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelDebug, Component: ComponentAuth, JSON: true, Output: &buf})

	logger.Info("hello", FieldUserID, "u1")
	logger.WithComponent(ComponentLedger).Warn("careful")

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0][FieldComponent] != ComponentAuth || lines[0][FieldUserID] != "u1" {
		t.Errorf("unexpected first line: %v", lines[0])
	}
	if lines[1][FieldComponent] != ComponentLedger {
		t.Errorf("unexpected second line: %v", lines[1])
	}
}

func TestStructuredLoggerHTTPEndLevels(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{200, "INFO"},
		{404, "WARN"},
		{503, "ERROR"},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		sl := NewStructuredLogger(New(Config{Component: ComponentHTTP, JSON: true, Output: &buf}))
		r := httptest.NewRequest(http.MethodGet, "/api/account/load", nil)

		sl.LogHTTPEnd(context.Background(), r, tt.status, 12, "req-1", "10.0.0.1")

		lines := decodeLines(t, &buf)
		if len(lines) != 1 {
			t.Fatalf("expected 1 line, got %d", len(lines))
		}
		if lines[0]["level"] != tt.level {
			t.Errorf("status %d logged at %v, want %s", tt.status, lines[0]["level"], tt.level)
		}
		if lines[0][FieldRequestID] != "req-1" {
			t.Errorf("missing request id: %v", lines[0])
		}
	}
}

func TestStructuredLoggerLogError(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(New(Config{Component: ComponentStorage, JSON: true, Output: &buf}))

	sl.LogError(context.Background(), "write failed", errors.New("disk full"), ErrorTypeDatabase, OpCreate, nil)

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if lines[0][FieldError] != "disk full" || lines[0][FieldErrorType] != ErrorTypeDatabase {
		t.Errorf("unexpected line: %v", lines[0])
	}
}

func TestNewContextAndFromContext(t *testing.T) {
	logger := New(Config{Component: ComponentHTTP, JSON: true, Output: &bytes.Buffer{}})

	got := FromContext(NewContext(context.Background(), logger.With(FieldRequestID, "abc")))
	if got.Component() != ComponentHTTP {
		t.Fatalf("logger not propagated: %+v", got)
	}
	if FromContext(context.Background()).Component() != "unknown" {
		t.Fatal("expected fallback logger")
	}
}
