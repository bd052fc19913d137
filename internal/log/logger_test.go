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

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"DEBUG": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"Warn":  slog.LevelWarn,
		"ERROR": slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("%q expected %v, got %v (err=%v)", in, want, got, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("invalid json log line %q: %v", buf.String(), err)
	}
	buf.Reset()
	return rec
}

func TestLoggerComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelDebug, Format: "json", Component: ComponentLedger, Output: &buf})

	logger.Info("committed", FieldOwner, "u1")
	rec := decodeLine(t, &buf)
	if rec[FieldComponent] != ComponentLedger || rec[FieldOwner] != "u1" {
		t.Fatalf("unexpected record %v", rec)
	}

	logger.WithComponent(ComponentWorker).With(FieldMonthKey, "2025-06").Warn("drift")
	rec = decodeLine(t, &buf)
	if rec[FieldComponent] != ComponentWorker || rec[FieldMonthKey] != "2025-06" || rec["level"] != "WARN" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestRequestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	rl := NewRequestLogger(New(Config{Level: slog.LevelDebug, Format: "json", Output: &buf}))
	r := httptest.NewRequest(http.MethodGet, "/api/months", nil)
	r.Header.Set("X-Owner-ID", "u1")

	cases := []struct {
		status int
		level  string
	}{
		{200, "INFO"},
		{404, "WARN"},
		{503, "ERROR"},
	}
	for _, tc := range cases {
		rl.Finished(context.Background(), r, tc.status, 3, "127.0.0.1")
		rec := decodeLine(t, &buf)
		if rec["level"] != tc.level {
			t.Fatalf("status %d expected level %s, got %v", tc.status, tc.level, rec["level"])
		}
		if rec[FieldComponent] != ComponentHTTP || rec[FieldOwner] != "u1" {
			t.Fatalf("unexpected record %v", rec)
		}
	}
}

func TestFieldsWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelInfo, Format: "json", Output: &buf})

	fields := NewFields().WithOperation(OpAdd).WithError(errors.New("boom"), ErrorTypeDatabase)
	logger.Error("write failed", fields.ToSlice()...)
	rec := decodeLine(t, &buf)
	if rec[FieldError] != "boom" || rec[FieldErrorType] != ErrorTypeDatabase || rec[FieldOperation] != OpAdd {
		t.Fatalf("unexpected record %v", rec)
	}

	if got := NewFields().WithError(nil, ErrorTypeDatabase); len(got) != 0 {
		t.Fatalf("nil error should add nothing, got %v", got)
	}
}

func TestFromContext(t *testing.T) {
	logger := Discard().WithComponent(ComponentHTTP)
	ctx := NewContext(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Fatalf("expected logger from context")
	}
	if FromContext(context.Background()).Component() != "unknown" {
		t.Fatalf("expected fallback logger")
	}
}
