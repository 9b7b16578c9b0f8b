package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sales-insight/internal/config"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLoggerTo_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, config.LoggerConfig{Level: "info", Format: "json"})

	logger.Debug("hidden")
	logger.Info("visible", "key", "value")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1:\n%s", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["msg"] != "visible" || entry["key"] != "value" || entry["service"] != "sales-insight" {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestLoggerFrom(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, config.LoggerConfig{Level: "info", Format: "text"})

	ctx := WithRunID(WithRequestID(context.Background(), "req-1"), "run-1")
	LoggerFrom(ctx, logger).Info("hello")

	out := buf.String()
	if !strings.Contains(out, "run_id=run-1") || !strings.Contains(out, "request_id=req-1") {
		t.Errorf("ids missing from %q", out)
	}
}

func TestSpan_Nesting(t *testing.T) {
	ctx, parent := StartSpan(context.Background(), "pipeline.run")
	_, child := StartSpan(ctx, "source.fetch")

	if child.TraceID != parent.TraceID {
		t.Errorf("child trace %s, parent trace %s", child.TraceID, parent.TraceID)
	}
	if child.ParentID != parent.SpanID {
		t.Errorf("child parent id = %s, want %s", child.ParentID, parent.SpanID)
	}
	if GetSpan(ctx) != parent {
		t.Error("GetSpan did not return the parent span")
	}
}

func TestSpan_End(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, config.LoggerConfig{Level: "info", Format: "json"})

	_, span := StartSpan(context.Background(), "pipeline.run")
	span.SetTag("outcome", "failed")
	span.SetError(errors.New("source down"))
	span.End(logger)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("span log is not JSON: %v", err)
	}
	if entry["level"] != "ERROR" || entry["error"] != "source down" || entry["outcome"] != "failed" {
		t.Errorf("unexpected span entry %v", entry)
	}
	if span.Status != SpanStatusError {
		t.Errorf("status = %s", span.Status)
	}
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()
	m.RunFinished("SUCCEEDED", 2*time.Second, 3, true, time.Unix(1700000000, 0))
	m.RunFinished("FAILED", time.Second, 0, false, time.Unix(1700000100, 0))
	m.TickSkipped()
	m.ObserveHTTP("/api/snapshot", 200, 10*time.Millisecond)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	body := w.Body.String()

	for _, want := range []string{
		`insights_runs_total{outcome="SUCCEEDED"} 1`,
		`insights_runs_total{outcome="FAILED"} 1`,
		`insights_last_success_timestamp_seconds 1.7e+09`,
		`insights_last_record_count 3`,
		`insights_skipped_ticks_total 1`,
		`insights_narrative_fallback_total 1`,
		`http_requests_total{route="/api/snapshot",status="200"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.RunFinished("SUCCEEDED", time.Second, 1, false, time.Now())
	m.TickSkipped()
	m.ObserveHTTP("/", 200, time.Millisecond)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != 404 {
		t.Errorf("nil metrics handler status = %d, want 404", w.Code)
	}
}
