package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"revoice/internal/services"
)

func TestConsoleHandlerIncludesComponentPrefix(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&buf, lvl, false))

	NewComponentLogger(logger, "workflow").Info("stage started", String("stage", "separation"))

	out := buf.String()
	if !strings.Contains(out, "workflow: stage started") {
		t.Fatalf("component prefix missing: %q", out)
	}
	if !strings.Contains(out, "stage=separation") {
		t.Fatalf("attr missing: %q", out)
	}
}

func TestConsoleHandlerQuotesValuesWithSpaces(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&buf, lvl, false))

	logger.Error("stage failed", String("error_message", "demucs exited with status 1"))

	if !strings.Contains(buf.String(), `error_message="demucs exited with status 1"`) {
		t.Fatalf("value not quoted: %q", buf.String())
	}
}

func TestWithContextAddsSessionFields(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&buf, lvl, false))

	ctx := services.WithSessionID(context.Background(), "abc123")
	ctx = services.WithStage(ctx, "conversion")

	WithContext(ctx, logger).Info("hello")

	out := buf.String()
	if !strings.Contains(out, "session_id=abc123") || !strings.Contains(out, "stage=conversion") {
		t.Fatalf("context fields missing: %q", out)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}
