package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewFormats(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("info", FormatAuto, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("hello", "userId", 7)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON for a non-terminal writer, got %q", buf.String())
	}
	if entry["msg"] != "hello" || entry["userId"] != float64(7) {
		t.Fatalf("unexpected entry %v", entry)
	}

	buf.Reset()
	logger, err = New("debug", FormatText, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Debug("details")
	if !strings.Contains(buf.String(), "msg=details") {
		t.Fatalf("expected text output, got %q", buf.String())
	}
}

func TestNewRejectsUnknownSettings(t *testing.T) {
	if _, err := New("loud", FormatJSON, nil); err == nil {
		t.Fatal("expected an error for an unknown level")
	}
	if _, err := New("info", "xml", nil); err == nil {
		t.Fatal("expected an error for an unknown format")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for raw, want := range tests {
		got, err := ParseLevel(raw)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v", raw, got, err)
		}
	}
}

func TestStartSpanNestsUnderTrace(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), slog.New(slog.NewJSONHandler(&buf, nil)))

	ctx, parent := StartSpan(ctx, "bot.update")
	traceID := TraceIDFromContext(ctx)
	parentID := SpanIDFromContext(ctx)
	if traceID == "" || parentID == "" {
		t.Fatal("expected trace and span ids")
	}

	child, span := StartSpan(ctx, "session.apply")
	if TraceIDFromContext(child) != traceID {
		t.Fatal("expected the child to share the trace")
	}
	span.End()
	parent.End()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two span entries, got %d", len(lines))
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["parent_span_id"] != parentID || entry["span_name"] != "session.apply" {
		t.Fatalf("unexpected child span entry %v", entry)
	}
}

func TestWithUserIDTagsLogger(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), slog.New(slog.NewTextHandler(&buf, nil)))
	ctx = WithUserID(ctx, 42)

	if WithUserID(ctx, 0) != ctx {
		t.Fatal("expected a zero user id to leave the context alone")
	}
	FromContext(ctx).Info("event")
	if !strings.Contains(buf.String(), "userId=42") {
		t.Fatalf("expected the logger to carry the user id, got %q", buf.String())
	}
}
