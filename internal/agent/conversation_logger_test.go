package agent

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConversationLoggerWritesSessionTranscript(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewConversationLogger(ConversationLogConfig{
		Enabled:   true,
		Dir:       dir,
		QueueSize: 16,
	}, slog.Default())
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}

	logger.Log(ConversationLogEvent{
		UserID:     "anon-7",
		SessionID:  "interview-prep",
		Channel:    "chat_sse",
		Direction:  "inbound",
		EventType:  "chat_user_message",
		ContentRaw: "How should I prepare for Acme?",
	})
	logger.Log(ConversationLogEvent{
		UserID:     "anon-7",
		SessionID:  "interview-prep",
		Channel:    "chat_sse",
		Direction:  "outbound",
		EventType:  "chat_assistant_message",
		ContentRaw: "Start with system design.",
		Meta:       map[string]any{"stream_chunks": 1},
	})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	lines := readLines(t, filepath.Join(dir, "anon-7", "interview-prep.ndjson"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 events after Close drained the queue, got %d", len(lines))
	}

	var first, second ConversationLogEvent
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("failed to unmarshal first line: %v", err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("failed to unmarshal second line: %v", err)
	}
	if first.EventType != "chat_user_message" || second.EventType != "chat_assistant_message" {
		t.Fatalf("unexpected event order: %s, %s", first.EventType, second.EventType)
	}
	if first.Content != first.ContentRaw {
		t.Fatalf("expected readable content to mirror plain text, got %q", first.Content)
	}
	if _, err := time.Parse(time.RFC3339Nano, first.Timestamp); err != nil {
		t.Fatalf("expected RFC3339 timestamp, got %q: %v", first.Timestamp, err)
	}
}

func TestConversationLoggerGlobalFileOnly(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	globalPath := filepath.Join(dir, "nested", "all.ndjson")
	logger, err := NewConversationLogger(ConversationLogConfig{
		GlobalEnabled: true,
		GlobalPath:    globalPath,
	}, nil)
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}

	logger.Log(ConversationLogEvent{SessionID: "s1", EventType: "chat_tool_call", ContentRaw: `{"company":"Acme"}`})
	logger.Log(ConversationLogEvent{SessionID: "s2", EventType: "chat_user_message", ContentRaw: "hi"})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if lines := readLines(t, globalPath); len(lines) != 2 {
		t.Fatalf("expected 2 global events, got %d", len(lines))
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "nested" {
		t.Fatalf("expected no per-session directories, got %v", entries)
	}
}

func TestConversationLoggerDisabledIsNoop(t *testing.T) {
	t.Parallel()

	logger, err := NewConversationLogger(ConversationLogConfig{}, nil)
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}
	if _, ok := logger.(noopConversationLogger); !ok {
		t.Fatalf("expected noop logger, got %T", logger)
	}
	logger.Log(ConversationLogEvent{ContentRaw: "dropped"})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestConversationLoggerLogAfterCloseIsDropped(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewConversationLogger(ConversationLogConfig{Enabled: true, Dir: dir}, nil)
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	logger.Log(ConversationLogEvent{UserID: "u", SessionID: "s", ContentRaw: "late"})
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "u")); !os.IsNotExist(err) {
		t.Fatalf("expected no transcript for events logged after Close, stat err=%v", err)
	}
}

func TestSafePathSegment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "sess-1", want: "sess-1"},
		{in: "  padded  ", want: "padded"},
		{in: "", want: "fallback"},
		{in: "..", want: "fallback"},
		{in: "../etc", want: "fallback"},
		{in: `a\b`, want: "fallback"},
	}
	for _, tt := range tests {
		if got := safePathSegment(tt.in, "fallback"); got != tt.want {
			t.Fatalf("safePathSegment(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCleanForReadability(t *testing.T) {
	t.Parallel()

	raw := "\x1b[1mBold\x1b[0m answer\r\n\n\n\n\nnext\x07 line"
	got := cleanForReadability(raw)
	if got != "Bold answer\n\nnext line" {
		t.Fatalf("unexpected cleaned text: %q", got)
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}
