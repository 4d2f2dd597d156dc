package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) Entry {
	t.Helper()
	var entry Entry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log %q: %v", buf.String(), err)
	}
	return entry
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := New(InfoLevel, "json", &buf)

	l.Debug("debug message")
	if buf.Len() > 0 {
		t.Error("debug message should not be logged at info level")
	}

	for name, logFn := range map[string]func(string, ...Fields){
		"info":  l.Info,
		"warn":  l.Warn,
		"error": l.Error,
	} {
		buf.Reset()
		logFn(name + " message")
		if buf.Len() == 0 {
			t.Errorf("%s message should be logged at info level", name)
		}
	}
}

func TestComponentLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(WarnLevel, "json", &buf)
	l.SetComponentLevel("ratelimit", DebugLevel)

	l.WithComponent("ratelimit").Debug("bucket incremented")
	if buf.Len() == 0 {
		t.Error("debug message should be logged for component with debug level")
	}

	buf.Reset()
	l.WithComponent("audit").Info("not logged")
	if buf.Len() != 0 {
		t.Error("info message should be suppressed for component on global warn level")
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(InfoLevel, "json", &buf)

	l.Info("check completed", Fields{
		"route": "ai.hints",
		"hits":  3,
	})

	entry := decodeEntry(t, &buf)
	if entry.Message != "check completed" {
		t.Errorf("expected message 'check completed', got %q", entry.Message)
	}
	if entry.Level != "INFO" {
		t.Errorf("expected level INFO, got %s", entry.Level)
	}
	if entry.Fields["route"] != "ai.hints" {
		t.Errorf("expected field route=ai.hints, got %v", entry.Fields["route"])
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(InfoLevel, "text", &buf)

	l.WithComponent("governor").Info("blocked", Fields{"route": "waitlist", "hits": 6})

	output := buf.String()
	for _, want := range []string{"INFO", "[governor]", "blocked", "hits=6 route=waitlist"} {
		if !strings.Contains(output, want) {
			t.Errorf("text output %q should contain %q", output, want)
		}
	}
}

func TestSanitization(t *testing.T) {
	var buf bytes.Buffer
	l := New(InfoLevel, "json", &buf)

	if err := l.SetSanitizePatterns([]string{"(?i)password", "(?i)token"}); err != nil {
		t.Fatalf("failed to set sanitize patterns: %v", err)
	}

	l.Info("identity resolved", Fields{
		"session_token": "abc123def456",
		"password":      "pw",
		"user_id":       "42",
	})

	entry := decodeEntry(t, &buf)
	if entry.Fields["session_token"] != "***f456" {
		t.Errorf("expected token to be redacted, got %v", entry.Fields["session_token"])
	}
	if entry.Fields["password"] != "***" {
		t.Errorf("expected short value to be fully redacted, got %v", entry.Fields["password"])
	}
	if entry.Fields["user_id"] != "42" {
		t.Errorf("user_id should not be sanitized, got %v", entry.Fields["user_id"])
	}
}

func TestSetSanitizePatterns_Invalid(t *testing.T) {
	l := New(InfoLevel, "json", &bytes.Buffer{})
	if err := l.SetSanitizePatterns([]string{"("}); err == nil {
		t.Error("expected error for invalid pattern")
	}
}

func TestCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	l := New(InfoLevel, "json", &buf)

	l.WithComponent("test").WithCorrelationID("corr-123").Info("test message")

	entry := decodeEntry(t, &buf)
	if entry.CorrelationID != "corr-123" {
		t.Errorf("expected correlation ID corr-123, got %s", entry.CorrelationID)
	}
	if entry.Component != "test" {
		t.Errorf("expected component test, got %s", entry.Component)
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	Init(InfoLevel, "json", &buf)

	ctx := WithCorrelationID(context.Background(), "ctx-123")
	FromContext(ctx, "test-component").Info("test message")

	entry := decodeEntry(t, &buf)
	if entry.CorrelationID != "ctx-123" {
		t.Errorf("expected correlation ID ctx-123, got %s", entry.CorrelationID)
	}
	if entry.Component != "test-component" {
		t.Errorf("expected component test-component, got %s", entry.Component)
	}
}

func TestGenerateCorrelationID(t *testing.T) {
	a, b := GenerateCorrelationID(), GenerateCorrelationID()
	if a == b {
		t.Error("expected distinct correlation IDs")
	}
	if len(a) != 36 {
		t.Errorf("expected UUID formatted ID, got %q", a)
	}
	if len(GenerateShortID()) != 16 {
		t.Error("expected 16 character short ID")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
		wantErr  bool
	}{
		{"debug", DebugLevel, false},
		{"DEBUG", DebugLevel, false},
		{"info", InfoLevel, false},
		{"warning", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"fatal", FatalLevel, false},
		{"invalid", InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := ParseLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseLevel(%s) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && level != tt.expected {
				t.Errorf("ParseLevel(%s) = %v, want %v", tt.input, level, tt.expected)
			}
		})
	}
}

func TestMergeFields(t *testing.T) {
	result := mergeFields(Fields{"a": 1, "b": 2}, Fields{"b": 5})
	if result["a"] != 1 || result["b"] != 5 {
		t.Errorf("unexpected merge result: %v", result)
	}
	if mergeFields() != nil {
		t.Error("expected nil for no fields")
	}
}
