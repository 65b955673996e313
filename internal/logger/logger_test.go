package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNew_DefaultsToInfoLevel(t *testing.T) {
	log := New()

	if log == nil {
		t.Fatal("expected logger to be created")
	}
	if log.GetLevel() != slog.LevelInfo {
		t.Errorf("expected info level, got %v", log.GetLevel())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo}, // Default
		{"", slog.LevelInfo},        // Default
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSlogLogger_ImplementsInterface(t *testing.T) {
	var _ Logger = (*SlogLogger)(nil)
}

func TestSlogLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOptions(Options{Level: slog.LevelWarn, Output: &buf})

	log.Info("hidden message")
	log.Warn("visible message", "event_id", "e1")

	out := buf.String()
	if strings.Contains(out, "hidden message") {
		t.Error("info should be filtered at warn level")
	}
	if !strings.Contains(out, "visible message") || !strings.Contains(out, "event_id=e1") {
		t.Errorf("expected warn line with attrs, got %q", out)
	}

	log.SetLevel(slog.LevelDebug)
	log.Debug("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Error("expected debug output after SetLevel")
	}
}

func TestSlogLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOptions(Options{Level: slog.LevelInfo, Format: "json", Output: &buf})

	log.Info("xp awarded", "users", 3)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected JSON line, got %q: %v", buf.String(), err)
	}
	if line["msg"] != "xp awarded" {
		t.Errorf("unexpected msg %v", line["msg"])
	}
	if line["users"] != float64(3) {
		t.Errorf("unexpected users attr %v", line["users"])
	}
}

func TestSlogLogger_WithSharesLevelAndHTTPSwitch(t *testing.T) {
	var buf bytes.Buffer
	parent := NewWithOptions(Options{Level: slog.LevelInfo, Output: &buf})
	child := parent.With("component", "rewards")

	child.Info("pass started")
	if !strings.Contains(buf.String(), "component=rewards") {
		t.Errorf("expected child attrs, got %q", buf.String())
	}

	parent.SetLevel(slog.LevelError)
	if child.GetLevel() != slog.LevelError {
		t.Error("child should observe parent level changes")
	}

	parent.EnableHTTPLogging()
	if !child.IsHTTPLoggingEnabled() {
		t.Error("child should observe parent HTTP logging switch")
	}
}

func TestSlogLogger_HTTPLoggingToggle(t *testing.T) {
	log := New()

	if log.IsHTTPLoggingEnabled() {
		t.Error("HTTP logging should start disabled")
	}
	log.EnableHTTPLogging()
	if !log.IsHTTPLoggingEnabled() {
		t.Error("expected enabled")
	}
	log.DisableHTTPLogging()
	if log.IsHTTPLoggingEnabled() {
		t.Error("expected disabled")
	}
}

func TestDiscard_WritesNothing(t *testing.T) {
	log := Discard()
	log.Error("should vanish")
	if log.GetLevel() <= slog.LevelError {
		t.Error("discard logger should sit above error level")
	}
}
