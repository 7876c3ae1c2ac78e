package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestConsoleHandler_WritesAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewConsoleHandler(&buf, slog.LevelInfo))

	log.Info("call initiated", "callId", "call_1", "callType", "video")

	out := buf.String()
	if !strings.Contains(out, "call initiated") {
		t.Errorf("message missing from output: %s", out)
	}
	if !strings.Contains(out, "callId=call_1") || !strings.Contains(out, "callType=video") {
		t.Errorf("attrs missing from output: %s", out)
	}
}

func TestConsoleHandler_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewConsoleHandler(&buf, slog.LevelWarn))

	log.Info("quiet")
	log.Warn("loud")

	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Errorf("info should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "loud") {
		t.Errorf("warn should pass: %s", out)
	}
}

func TestConsoleHandler_WithAttrsCarriesContext(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewConsoleHandler(&buf, slog.LevelInfo)).With("component", "hub")

	log.Info("started")

	if !strings.Contains(buf.String(), "component=hub") {
		t.Errorf("bound attrs missing: %s", buf.String())
	}
}
