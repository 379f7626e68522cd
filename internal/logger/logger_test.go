package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Writer: &buf, Level: slog.LevelInfo})
	log.Info("chunk translated", "chapter", 2)

	out := buf.String()
	if !strings.Contains(out, "msg=\"chunk translated\"") || !strings.Contains(out, "chapter=2") {
		t.Errorf("unexpected text output %q", out)
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Writer: &buf, Format: FormatJSON, Level: slog.LevelInfo})
	log.Info("test message")

	if !strings.Contains(buf.String(), `"msg":"test message"`) || !strings.Contains(buf.String(), `"level":"INFO"`) {
		t.Errorf("unexpected json output %q", buf.String())
	}
}

func TestNew_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Writer: &buf, Level: slog.LevelWarn})
	log.Info("hidden")
	log.Warn("shown")

	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("level filter not applied: %q", buf.String())
	}
}

func TestNew_File(t *testing.T) {
	var console, file bytes.Buffer
	log := New(Config{Writer: &console, File: &file, Level: slog.LevelInfo}).With("component", "pipeline")
	log.Info("chapter written")

	if !strings.Contains(console.String(), "component=pipeline") {
		t.Errorf("console missing attrs: %q", console.String())
	}
	if !strings.Contains(file.String(), `"component":"pipeline"`) || !strings.Contains(file.String(), `"msg":"chapter written"`) {
		t.Errorf("file missing record: %q", file.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"nonsense", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
