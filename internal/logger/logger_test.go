package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"ERR", zerolog.ErrorLevel},
		{" Debug ", zerolog.DebugLevel},
		{"", zerolog.InfoLevel},
		{"something", zerolog.InfoLevel},
	}
	for _, c := range cases {
		if got := parseLevel(c.in); got != c.want {
			t.Fatalf("parseLevel(%q)=%v, want %v", c.in, got, c.want)
		}
	}
}

func TestInitAndL(t *testing.T) {
	Init("info", false)
	if L() == nil {
		t.Fatalf("L() returned nil")
	}

	Init("debug", true)
	if L().GetLevel() != zerolog.DebugLevel {
		t.Fatalf("expected debug level, got %v", L().GetLevel())
	}
}

func TestComponent_AddsField(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		Init("info", false)
	})
	Init("info", false)

	lg := Component("consumer")
	lg.Info().Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid json log line %q: %v", buf.String(), err)
	}
	if entry["component"] != "consumer" || entry["message"] != "hello" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

// Ensure L() never returns nil and initializes level if not set
func TestLoggerAccessor_NotNil(t *testing.T) {
	base = zerolog.Logger{}
	ready = false
	lg := L()
	if lg == nil {
		t.Fatalf("logger is nil")
	}
	if lg.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("logger level not initialized, got %v", lg.GetLevel())
	}
}
