package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	base  zerolog.Logger
	ready bool
	out   io.Writer = os.Stdout
)

// Init configures the global JSON logger.
//
// Parameters:
//   - level: debug|info|warn|error (anything else falls back to info)
//   - pretty: human-readable console output instead of JSON
func Init(level string, pretty bool) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	w := out
	if pretty {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	base = zerolog.New(w).With().Timestamp().Logger().Level(parseLevel(level))
	ready = true
}

// L returns the global logger. Call Init() once on startup.
func L() *zerolog.Logger {
	if !ready {
		Init("info", false)
	}
	return &base
}

// Component returns a child logger tagged with the emitting component
// (e.g. "producer", "consumer", "broker").
func Component(name string) zerolog.Logger {
	return L().With().Str("component", name).Logger()
}

// SetOutput redirects log output; Init must be called again to take effect.
// A nil writer restores stdout.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	out = w
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error", "err":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
