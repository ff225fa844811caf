// Package logging builds the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
)

// ParseLevel maps a config level name to a slog level. Unknown names are info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New returns a logger writing to w in the given format: "json", "pretty",
// or anything else for slog's text handler. Pretty output is colored only
// when w is a terminal.
func New(w io.Writer, level, format string) *slog.Logger {
	lvl := ParseLevel(level)
	var h slog.Handler
	switch strings.ToLower(format) {
	case "json":
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	case "pretty":
		h = NewPrettyHandler(w, &PrettyOptions{Level: lvl, Color: isTerminal(w)})
	default:
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})
	}
	return slog.New(h)
}

// Setup installs a stderr logger as the slog default.
func Setup(level, format string) *slog.Logger {
	logger := New(os.Stderr, level, format)
	slog.SetDefault(logger)
	return logger
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
