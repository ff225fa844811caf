package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiGray   = "\033[90m"
)

// Attributes rendered on their own indented lines below the record.
var blockKeys = map[string]bool{
	"text":    true,
	"caption": true,
}

type PrettyOptions struct {
	Level slog.Level
	Color bool
}

// PrettyHandler is a compact single-line handler for interactive use.
// Message text and captions are printed as indented blocks so long status
// bodies stay readable.
type PrettyHandler struct {
	w      io.Writer
	mu     *sync.Mutex
	level  slog.Level
	color  bool
	attrs  []slog.Attr
	prefix string
}

func NewPrettyHandler(w io.Writer, opts *PrettyOptions) *PrettyHandler {
	if opts == nil {
		opts = &PrettyOptions{}
	}
	return &PrettyHandler{w: w, mu: &sync.Mutex{}, level: opts.Level, color: opts.Color}
}

func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	var inline strings.Builder
	var blocks []string
	add := func(prefix string, a slog.Attr) {
		if a.Equal(slog.Attr{}) {
			return
		}
		key := prefix + a.Key
		if blockKeys[a.Key] {
			if s := a.Value.String(); s != "" {
				blocks = append(blocks, s)
			}
			return
		}
		if h.color {
			fmt.Fprintf(&inline, " %s%s%s=%s", ansiGray, key, ansiReset, a.Value.String())
		} else {
			fmt.Fprintf(&inline, " %s=%s", key, a.Value.String())
		}
	}
	for _, a := range h.attrs {
		add("", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		add(h.prefix, a)
		return true
	})

	var sb strings.Builder
	ts := r.Time.Format("15:04:05.000")
	lvl := levelLabel(r.Level)
	if h.color {
		fmt.Fprintf(&sb, "%s%s%s %s %s%s\n", ansiGray, ts, ansiReset, colorLevel(r.Level, lvl), r.Message, inline.String())
	} else {
		fmt.Fprintf(&sb, "%s %s %s%s\n", ts, lvl, r.Message, inline.String())
	}
	for _, text := range blocks {
		for _, line := range strings.Split(text, "\n") {
			if h.color {
				fmt.Fprintf(&sb, "    %s│%s %s\n", ansiGray, ansiReset, line)
			} else {
				fmt.Fprintf(&sb, "    | %s\n", line)
			}
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, sb.String())
	return err
}

func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		next.attrs = append(next.attrs, a)
	}
	return &next
}

func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERR"
	case level >= slog.LevelWarn:
		return "WRN"
	case level >= slog.LevelInfo:
		return "INF"
	default:
		return "DBG"
	}
}

func colorLevel(level slog.Level, label string) string {
	switch {
	case level >= slog.LevelError:
		return ansiRed + label + ansiReset
	case level >= slog.LevelWarn:
		return ansiYellow + label + ansiReset
	case level >= slog.LevelInfo:
		return ansiCyan + label + ansiReset
	default:
		return ansiGray + label + ansiReset
	}
}
