// Package notify fans operator alerts out to the configured sinks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type Level string

const (
	LevelInfo     Level = "info"
	LevelWarn     Level = "warn"
	LevelCritical Level = "critical"
)

// Alert is one operator notification.
type Alert struct {
	Level Level
	Title string
	Body  string
	At    time.Time
}

func (a Alert) String() string {
	if a.Body == "" {
		return fmt.Sprintf("[%s] %s", a.Level, a.Title)
	}
	return fmt.Sprintf("[%s] %s\n%s", a.Level, a.Title, a.Body)
}

// Sink delivers alerts to one destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, alert Alert) error
}

// Registry holds the sinks, keyed by name.
type Registry struct {
	mu    sync.RWMutex
	sinks map[string]Sink
}

func NewRegistry() *Registry {
	return &Registry{sinks: make(map[string]Sink)}
}

// Register adds a sink, replacing any sink with the same name.
func (r *Registry) Register(sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[sink.Name()] = sink
}

// Names returns the registered sink names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sinks))
	for n := range r.sinks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Notify sends the alert to every sink. A failing sink does not stop the
// others; all failures are returned joined.
func (r *Registry) Notify(ctx context.Context, alert Alert) error {
	if alert.At.IsZero() {
		alert.At = time.Now()
	}
	r.mu.RLock()
	sinks := make([]Sink, 0, len(r.sinks))
	for _, s := range r.sinks {
		sinks = append(sinks, s)
	}
	r.mu.RUnlock()

	var errs []error
	for _, s := range sinks {
		if err := s.Send(ctx, alert); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// LogSink writes alerts to the structured log.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Send(_ context.Context, a Alert) error {
	attrs := []any{"title", a.Title}
	if a.Body != "" {
		attrs = append(attrs, "body", a.Body)
	}
	switch a.Level {
	case LevelCritical:
		slog.Error("alert", attrs...)
	case LevelWarn:
		slog.Warn("alert", attrs...)
	default:
		slog.Info("alert", attrs...)
	}
	return nil
}
