// Package logging builds the slog loggers used across docsql.
//
// Loggers carry a "component" attribute (registry, engine, pipeline, ...).
// Minimum levels can be set per component and are adjustable at runtime,
// so toggling the debug feature flag takes effect without rebuilding
// loggers.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// DefaultComponent is the MinLevels key applied to components without
// their own entry.
const DefaultComponent = "default"

// Levels holds the dynamic per-component minimum levels.
type Levels struct {
	mu          sync.RWMutex
	fallback    slog.Level
	byComponent map[string]slog.Level
	debug       bool
}

// NewLevels creates Levels with everything at info.
func NewLevels() *Levels {
	return &Levels{fallback: slog.LevelInfo, byComponent: map[string]slog.Level{}}
}

// Set replaces the minimum levels. Keys are component names (or
// DefaultComponent), values are slog level names such as "debug" or "warn".
// When debug is true every component logs at debug.
func (l *Levels) Set(minLevels map[string]string, debug bool) error {
	fallback := slog.LevelInfo
	by := make(map[string]slog.Level, len(minLevels))
	for component, name := range minLevels {
		lvl, err := ParseLevel(name)
		if err != nil {
			return fmt.Errorf("component %q: %w", component, err)
		}
		if component == DefaultComponent {
			fallback = lvl
			continue
		}
		by[component] = lvl
	}

	l.mu.Lock()
	l.fallback = fallback
	l.byComponent = by
	l.debug = debug
	l.mu.Unlock()
	return nil
}

// SetDebug flips debug mode without touching per-component levels.
func (l *Levels) SetDebug(debug bool) {
	l.mu.Lock()
	l.debug = debug
	l.mu.Unlock()
}

// Enabled reports whether a record at level for component should be logged.
func (l *Levels) Enabled(component string, level slog.Level) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.debug {
		return true
	}
	min, ok := l.byComponent[component]
	if !ok {
		min = l.fallback
	}
	return level >= min
}

// ParseLevel parses a level name. Matching is case-insensitive.
func ParseLevel(name string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", name)
	}
	return lvl, nil
}

// New returns a text logger writing to w and to console (if non-nil),
// filtered by levels.
func New(w io.Writer, levels *Levels, console *Console) *slog.Logger {
	if levels == nil {
		levels = NewLevels()
	}
	if console != nil {
		w = io.MultiWriter(w, console)
	}
	text := slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(&handler{next: text, levels: levels})
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type handler struct {
	next      slog.Handler
	levels    *Levels
	component string
}

func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return h.levels.Enabled(h.component, level)
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	return h.next.Handle(ctx, r)
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	component := h.component
	for _, a := range attrs {
		if a.Key == "component" {
			component = a.Value.String()
		}
	}
	return &handler{next: h.next.WithAttrs(attrs), levels: h.levels, component: component}
}

func (h *handler) WithGroup(name string) slog.Handler {
	return &handler{next: h.next.WithGroup(name), levels: h.levels, component: h.component}
}
