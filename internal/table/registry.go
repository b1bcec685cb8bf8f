package table

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ErrTableNotFound is returned when a table name does not resolve.
var ErrTableNotFound = errors.New("table not found")

// Loader produces a snapshot of the document collection as named tables.
type Loader interface {
	Load(ctx context.Context) ([]*Table, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context) ([]*Table, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context) ([]*Table, error) { return f(ctx) }

// Snapshot is an immutable view of the registry at one generation.
type Snapshot struct {
	Generation uint64
	Tables     map[string]*Table
}

// Names returns the table names in sorted order.
func (s *Snapshot) Names() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Registry maintains the current set of named tables.
type Registry struct {
	loader Loader
	logger *slog.Logger

	// refreshMu serializes refreshes; mu guards snap.
	refreshMu sync.Mutex
	mu        sync.RWMutex
	snap      *Snapshot
}

// NewRegistry creates an empty registry backed by loader. Call Refresh to
// populate it.
func NewRegistry(loader Loader, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		loader: loader,
		logger: logger.With("component", "registry"),
		snap:   &Snapshot{Tables: map[string]*Table{}},
	}
}

// Refresh rebuilds every table from the loader and publishes the new set in
// a single swap. If loading fails the previous tables remain visible.
// Published tables are normalized copies, so a loader may return the same
// tables on every call.
func (r *Registry) Refresh(ctx context.Context) error {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	tables, err := r.loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("load tables: %w", err)
	}

	next := make(map[string]*Table, len(tables))
	for _, t := range tables {
		if t == nil {
			continue
		}
		if t.Name == "" {
			return fmt.Errorf("load tables: table with empty name")
		}
		if _, dup := next[t.Name]; dup {
			return fmt.Errorf("load tables: duplicate table %q", t.Name)
		}
		t = t.Clone()
		t.Normalize()
		next[t.Name] = t
	}

	r.mu.Lock()
	gen := r.snap.Generation + 1
	r.snap = &Snapshot{Generation: gen, Tables: next}
	r.mu.Unlock()

	r.logger.Debug("registry refreshed", "generation", gen, "tables", len(next))
	return nil
}

// Snapshot returns the currently published snapshot.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// Table returns the current table with the given (case-sensitive) name.
func (r *Registry) Table(name string) (*Table, error) {
	snap := r.Snapshot()
	t, ok := snap.Tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTableNotFound, name)
	}
	return t, nil
}

// Has reports whether a table with exactly this name exists.
func (r *Registry) Has(name string) bool {
	_, ok := r.Snapshot().Tables[name]
	return ok
}

// Names returns the current table names in sorted order.
func (r *Registry) Names() []string {
	return r.Snapshot().Names()
}
