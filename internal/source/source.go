// Package source loads the tables the query engine runs against: the vault
// (markdown notes and their data files), standalone CSV/JSON files and
// SQLite databases.
//
// Every loader implements table.Loader and reads its input afresh on each
// Load, so a registry refresh always sees the current files.
package source

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kevin-cantwell/docsql/internal/table"
)

// Record is a single row read from a file before it becomes a table.Row.
type Record map[string]any

// Config describes a source given on the command line.
type Config struct {
	Name   string
	URI    string
	Scheme string
	// Table is the table to read inside a SQLite database.
	Table string
}

// ParseURI parses a source argument of the form "name=uri". The uri is a
// file path, optionally prefixed "file://" or "sqlite://". A trailing
// ":table" on a sqlite uri picks the table to read (default: name).
func ParseURI(arg string) (*Config, error) {
	name, uri, ok := strings.Cut(arg, "=")
	if !ok || name == "" || uri == "" {
		return nil, fmt.Errorf("invalid source %q (want name=path)", arg)
	}

	cfg := &Config{Name: name, Scheme: "file"}
	switch {
	case strings.HasPrefix(uri, "sqlite://"):
		cfg.Scheme = "sqlite"
		uri = strings.TrimPrefix(uri, "sqlite://")
	case strings.HasPrefix(uri, "file://"):
		uri = strings.TrimPrefix(uri, "file://")
	}

	path, tbl := uri, ""
	if i := strings.LastIndex(uri, ":"); i > 1 && !strings.ContainsAny(uri[i+1:], `/\.`) {
		path, tbl = uri[:i], uri[i+1:]
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		cfg.Scheme = "sqlite"
	}

	cfg.URI = uri
	if cfg.Scheme == "sqlite" {
		cfg.URI, cfg.Table = path, tbl
	}
	return cfg, nil
}

// NewSource creates a loader from a config.
func NewSource(cfg *Config) (table.Loader, error) {
	switch cfg.Scheme {
	case "file":
		return NewFileSource(cfg.Name, cfg.URI)
	case "sqlite":
		return NewSQLiteSource(cfg.Name, cfg.URI, cfg.Table), nil
	default:
		return nil, fmt.Errorf("unsupported source scheme: %s", cfg.Scheme)
	}
}

// Static serves a fixed set of tables.
type Static []*table.Table

func (s Static) Load(ctx context.Context) ([]*table.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]*table.Table, 0, len(s))
	for _, t := range s {
		out = append(out, t.Clone())
	}
	return out, nil
}

// Multi concatenates the tables of several loaders. Any failure fails the
// whole load.
type Multi []table.Loader

func (m Multi) Load(ctx context.Context) ([]*table.Table, error) {
	var out []*table.Table
	for _, l := range m {
		tables, err := l.Load(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, tables...)
	}
	return out, nil
}
