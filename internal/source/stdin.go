package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/kevin-cantwell/docsql/internal/table"
)

// StdinSource reads a JSON (array or lines) or CSV table from a reader,
// stdin by default. The reader is consumed on the first Load; later loads
// return the same rows.
type StdinSource struct {
	name   string
	format string
	r      io.Reader

	once  sync.Once
	table *table.Table
	err   error
}

// NewStdinSource creates a source reading format ("json" or "csv") from
// stdin.
func NewStdinSource(name, format string) *StdinSource {
	return NewReaderSource(name, format, os.Stdin)
}

func NewReaderSource(name, format string, r io.Reader) *StdinSource {
	if name == "" {
		name = "stdin"
	}
	return &StdinSource{name: name, format: format, r: r}
}

func (s *StdinSource) Name() string { return s.name }

func (s *StdinSource) Load(ctx context.Context) ([]*table.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.once.Do(func() {
		switch s.format {
		case "csv":
			s.table, s.err = readCSV(s.name, s.r)
		case "", "json", "jsonl":
			s.table, s.err = readJSON(s.name, s.r)
		default:
			s.err = fmt.Errorf("unsupported stdin format %q (use json or csv)", s.format)
		}
		if s.err != nil {
			s.err = fmt.Errorf("source %s: %w", s.name, s.err)
		}
	})
	if s.err != nil {
		return nil, s.err
	}
	return []*table.Table{s.table.Clone()}, nil
}
