package source

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/kevin-cantwell/docsql/internal/table"
	_ "modernc.org/sqlite"
)

// SQLiteSource reads all rows of a table in a SQLite database file.
type SQLiteSource struct {
	name  string
	path  string
	table string
}

// NewSQLiteSource creates a source that reads all rows from a SQLite table.
// The path is the database file. The table defaults to name if not specified.
func NewSQLiteSource(name, path, table string) *SQLiteSource {
	if table == "" {
		table = name
	}
	return &SQLiteSource{
		name:  name,
		path:  path,
		table: table,
	}
}

func (s *SQLiteSource) Name() string { return s.name }

// DBPath returns the filesystem path to the SQLite database file.
func (s *SQLiteSource) DBPath() string { return s.path }

// TableName returns the table name within the SQLite database.
func (s *SQLiteSource) TableName() string { return s.table }

func (s *SQLiteSource) Load(ctx context.Context) ([]*table.Table, error) {
	// sql.Open would create a missing file.
	if _, err := os.Stat(s.path); err != nil {
		return nil, fmt.Errorf("source %s: %w", s.name, err)
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", s.name, err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		return nil, fmt.Errorf("source %s: %w", s.name, err)
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s", quoteIdent(s.table)))
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", s.name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", s.name, err)
	}

	t := table.New(s.name, cols...)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("source %s: %w", s.name, err)
		}

		rec := make(table.Row, len(cols))
		for i, col := range cols {
			rec[col] = vals[i]
		}
		t.Append(rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("source %s: %w", s.name, err)
	}
	return []*table.Table{t}, nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
