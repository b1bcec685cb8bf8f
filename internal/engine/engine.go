// Package engine executes SQL queries against the tables published by a
// table.Registry.
//
// Each registry generation is loaded once into a private in-memory SQLite
// database. Queries run on that database until the registry publishes a new
// generation, at which point the database is rebuilt on the next Execute.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kevin-cantwell/docsql/internal/sqlscan"
	"github.com/kevin-cantwell/docsql/internal/table"
	_ "modernc.org/sqlite"
)

// Tables is the read side of a table.Registry.
type Tables interface {
	Snapshot() *table.Snapshot
}

// Result is the outcome of a successful query. Columns are in SELECT order.
type Result struct {
	Columns []string
	Rows    []table.Row
}

// Engine orchestrates query execution.
type Engine struct {
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.Mutex
	db     *sql.DB
	gen    uint64
	loaded bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithTimeout bounds every query. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates a new Engine.
func New(opts ...Option) *Engine {
	e := &Engine{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "engine")
	return e
}

// Close releases the loaded database.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db == nil {
		return nil
	}
	err := e.db.Close()
	e.db, e.loaded = nil, false
	return err
}

// Execute runs a single read-only statement with positional or named args.
// Any failure is returned as a *QueryError and no partial result is
// returned.
func (e *Engine) Execute(ctx context.Context, query string, tables Tables, args ...any) (*Result, error) {
	res, qerr := e.execute(ctx, query, tables, args)
	if qerr != nil {
		e.logger.Debug("query failed", "kind", qerr.Kind.String(), "error", qerr.Message)
		return nil, qerr
	}
	return res, nil
}

func (e *Engine) execute(ctx context.Context, query string, tables Tables, args []any) (*Result, *QueryError) {
	if strings.TrimSpace(query) == "" {
		return nil, queryErrorf(KindEmpty, query, "query is empty")
	}

	n, err := sqlscan.Statements(query)
	if err != nil {
		return nil, &QueryError{Kind: KindSyntax, Query: query, Message: fmt.Sprintf("syntax error: %v", err), Err: err}
	}
	switch {
	case n == 0:
		return nil, queryErrorf(KindEmpty, query, "query is empty")
	case n > 1:
		return nil, queryErrorf(KindSyntax, query, "syntax error: expected a single statement, found %d", n)
	}

	if qerr := checkReadOnly(query); qerr != nil {
		return nil, qerr
	}

	snap := tables.Snapshot()
	if qerr := checkTableRefs(query, snap); qerr != nil {
		return nil, qerr
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.load(ctx, snap); err != nil {
		return nil, &QueryError{Kind: KindExecution, Query: query, Message: fmt.Sprintf("load tables: %v", err), Err: err}
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := e.query(ctx, query, args)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &QueryError{Kind: KindExecution, Query: query, Message: fmt.Sprintf("query cancelled: %v", ctxErr), Err: ctxErr}
		}
		return nil, classify(query, err)
	}
	e.logger.Debug("query executed", "rows", len(res.Rows), "elapsed", time.Since(start))
	return res, nil
}

// checkReadOnly admits only statements that read. query_only alone is not
// enough since a PRAGMA can turn it off and ATTACH ignores it.
func checkReadOnly(query string) *QueryError {
	verb, err := sqlscan.Verb(query)
	if err != nil {
		return &QueryError{Kind: KindSyntax, Query: query, Message: fmt.Sprintf("syntax error: %v", err), Err: err}
	}
	switch verb {
	case "SELECT", "VALUES", "EXPLAIN":
		return nil
	}
	return queryErrorf(KindExecution, query, "%s statements are not allowed: queries are read-only", verb)
}

// checkTableRefs rejects references to tables the registry does not hold
// under that exact name. SQLite itself matches table names without regard
// to case.
func checkTableRefs(query string, snap *table.Snapshot) *QueryError {
	refs, err := sqlscan.TableRefs(query)
	if err != nil {
		return &QueryError{Kind: KindSyntax, Query: query, Message: fmt.Sprintf("syntax error: %v", err), Err: err}
	}
	for _, ref := range refs {
		switch strings.ToLower(ref.Schema) {
		case "", "main", "temp":
		default:
			continue
		}
		if strings.HasPrefix(strings.ToLower(ref.Name), "sqlite_") {
			continue
		}
		if _, ok := snap.Tables[ref.Name]; !ok {
			return queryErrorf(KindUnknownTable, query, "no such table: %s", ref.Name)
		}
	}
	return nil
}

func (e *Engine) query(ctx context.Context, query string, args []any) (*Result, error) {
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	boolCol := make([]bool, len(cols))
	for i, ct := range types {
		boolCol[i] = strings.EqualFold(ct.DatabaseTypeName(), "BOOLEAN")
	}

	res := &Result{Columns: cols, Rows: []table.Row{}}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(table.Row, len(cols))
		for i, col := range cols {
			row[col] = fromSQLite(vals[i], boolCol[i])
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

func fromSQLite(v any, isBool bool) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case int64:
		if isBool {
			return val != 0
		}
		return val
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	default:
		return val
	}
}
