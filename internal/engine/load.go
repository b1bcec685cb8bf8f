package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/kevin-cantwell/docsql/internal/table"
)

// load makes e.db hold snap, rebuilding it when the generation changed.
// Callers hold e.mu.
func (e *Engine) load(ctx context.Context, snap *table.Snapshot) error {
	if e.loaded && e.gen == snap.Generation {
		return nil
	}

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	// Every connection to ":memory:" is its own database, so pin one.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := loadSnapshot(ctx, db, snap); err != nil {
		db.Close()
		return err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		db.Close()
		return fmt.Errorf("set query_only: %w", err)
	}

	if e.db != nil {
		e.db.Close()
	}
	e.db, e.gen, e.loaded = db, snap.Generation, true
	e.logger.Debug("tables loaded", "generation", snap.Generation, "tables", len(snap.Tables))
	return nil
}

func loadSnapshot(ctx context.Context, db *sql.DB, snap *table.Snapshot) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, name := range snap.Names() {
		if err := createTable(ctx, tx, snap.Tables[name]); err != nil {
			return fmt.Errorf("table %s: %w", name, err)
		}
	}
	return tx.Commit()
}

// createTable creates t and inserts its rows.
func createTable(ctx context.Context, tx *sql.Tx, t *table.Table) error {
	if len(t.Columns) == 0 {
		// SQLite has no zero-column tables; expose an empty single-column
		// table so the name still resolves.
		_, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (value)", quoteIdent(t.Name)))
		return err
	}

	cols := make([]string, len(t.Columns))
	colDefs := make([]string, len(t.Columns))
	placeholders := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		cols[i] = quoteIdent(col)
		colDefs[i] = strings.TrimSpace(cols[i] + " " + columnType(t, col))
		placeholders[i] = "?"
	}

	createSQL := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(t.Name), strings.Join(colDefs, ", "))
	if _, err := tx.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	if len(t.Rows) == 0 {
		return nil
	}

	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(t.Name),
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "))
	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	vals := make([]any, len(t.Columns))
	for _, row := range t.Rows {
		for i, col := range t.Columns {
			vals[i] = row[col]
		}
		if _, err := stmt.ExecContext(ctx, vals...); err != nil {
			return fmt.Errorf("insert: %w", err)
		}
	}
	return nil
}

// columnType picks the declared type from the values in col. Columns whose
// values disagree get no declared type, so each value keeps its own storage
// class. Dates are stored as RFC 3339 TEXT; the driver would otherwise
// rewrite DATE/DATETIME columns into time.Time.
func columnType(t *table.Table, col string) string {
	typ := ""
	for _, row := range t.Rows {
		var next string
		switch row[col].(type) {
		case nil:
			continue
		case bool:
			next = "BOOLEAN"
		case int64:
			next = "INTEGER"
		case float64:
			next = "REAL"
		case string:
			next = "TEXT"
		default:
			return ""
		}
		switch {
		case typ == "" || typ == next:
			typ = next
		case typ == "INTEGER" && next == "REAL", typ == "REAL" && next == "INTEGER":
			typ = "REAL"
		default:
			return ""
		}
	}
	return typ
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
