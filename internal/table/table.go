// Package table holds the named in-memory tables derived from the document
// collection and the registry that publishes them to the query engine.
package table

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Row is a single record: column names to scalar values. Values are one of
// nil, bool, int64, float64 or string once a table has been normalized.
type Row map[string]any

// Table is a named, ordered collection of rows.
//
// Tables are immutable once published by a Registry. Loaders may build them
// freely, but nothing may modify a table after Refresh returns.
type Table struct {
	Name    string
	Columns []string
	Rows    []Row
}

// New creates a table with the given columns. If columns is empty, the
// column set is derived from the rows (sorted by name) when Normalize runs.
func New(name string, columns ...string) *Table {
	return &Table{Name: name, Columns: columns}
}

// Append adds a row.
func (t *Table) Append(row Row) {
	t.Rows = append(t.Rows, row)
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// Normalize coerces every value to a scalar and fills in the column list.
// Columns seen in rows but missing from Columns are appended in sorted order.
func (t *Table) Normalize() {
	known := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		known[c] = true
	}

	var extra []string
	for _, row := range t.Rows {
		for k, v := range row {
			row[k] = Scalar(v)
			if !known[k] {
				known[k] = true
				extra = append(extra, k)
			}
		}
	}
	sort.Strings(extra)
	t.Columns = append(t.Columns, extra...)
}

// Scalar converts a loader value into one the relational engine can store.
// Lists and maps are stored as JSON text.
func Scalar(v any) any {
	switch val := v.(type) {
	case nil, bool, int64, float64, string:
		return val
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case uint64:
		return int64(val)
	case uint32:
		return int64(val)
	case float32:
		return float64(val)
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case fmt.Stringer:
		return val.String()
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

// Clone returns a copy of t whose rows can be modified independently.
func (t *Table) Clone() *Table {
	out := &Table{
		Name:    t.Name,
		Columns: append([]string(nil), t.Columns...),
		Rows:    make([]Row, len(t.Rows)),
	}
	for i, row := range t.Rows {
		r := make(Row, len(row))
		for k, v := range row {
			r[k] = v
		}
		out.Rows[i] = r
	}
	return out
}
