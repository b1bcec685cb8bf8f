package engine

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/kevin-cantwell/docsql/internal/funcs"
	"github.com/kevin-cantwell/docsql/internal/table"
	"github.com/kevin-cantwell/docsql/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- test helpers ---

func newRegistry(t *testing.T, tables ...*table.Table) *table.Registry {
	t.Helper()
	reg := table.NewRegistry(table.LoaderFunc(func(context.Context) ([]*table.Table, error) {
		return tables, nil
	}), testutil.NewTestLogger(t))
	require.NoError(t, reg.Refresh(context.Background()))
	return reg
}

func newTable(name string, rows ...table.Row) *table.Table {
	return withRows(table.New(name), rows...)
}

func withRows(t *table.Table, rows ...table.Row) *table.Table {
	for _, r := range rows {
		t.Append(r)
	}
	return t
}

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithLogger(testutil.NewTestLogger(t))}, opts...)
	e := New(opts...)
	t.Cleanup(func() { e.Close() })
	return e
}

func exec(t *testing.T, e *Engine, reg *table.Registry, query string, args ...any) *Result {
	t.Helper()
	res, err := e.Execute(context.Background(), query, reg, args...)
	require.NoError(t, err, query)
	return res
}

func execErr(t *testing.T, e *Engine, reg *table.Registry, query string) *QueryError {
	t.Helper()
	res, err := e.Execute(context.Background(), query, reg)
	require.Error(t, err, query)
	assert.Nil(t, res)
	var qe *QueryError
	require.ErrorAs(t, err, &qe)
	return qe
}

func users() *table.Table {
	return withRows(table.New("users", "id", "name", "age", "city"),
		table.Row{"id": 1, "name": "Alice", "age": 30, "city": "NYC"},
		table.Row{"id": 2, "name": "Bob", "age": 25, "city": "LA"},
		table.Row{"id": 3, "name": "Charlie", "age": 35, "city": "NYC"},
		table.Row{"id": 4, "name": "Diana", "age": 28, "city": "Chicago"},
		table.Row{"id": 5, "name": "Eve", "age": 42, "city": "LA"},
	)
}

func orders() *table.Table {
	return newTable("orders",
		table.Row{"order_id": 1, "user_id": 1, "product_id": 101, "amount": 29.99},
		table.Row{"order_id": 2, "user_id": 2, "product_id": 102, "amount": 9.5},
		table.Row{"order_id": 3, "user_id": 1, "product_id": 102, "amount": 9.5},
		table.Row{"order_id": 4, "user_id": 9, "product_id": 101, "amount": 29.99},
	)
}

func products() *table.Table {
	return newTable("products",
		table.Row{"id": 101, "name": "Widget"},
		table.Row{"id": 102, "name": "Gadget"},
	)
}

func names(res *Result, col string) []any {
	var out []any
	for _, r := range res.Rows {
		out = append(out, r[col])
	}
	return out
}

// =====================
// END-TO-END SCENARIOS
// =====================

func TestNotesScenario(t *testing.T) {
	reg := newRegistry(t, newTable("notes",
		table.Row{"title": "A", "done": true},
		table.Row{"title": "B", "done": false},
	))
	res := exec(t, newEngine(t), reg, "SELECT title FROM notes WHERE done = true")

	assert.Equal(t, []string{"title"}, res.Columns)
	assert.Equal(t, []table.Row{{"title": "A"}}, res.Rows)
}

func TestMissingTable(t *testing.T) {
	reg := newRegistry(t, newTable("notes", table.Row{"title": "A"}))
	before := reg.Snapshot()

	qe := execErr(t, newEngine(t), reg, "SELECT * FROM missing_table")
	assert.Equal(t, KindUnknownTable, qe.Kind)
	assert.Contains(t, qe.Message, "missing_table")
	assert.Same(t, before, reg.Snapshot())
}

// =====================
// BATCH QUERIES
// =====================

func TestSelectStar(t *testing.T) {
	res := exec(t, newEngine(t), newRegistry(t, users()), "SELECT * FROM users")
	require.Len(t, res.Rows, 5)
	assert.Equal(t, []string{"id", "name", "age", "city"}, res.Columns)
	assert.Equal(t, table.Row{"id": int64(1), "name": "Alice", "age": int64(30), "city": "NYC"}, res.Rows[0])
}

func TestSelectWhere(t *testing.T) {
	res := exec(t, newEngine(t), newRegistry(t, users()), "SELECT name, age FROM users WHERE age > 29 ORDER BY age")
	assert.Equal(t, []any{"Alice", "Charlie", "Eve"}, names(res, "name"))
}

func TestJoins(t *testing.T) {
	reg := newRegistry(t, users(), orders(), products())
	e := newEngine(t)

	res := exec(t, e, reg,
		"SELECT u.name, p.name pname FROM orders o JOIN users u ON o.user_id = u.id JOIN products p ON o.product_id = p.id ORDER BY o.order_id")
	assert.Equal(t, []string{"name", "pname"}, res.Columns)
	assert.Equal(t, []table.Row{
		{"name": "Alice", "pname": "Widget"},
		{"name": "Bob", "pname": "Gadget"},
		{"name": "Alice", "pname": "Gadget"},
	}, res.Rows)

	res = exec(t, e, reg, "SELECT o.order_id, u.name FROM orders o LEFT JOIN users u ON o.user_id = u.id WHERE u.name IS NULL")
	assert.Equal(t, []table.Row{{"order_id": int64(4), "name": nil}}, res.Rows)
}

func TestGroupByHaving(t *testing.T) {
	res := exec(t, newEngine(t), newRegistry(t, users()),
		"SELECT city, COUNT(*) AS n, AVG(age) AS avg_age FROM users GROUP BY city HAVING n > 1 ORDER BY city")
	assert.Equal(t, []table.Row{
		{"city": "LA", "n": int64(2), "avg_age": 33.5},
		{"city": "NYC", "n": int64(2), "avg_age": 32.5},
	}, res.Rows)
}

func TestOrderByLimitDistinct(t *testing.T) {
	e := newEngine(t)
	reg := newRegistry(t, users())

	res := exec(t, e, reg, "SELECT name FROM users ORDER BY age DESC LIMIT 2")
	assert.Equal(t, []any{"Eve", "Charlie"}, names(res, "name"))

	res = exec(t, e, reg, "SELECT DISTINCT city FROM users ORDER BY city")
	assert.Equal(t, []any{"Chicago", "LA", "NYC"}, names(res, "city"))
}

func TestEmptyResultIsNotNil(t *testing.T) {
	res := exec(t, newEngine(t), newRegistry(t, users()), "SELECT name FROM users WHERE age > 100")
	assert.NotNil(t, res.Rows)
	assert.Empty(t, res.Rows)
	assert.Equal(t, []string{"name"}, res.Columns)
}

func TestSparseColumns(t *testing.T) {
	reg := newRegistry(t, newTable("data",
		table.Row{"id": 1, "name": "full", "email": "a@example.com"},
		table.Row{"id": 2, "name": "partial"},
		table.Row{"id": 3},
	))
	res := exec(t, newEngine(t), reg, "SELECT id FROM data WHERE name IS NOT NULL ORDER BY id")
	assert.Equal(t, []any{int64(1), int64(2)}, names(res, "id"))
}

func TestNestedValuesAreJSONText(t *testing.T) {
	reg := newRegistry(t, newTable("configs",
		table.Row{"name": "app1", "config": map[string]any{"port": 8080, "debug": true}},
		table.Row{"name": "app2", "tags": []any{"red", "blue"}},
	))
	e := newEngine(t)

	res := exec(t, e, reg, "SELECT config FROM configs WHERE name = 'app1'")
	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.Rows[0]["config"].(string)), &parsed))
	assert.Equal(t, float64(8080), parsed["port"])

	res = exec(t, e, reg, "SELECT value FROM configs, json_each(configs.tags) ORDER BY value")
	assert.Equal(t, []any{"blue", "red"}, names(res, "value"))
}

func TestBooleansRoundTrip(t *testing.T) {
	reg := newRegistry(t, newTable("flags",
		table.Row{"name": "on", "active": true},
		table.Row{"name": "off", "active": false},
	))
	res := exec(t, newEngine(t), reg, "SELECT name, active FROM flags ORDER BY name")
	assert.Equal(t, []table.Row{
		{"name": "off", "active": false},
		{"name": "on", "active": true},
	}, res.Rows)
}

func TestParameters(t *testing.T) {
	e := newEngine(t)
	reg := newRegistry(t, users())

	res := exec(t, e, reg, "SELECT name FROM users WHERE city = ? AND age > ?", "NYC", 31)
	assert.Equal(t, []any{"Charlie"}, names(res, "name"))
}

func TestCTEAndSubqueries(t *testing.T) {
	res := exec(t, newEngine(t), newRegistry(t, users(), orders()), `
		WITH buyers AS (SELECT DISTINCT user_id FROM orders)
		SELECT name FROM users WHERE id IN (SELECT user_id FROM buyers) ORDER BY name`)
	assert.Equal(t, []any{"Alice", "Bob"}, names(res, "name"))
}

func TestCustomFunctions(t *testing.T) {
	require.NoError(t, funcs.RegisterBuiltins())
	e := newEngine(t)
	reg := newRegistry(t, users())

	res := exec(t, e, reg, "SELECT path_stem('a/b/note.md') AS stem, to_array(1, 'x') AS arr")
	assert.Equal(t, []table.Row{{"stem": "note", "arr": `[1,"x"]`}}, res.Rows)

	qe := execErr(t, e, reg, "SELECT rand_int(5, 1)")
	assert.Equal(t, KindFunction, qe.Kind)
	assert.Contains(t, qe.Message, "rand_int")
}

// =====================
// FAILURES
// =====================

func TestQueryErrors(t *testing.T) {
	reg := newRegistry(t, users())
	e := newEngine(t)

	tests := []struct {
		name  string
		query string
		kind  Kind
		msg   string
	}{
		{"empty", "", KindEmpty, "empty"},
		{"whitespace", "  \n\t", KindEmpty, "empty"},
		{"only comment", "-- nothing here", KindEmpty, "empty"},
		{"unterminated string", "SELECT 'oops FROM users", KindSyntax, "unterminated"},
		{"two statements", "SELECT 1; SELECT 2", KindSyntax, "single statement"},
		{"bad syntax", "SELEC name FROM users", KindSyntax, "syntax error"},
		{"incomplete", "SELECT name FROM users WHERE", KindSyntax, "incomplete input"},
		{"wrong case table", "SELECT * FROM Users", KindUnknownTable, "Users"},
		{"unknown table in join", "SELECT * FROM users JOIN nope ON 1", KindUnknownTable, "nope"},
		{"unknown column", "SELECT nope FROM users", KindUnknownColumn, "nope"},
		{"unknown function", "SELECT no_such_fn(1) FROM users", KindFunction, "no_such_fn"},
		{"wrong case parenthesized", "SELECT * FROM (Users)", KindUnknownTable, "Users"},
		{"wrong case double parenthesized", "SELECT * FROM ((Users))", KindUnknownTable, "Users"},
		{"write rejected", "DELETE FROM users", KindExecution, "read-only"},
		{"write after cte", "WITH x AS (SELECT 1) DELETE FROM users", KindExecution, "DELETE"},
		{"pragma", "PRAGMA query_only = OFF", KindExecution, "PRAGMA"},
		{"attach", "ATTACH DATABASE ':memory:' AS other", KindExecution, "ATTACH"},
		{"detach", "DETACH DATABASE other", KindExecution, "DETACH"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qe := execErr(t, e, reg, tt.query)
			assert.Equal(t, tt.kind, qe.Kind, qe.Message)
			assert.Contains(t, qe.Message, tt.msg)
		})
	}

	// The failed DELETE left the table intact.
	res := exec(t, e, reg, "SELECT COUNT(*) AS n FROM users")
	assert.Equal(t, int64(5), res.Rows[0]["n"])
}

func TestReadOnlyGuardCannotBeLifted(t *testing.T) {
	reg := newRegistry(t, users())
	e := newEngine(t)

	execErr(t, e, reg, "PRAGMA query_only = OFF")
	execErr(t, e, reg, "DELETE FROM users")

	res := exec(t, e, reg, "SELECT COUNT(*) AS n FROM users")
	assert.Equal(t, int64(5), res.Rows[0]["n"])
	assert.Equal(t, 5, reg.Snapshot().Tables["users"].Len())
}

func TestReadStatementsAccepted(t *testing.T) {
	reg := newRegistry(t, users())
	e := newEngine(t)

	res := exec(t, e, reg, "VALUES (1), (2)")
	assert.Len(t, res.Rows, 2)
	exec(t, e, reg, "EXPLAIN QUERY PLAN SELECT * FROM users")
	res = exec(t, e, reg, "SELECT * FROM (users) WHERE id = 1")
	assert.Equal(t, []any{"Alice"}, names(res, "name"))
}

func TestInfiniteValues(t *testing.T) {
	res := exec(t, newEngine(t), newRegistry(t, users()), "SELECT 1e999 AS x")
	assert.Equal(t, math.Inf(1), res.Rows[0]["x"])
}

func TestTimeout(t *testing.T) {
	e := newEngine(t, WithTimeout(time.Nanosecond))
	reg := newRegistry(t, users())

	_, err := e.Execute(context.Background(), `
		WITH RECURSIVE c(x) AS (SELECT 1 UNION ALL SELECT x + 1 FROM c)
		SELECT COUNT(*) FROM c`, reg)
	require.Error(t, err)
	var qe *QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, KindExecution, qe.Kind)
}

// =====================
// REFRESH
// =====================

func TestReloadsOnNewGeneration(t *testing.T) {
	rows := []table.Row{{"title": "first"}}
	reg := table.NewRegistry(table.LoaderFunc(func(context.Context) ([]*table.Table, error) {
		return []*table.Table{newTable("notes", rows...)}, nil
	}), testutil.NewTestLogger(t))
	require.NoError(t, reg.Refresh(context.Background()))
	e := newEngine(t)

	res := exec(t, e, reg, "SELECT title FROM notes")
	assert.Equal(t, []any{"first"}, names(res, "title"))

	rows = append(rows, table.Row{"title": "second"})
	require.NoError(t, reg.Refresh(context.Background()))

	res = exec(t, e, reg, "SELECT title FROM notes ORDER BY title")
	assert.Equal(t, []any{"first", "second"}, names(res, "title"))
}

func TestEmptyTableStillResolves(t *testing.T) {
	res := exec(t, newEngine(t), newRegistry(t, table.New("empty")), "SELECT * FROM empty")
	assert.Empty(t, res.Rows)
}
