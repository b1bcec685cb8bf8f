package source

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kevin-cantwell/docsql/internal/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		arg     string
		want    Config
		wantErr bool
	}{
		{arg: "items=data/items.csv", want: Config{Name: "items", URI: "data/items.csv", Scheme: "file"}},
		{arg: "items=file://items.jsonl", want: Config{Name: "items", URI: "items.jsonl", Scheme: "file"}},
		{arg: "users=app.db", want: Config{Name: "users", URI: "app.db", Scheme: "sqlite"}},
		{arg: "u=app.sqlite:accounts", want: Config{Name: "u", URI: "app.sqlite", Scheme: "sqlite", Table: "accounts"}},
		{arg: "u=sqlite:///tmp/x.bin:t", want: Config{Name: "u", URI: "/tmp/x.bin", Scheme: "sqlite", Table: "t"}},
		{arg: `u=C:\data\app.db`, want: Config{Name: "u", URI: `C:\data\app.db`, Scheme: "sqlite"}},
		{arg: "nope", wantErr: true},
		{arg: "=x.csv", wantErr: true},
		{arg: "x=", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			got, err := ParseURI(tt.arg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestNewSource(t *testing.T) {
	l, err := NewSource(&Config{Name: "items", URI: "testdata/items.csv", Scheme: "file"})
	require.NoError(t, err)
	assert.IsType(t, &FileSource{}, l)

	l, err = NewSource(&Config{Name: "u", URI: "x.db", Scheme: "sqlite"})
	require.NoError(t, err)
	assert.Equal(t, "u", l.(*SQLiteSource).TableName())

	_, err = NewSource(&Config{Name: "x", URI: "x.txt", Scheme: "file"})
	require.Error(t, err)

	_, err = NewSource(&Config{Name: "x", Scheme: "mysql"})
	require.Error(t, err)
}

func TestStaticClonesTables(t *testing.T) {
	notes := table.New("notes", "title", "done")
	notes.Append(table.Row{"title": "A", "done": true})
	s := Static{notes}

	tables, err := s.Load(context.Background())
	require.NoError(t, err)
	tables[0].Rows[0]["title"] = "changed"

	assert.Equal(t, "A", notes.Rows[0]["title"])
}

func TestMulti(t *testing.T) {
	a := Static{table.New("a")}
	b := table.LoaderFunc(func(context.Context) ([]*table.Table, error) {
		return []*table.Table{table.New("b"), table.New("c")}, nil
	})
	tables, err := Multi{a, b}.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, tables, 3)
	assert.Equal(t, "c", tables[2].Name)

	boom := table.LoaderFunc(func(context.Context) ([]*table.Table, error) { return nil, errors.New("boom") })
	_, err = Multi{a, boom}.Load(context.Background())
	require.EqualError(t, err, "boom")
}

func TestSQLiteSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE accounts (id INTEGER, email TEXT, balance REAL, note BLOB);
		INSERT INTO accounts VALUES (1, 'a@x.io', 10.5, NULL), (2, 'b@x.io', 0, x'6869');`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	tables, err := NewSQLiteSource("acct", path, "accounts").Load(context.Background())
	require.NoError(t, err)
	require.Len(t, tables, 1)

	tbl := tables[0]
	tbl.Normalize()
	assert.Equal(t, "acct", tbl.Name)
	assert.Equal(t, []string{"id", "email", "balance", "note"}, tbl.Columns)
	assert.Equal(t, [][]any{
		{int64(1), "a@x.io", 10.5, nil},
		{int64(2), "b@x.io", float64(0), "hi"},
	}, project(tbl, "id", "email", "balance", "note"))
}

func TestSQLiteSourceErrors(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.db")
	_, err := NewSQLiteSource("x", missing, "").Load(context.Background())
	require.Error(t, err)
	assert.NoFileExists(t, missing)

	path := filepath.Join(t.TempDir(), "empty.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE t (x)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = NewSQLiteSource("nope", path, "").Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such table")
}

func TestReaderSource(t *testing.T) {
	s := NewReaderSource("", "json", strings.NewReader(`{"a":1}`+"\n"+`{"a":2,"b":"x"}`))
	assert.Equal(t, "stdin", s.Name())

	for i := 0; i < 2; i++ {
		tables, err := s.Load(context.Background())
		require.NoError(t, err)
		require.Len(t, tables, 1)
		tbl := tables[0]
		tbl.Normalize()
		assert.Equal(t, []string{"a", "b"}, tbl.Columns)
		assert.Equal(t, [][]any{{int64(1), nil}, {int64(2), "x"}}, project(tbl, "a", "b"))
	}

	csvSrc := NewReaderSource("rows", "csv", strings.NewReader("k,v\na,1\n"))
	tables, err := csvSrc.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"a", int64(1)}}, project(tables[0], "k", "v"))

	_, err = NewReaderSource("x", "xml", strings.NewReader("")).Load(context.Background())
	require.Error(t, err)

	_, err = NewReaderSource("x", "json", strings.NewReader("{bad")).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source x")
}
