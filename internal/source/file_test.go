package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSourceCSV(t *testing.T) {
	s, err := NewFileSource("items", "testdata/items.csv")
	require.NoError(t, err)
	assert.Equal(t, "items", s.Name())

	tables, err := s.Load(context.Background())
	require.NoError(t, err)
	tbl := tables[0]
	tbl.Normalize()

	assert.Equal(t, []string{"id", "name", "price", "active"}, tbl.Columns)
	assert.Equal(t, [][]any{
		{int64(1), "widget", 2.5, true},
		{int64(2), "gadget", int64(10), false},
		{int64(3), "comma, inc", float64(1000), nil},
	}, project(tbl, "id", "name", "price", "active"))
}

func TestFileSourceJSONArray(t *testing.T) {
	s, err := NewFileSource("items", "testdata/items.json")
	require.NoError(t, err)

	tables, err := s.Load(context.Background())
	require.NoError(t, err)
	tbl := tables[0]
	tbl.Normalize()

	assert.Equal(t, []string{"id", "meta", "name", "price", "tags"}, tbl.Columns)
	assert.Equal(t, [][]any{
		{int64(1), nil, 2.5, `["a","b"]`},
		{int64(2), `{"color":"red"}`, int64(10), nil},
	}, project(tbl, "id", "meta", "price", "tags"))
}

func TestFileSourceReadsAfresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"n":1}`+"\n"), 0o644))

	s, err := NewFileSource("rows", path)
	require.NoError(t, err)
	tables, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, tables[0].Rows, 1)

	require.NoError(t, os.WriteFile(path, []byte(`{"n":1}`+"\n"+`{"n":2}`+"\n"), 0o644))
	tables, err = s.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, tables[0].Rows, 2)
}

func TestFileSourceErrors(t *testing.T) {
	_, err := NewFileSource("x", "notes.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file type")

	s, err := NewFileSource("x", filepath.Join(t.TempDir(), "missing.csv"))
	require.NoError(t, err)
	_, err = s.Load(context.Background())
	require.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[{"a":1},`), 0o644))
	s, err = NewFileSource("bad", bad)
	require.NoError(t, err)
	_, err = s.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.json")
}

func TestReadEmptyInputs(t *testing.T) {
	tbl, err := readCSV("e", strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, tbl.Rows)

	tbl, err = readJSON("e", strings.NewReader("  \n"))
	require.NoError(t, err)
	assert.Empty(t, tbl.Rows)

	tbl, err = readCSV("h", strings.NewReader("a,b\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tbl.Columns)
	assert.Empty(t, tbl.Rows)
}

func TestInferType(t *testing.T) {
	for in, want := range map[string]any{
		"":      nil,
		"42":    int64(42),
		"-7":    int64(-7),
		"4.50":  4.5,
		"1e3":   float64(1000),
		"true":  true,
		"FALSE": false,
		"hello": "hello",
		"0x1F":  "0x1F",
	} {
		assert.Equal(t, want, inferType(in), in)
	}
}
