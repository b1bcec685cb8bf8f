package sqlscan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func refNames(t *testing.T, query string) []string {
	t.Helper()
	refs, err := TableRefs(query)
	require.NoError(t, err)
	var names []string
	for _, r := range refs {
		if r.Schema != "" {
			names = append(names, r.Schema+"."+r.Name)
			continue
		}
		names = append(names, r.Name)
	}
	return names
}

func TestTableRefs(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"simple", "SELECT title FROM notes WHERE done = true", []string{"notes"}},
		{"case kept", "SELECT * FROM Notes", []string{"Notes"}},
		{"alias", "SELECT n.title FROM notes AS n", []string{"notes"}},
		{"comma list", "SELECT * FROM files f, tags t WHERE f.path = t.path", []string{"files", "tags"}},
		{"joins", "SELECT * FROM files LEFT JOIN tags ON files.path = tags.path JOIN links USING (path)", []string{"files", "tags", "links"}},
		{"comma after join", "SELECT * FROM a JOIN b ON a.x = b.x, c", []string{"a", "b", "c"}},
		{"subquery in where", "SELECT * FROM files WHERE path IN (SELECT path FROM tags)", []string{"files", "tags"}},
		{"subquery in from", "SELECT * FROM (SELECT * FROM tasks) t, links", []string{"tasks", "links"}},
		{"quoted", `SELECT * FROM "my notes"`, []string{"my notes"}},
		{"schema", "SELECT * FROM main.notes", []string{"main.notes"}},
		{"table function", "SELECT value FROM files, json_each(files.frontmatter)", []string{"files"}},
		{"cte", "WITH recent AS (SELECT * FROM files) SELECT * FROM recent", []string{"files"}},
		{"cte cols and chain", "WITH RECURSIVE a(x) AS (SELECT 1), B AS (SELECT * FROM a) SELECT * FROM b JOIN tags", []string{"tags"}},
		{"no from", "SELECT 1 + 1", nil},
		{"from in string", "SELECT 'FROM nowhere' FROM notes", []string{"notes"}},
		{"union", "SELECT path FROM files UNION SELECT path FROM tags", []string{"files", "tags"}},
		{"parenthesized", "SELECT * FROM (Notes)", []string{"Notes"}},
		{"double parenthesized", "SELECT * FROM ((Notes))", []string{"Notes"}},
		{"parenthesized join", "SELECT * FROM (files JOIN tags USING (path)), links", []string{"files", "tags", "links"}},
		{"parenthesized comma list", "SELECT * FROM (files, Tags) WHERE 1", []string{"files", "Tags"}},
		{"double parenthesized subquery", "SELECT * FROM ((SELECT * FROM tasks))", []string{"tasks"}},
		{"values subquery", "SELECT * FROM (VALUES (1), (2))", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, refNames(t, tt.query))
		})
	}
}

func TestTableRefsPosition(t *testing.T) {
	refs, err := TableRefs("SELECT *\n  FROM missing_table")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "missing_table", refs[0].Name)
	assert.Equal(t, 2, refs[0].Line)
	assert.Equal(t, 8, refs[0].Pos)
}

func TestStatements(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 0},
		{"   -- nothing", 0},
		{"SELECT 1", 1},
		{"SELECT 1;", 1},
		{"SELECT 1;;  ", 1},
		{"SELECT 1; SELECT 2", 2},
		{"SELECT ';' FROM notes", 1},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			n, err := Statements(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestVerb(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"", ""},
		{"select 1", "SELECT"},
		{"; SELECT 1", "SELECT"},
		{"VALUES (1)", "VALUES"},
		{"explain query plan SELECT 1", "EXPLAIN"},
		{"PRAGMA query_only = OFF", "PRAGMA"},
		{"ATTACH DATABASE ':memory:' AS other", "ATTACH"},
		{"delete from notes", "DELETE"},
		{"WITH a AS (SELECT 1) SELECT * FROM a", "SELECT"},
		{"WITH RECURSIVE a(x) AS (SELECT 1), b AS NOT MATERIALIZED (SELECT 2) VALUES (3)", "VALUES"},
		{"WITH a AS (SELECT 1) DELETE FROM notes WHERE 1 IN a", "DELETE"},
		{"WITH a AS (SELECT 1) INSERT INTO notes SELECT * FROM a", "INSERT"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := Verb(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
