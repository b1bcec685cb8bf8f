package render

import (
	"math"
	"strings"
	"testing"

	"github.com/kevin-cantwell/docsql/internal/engine"
	"github.com/kevin-cantwell/docsql/internal/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func notesResult() *engine.Result {
	return &engine.Result{
		Columns: []string{"title", "done", "score", "note"},
		Rows: []table.Row{
			{"title": "A", "done": true, "score": int64(3), "note": nil},
			{"title": "B <b>", "done": false, "score": 2.5, "note": "x|y"},
		},
	}
}

func TestJSON(t *testing.T) {
	tests := []struct {
		name string
		res  *engine.Result
		want string
	}{
		{
			name: "notes scenario",
			res:  &engine.Result{Columns: []string{"title"}, Rows: []table.Row{{"title": "A"}}},
			want: `[{"title":"A"}]`,
		},
		{
			name: "empty",
			res:  &engine.Result{Columns: []string{"title"}, Rows: []table.Row{}},
			want: `[]`,
		},
		{
			name: "column order and scalars",
			res:  notesResult(),
			want: `[{"title":"A","done":true,"score":3,"note":null},{"title":"B <b>","done":false,"score":2.5,"note":"x|y"}]`,
		},
		{
			name: "duplicate columns",
			res:  &engine.Result{Columns: []string{"x", "x"}, Rows: []table.Row{{"x": int64(1)}}},
			want: `[{"x":1}]`,
		},
		{
			name: "non-finite floats",
			res: &engine.Result{
				Columns: []string{"hi", "lo", "nan"},
				Rows:    []table.Row{{"hi": math.Inf(1), "lo": math.Inf(-1), "nan": math.NaN()}},
			},
			want: `[{"hi":9e999,"lo":-9e999,"nan":null}]`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := JSON{}.RenderTemplate(tt.res)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJSONIsStable(t *testing.T) {
	first, err := JSON{}.RenderTemplate(notesResult())
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := JSON{}.RenderTemplate(notesResult())
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestTable(t *testing.T) {
	got, err := Pretty{Style: StyleTable}.RenderTemplate(notesResult())
	require.NoError(t, err)

	assert.Contains(t, got, "title")
	assert.Contains(t, got, "NULL")
	assert.Contains(t, got, "2.5")
	assert.Contains(t, got, "┌")
	assert.True(t, strings.HasSuffix(got, "(2 rows)"), got)

	empty, err := Pretty{Style: StyleTable}.RenderTemplate(&engine.Result{Columns: []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, "(0 rows)", empty)
}

func TestMarkdown(t *testing.T) {
	got, err := Pretty{Style: StyleMarkdown}.RenderTemplate(&engine.Result{
		Columns: []string{"title"},
		Rows:    []table.Row{{"title": "A"}, {"title": "x|y"}},
	})
	require.NoError(t, err)
	lines := strings.Split(got, "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "| title |", lines[0])
	assert.Equal(t, "| A |", lines[2])
	assert.Equal(t, `| x\|y |`, lines[3])
}

func TestHTML(t *testing.T) {
	got, err := Pretty{Style: StyleHTML}.RenderTemplate(notesResult())
	require.NoError(t, err)
	assert.Contains(t, got, "<table")
	assert.Contains(t, got, "<th>title</th>")
	assert.Contains(t, got, "B &lt;b&gt;")
	assert.NotContains(t, got, "<b>")
}

func TestCSV(t *testing.T) {
	got, err := CSV{}.RenderTemplate(&engine.Result{
		Columns: []string{"title", "tags", "note"},
		Rows:    []table.Row{{"title": `say "hi"`, "tags": "a,b", "note": nil}},
	})
	require.NoError(t, err)
	assert.Equal(t, "title,tags,note\n\"say \"\"hi\"\"\",\"a,b\",\n", got)
}

func TestLookup(t *testing.T) {
	for _, format := range Formats() {
		r, err := Lookup(format)
		require.NoError(t, err, format)
		_, err = r.RenderTemplate(notesResult())
		require.NoError(t, err, format)
	}

	r, err := Lookup("md")
	require.NoError(t, err)
	assert.Equal(t, Pretty{Style: StyleMarkdown}, r)

	_, err = Lookup("yaml")
	require.ErrorIs(t, err, ErrUnknownFormat)
	assert.Contains(t, err.Error(), "yaml")

	assert.Equal(t, []string{"csv", "html", "json", "markdown", "table"}, Formats())
}

func TestFuncAdapter(t *testing.T) {
	r := Func(func(res *engine.Result) (string, error) { return "rows", nil })
	got, err := r.RenderTemplate(&engine.Result{})
	require.NoError(t, err)
	assert.Equal(t, "rows", got)
}
