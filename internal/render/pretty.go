package render

import (
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/kevin-cantwell/docsql/internal/engine"
)

// Style selects one of go-pretty's output forms.
type Style int

const (
	StyleTable Style = iota
	StyleMarkdown
	StyleHTML
)

// Pretty renders a result through a go-pretty table writer.
type Pretty struct {
	Style Style
}

func (p Pretty) RenderTemplate(res *engine.Result) (string, error) {
	if p.Style == StyleTable && len(res.Rows) == 0 {
		return "(0 rows)", nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatDefault

	header := make(table.Row, len(res.Columns))
	for i, col := range res.Columns {
		header[i] = col
	}
	t.AppendHeader(header)

	for _, r := range res.Rows {
		row := make(table.Row, len(res.Columns))
		for i, col := range res.Columns {
			row[i] = formatValue(r[col])
		}
		t.AppendRow(row)
	}

	switch p.Style {
	case StyleMarkdown:
		return t.RenderMarkdown(), nil
	case StyleHTML:
		return t.RenderHTML(), nil
	default:
		return fmt.Sprintf("%s\n(%d rows)", t.Render(), len(res.Rows)), nil
	}
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}
