package render

import (
	"encoding/csv"
	"strings"

	"github.com/kevin-cantwell/docsql/internal/engine"
)

// CSV renders a result as RFC 4180 CSV with a header row. NULL renders as
// an empty field.
type CSV struct{}

func (CSV) RenderTemplate(res *engine.Result) (string, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	if err := w.Write(res.Columns); err != nil {
		return "", err
	}
	record := make([]string, len(res.Columns))
	for _, row := range res.Rows {
		for i, col := range res.Columns {
			if v := row[col]; v != nil {
				record[i] = formatValue(v)
			} else {
				record[i] = ""
			}
		}
		if err := w.Write(record); err != nil {
			return "", err
		}
	}
	w.Flush()
	return sb.String(), w.Error()
}
