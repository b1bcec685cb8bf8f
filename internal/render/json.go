package render

import (
	"bytes"
	"encoding/json"
	"math"

	"github.com/kevin-cantwell/docsql/internal/engine"
)

// JSON renders a result as a compact JSON array of objects whose keys
// follow the column order, e.g. [{"title":"A"}]. An empty result is [].
// The output is byte-for-byte stable for a given result.
type JSON struct{}

func (JSON) RenderTemplate(res *engine.Result) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	buf.WriteByte('[')
	for i, row := range res.Rows {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		seen := make(map[string]bool, len(res.Columns))
		n := 0
		for _, col := range res.Columns {
			if seen[col] {
				continue
			}
			seen[col] = true
			if n > 0 {
				buf.WriteByte(',')
			}
			n++
			if err := writeJSON(&buf, enc, col); err != nil {
				return "", err
			}
			buf.WriteByte(':')
			if err := writeJSON(&buf, enc, row[col]); err != nil {
				return "", err
			}
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.String(), nil
}

// writeJSON encodes v without the trailing newline json.Encoder appends.
// Infinities are spelled 9e999 and -9e999 as SQLite's json() does; NaN is
// null.
func writeJSON(buf *bytes.Buffer, enc *json.Encoder, v any) error {
	if f, ok := v.(float64); ok {
		switch {
		case math.IsInf(f, 1):
			buf.WriteString("9e999")
			return nil
		case math.IsInf(f, -1):
			buf.WriteString("-9e999")
			return nil
		case math.IsNaN(f):
			buf.WriteString("null")
			return nil
		}
	}
	if err := enc.Encode(v); err != nil {
		return err
	}
	buf.Truncate(buf.Len() - 1)
	return nil
}
