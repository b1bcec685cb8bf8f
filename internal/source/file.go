package source

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kevin-cantwell/docsql/internal/table"
)

// FileSource reads records from a CSV, JSON or JSON-lines file.
type FileSource struct {
	name string
	path string
	ext  string
}

func NewFileSource(name, path string) (*FileSource, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !isDataFile(ext) {
		return nil, fmt.Errorf("unsupported file type %q (use .csv, .json, or .jsonl)", ext)
	}
	return &FileSource{name: name, path: path, ext: ext}, nil
}

func (s *FileSource) Name() string { return s.name }

func (s *FileSource) Load(ctx context.Context) ([]*table.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := readFile(s.name, s.path, s.ext)
	if err != nil {
		return nil, err
	}
	return []*table.Table{t}, nil
}

func isDataFile(ext string) bool {
	return ext == ".csv" || ext == ".json" || ext == ".jsonl"
}

func readFile(name, path, ext string) (*table.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", name, err)
	}
	defer f.Close()

	var t *table.Table
	switch ext {
	case ".csv":
		t, err = readCSV(name, f)
	default:
		t, err = readJSON(name, f)
	}
	if err != nil {
		return nil, fmt.Errorf("source %s: %s: %w", name, path, err)
	}
	return t, nil
}

func readCSV(name string, r io.Reader) (*table.Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return table.New(name), nil
	}
	if err != nil {
		return nil, err
	}

	t := table.New(name, header...)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return t, nil
		}
		if err != nil {
			return nil, err
		}

		rec := make(table.Row, len(header))
		for i, col := range header {
			if i < len(row) {
				rec[col] = inferType(row[i])
			} else {
				rec[col] = nil
			}
		}
		t.Append(rec)
	}
}

// readJSON accepts either a single JSON array of objects or a stream of
// objects (JSON lines). Numbers keep their integer-ness.
func readJSON(name string, r io.Reader) (*table.Table, error) {
	br := bufio.NewReader(r)
	dec := json.NewDecoder(br)
	dec.UseNumber()

	t := table.New(name)
	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return t, nil
	}
	if err != nil {
		return nil, err
	}

	if first == '[' {
		var recs []Record
		if err := dec.Decode(&recs); err != nil {
			return nil, err
		}
		for _, rec := range recs {
			t.Append(table.Row(rec))
		}
		return t, nil
	}

	for {
		var rec Record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return t, nil
		}
		if err != nil {
			return nil, err
		}
		t.Append(table.Row(rec))
	}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for i := 1; ; i++ {
		b, err := br.Peek(i)
		if err != nil {
			return 0, err
		}
		switch c := b[i-1]; c {
		case ' ', '\t', '\r', '\n':
		default:
			return c, nil
		}
	}
}

// inferType converts a CSV string value to a typed value. An empty field
// is NULL.
func inferType(s string) any {
	if s == "" {
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if !strings.ContainsAny(s, ".eE") {
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				return i
			}
		}
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}
