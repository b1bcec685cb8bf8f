package engine

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/kevin-cantwell/docsql/internal/funcs"
	"modernc.org/sqlite"
)

// Kind classifies a QueryError.
type Kind int

const (
	KindExecution Kind = iota
	KindEmpty
	KindSyntax
	KindUnknownTable
	KindUnknownColumn
	KindFunction
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty query"
	case KindSyntax:
		return "syntax error"
	case KindUnknownTable:
		return "unknown table"
	case KindUnknownColumn:
		return "unknown column"
	case KindFunction:
		return "function error"
	default:
		return "execution error"
	}
}

// QueryError is the only error type Execute returns. Message is meant to be
// shown to the user in place of a result.
type QueryError struct {
	Kind    Kind
	Message string
	Query   string
	Err     error
}

func (e *QueryError) Error() string {
	return e.Message
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

func queryErrorf(kind Kind, query string, format string, args ...any) *QueryError {
	return &QueryError{Kind: kind, Query: query, Message: fmt.Sprintf(format, args...)}
}

var sqliteCode = regexp.MustCompile(`\s\(\d+\)( \(SQLITE_BUSY\))?$`)

// classify turns a driver error into a QueryError.
func classify(query string, err error) *QueryError {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe
	}

	msg := err.Error()
	var se *sqlite.Error
	if errors.As(err, &se) {
		msg = se.Error()
	}
	msg = sqliteCode.ReplaceAllString(msg, "")
	msg = strings.TrimPrefix(msg, "SQL logic error: ")

	kind := KindExecution
	switch {
	case strings.Contains(msg, "no such table"):
		kind = KindUnknownTable
	case strings.Contains(msg, "no such column"):
		kind = KindUnknownColumn
	case strings.Contains(msg, "syntax error"), strings.Contains(msg, "incomplete input"), strings.Contains(msg, "unrecognized token"):
		kind = KindSyntax
	case strings.Contains(msg, "no such function"), strings.Contains(msg, "wrong number of arguments to function"), isFuncFailure(msg):
		kind = KindFunction
	case strings.Contains(msg, "attempt to write a readonly database"):
		msg = "queries are read-only"
	}
	return &QueryError{Kind: kind, Query: query, Message: msg, Err: err}
}

// isFuncFailure reports whether msg comes from one of the registered
// functions, which prefix their errors with their name.
func isFuncFailure(msg string) bool {
	for _, fn := range funcs.List() {
		if strings.HasPrefix(msg, fn.Name+":") || strings.HasPrefix(msg, "function "+fn.Name+":") {
			return true
		}
	}
	return false
}
