// Package render turns query results into text.
//
// Every Renderer is a pure function of the result: no side effects, and
// any well-formed *engine.Result renders without error.
package render

import (
	"errors"
	"fmt"
	"sort"

	"github.com/kevin-cantwell/docsql/internal/engine"
)

// ErrUnknownFormat is returned by Lookup for unregistered format names.
var ErrUnknownFormat = errors.New("unknown render format")

// Renderer converts a query result to its textual form.
type Renderer interface {
	RenderTemplate(res *engine.Result) (string, error)
}

// Func adapts a function to the Renderer interface.
type Func func(res *engine.Result) (string, error)

// RenderTemplate calls f.
func (f Func) RenderTemplate(res *engine.Result) (string, error) { return f(res) }

const (
	FormatJSON     = "json"
	FormatTable    = "table"
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
	FormatCSV      = "csv"
)

var renderers = map[string]Renderer{
	FormatJSON:     JSON{},
	FormatTable:    Pretty{Style: StyleTable},
	FormatMarkdown: Pretty{Style: StyleMarkdown},
	FormatHTML:     Pretty{Style: StyleHTML},
	FormatCSV:      CSV{},
}

var aliases = map[string]string{
	"md":   FormatMarkdown,
	"text": FormatTable,
}

// Lookup returns the renderer registered under format.
func Lookup(format string) (Renderer, error) {
	if canonical, ok := aliases[format]; ok {
		format = canonical
	}
	r, ok := renderers[format]
	if !ok {
		return nil, fmt.Errorf("%w: %q (want one of %v)", ErrUnknownFormat, format, Formats())
	}
	return r, nil
}

// Formats lists the registered format names, sorted.
func Formats() []string {
	out := make([]string, 0, len(renderers))
	for name := range renderers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
