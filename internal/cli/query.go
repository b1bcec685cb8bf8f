package cli

import (
	"database/sql"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kevin-cantwell/docsql/internal/surface"
	"github.com/spf13/cobra"
)

// Surface views accepted by --output.
const (
	viewText     = "text"
	viewMarkup   = "markup"
	viewMarkdown = "markdown"
)

type queryOptions struct {
	name        string
	params      []string
	output      string
	stdinFormat string
	sourcePath  string
}

func (o *queryOptions) addFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&o.name, "name", "", "block name shown in logs")
	f.StringArrayVarP(&o.params, "param", "p", nil, "query parameter, positional or name=value (repeatable)")
	f.StringVarP(&o.output, "output", "o", viewText, "print the rendered block as text, markup or markdown")
	f.StringVar(&o.stdinFormat, "stdin", "", "read standard input as table \"stdin\" (csv, json or jsonl)")
	f.StringVar(&o.sourcePath, "source-path", "", "document path the block belongs to")
	_ = cmd.RegisterFlagCompletionFunc("output", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{viewText, viewMarkup, viewMarkdown}, cobra.ShellCompDirectiveNoFileComp
	})
}

func newQueryCmd() *cobra.Command {
	var opts queryOptions
	cmd := &cobra.Command{
		Use:   "query [SQL]",
		Short: "Run one query and print the rendered result",
		Long: `Run one query and print the rendered result.

The query is read from the arguments, or from standard input when no
arguments are given (or the only argument is "-").`,
		Example: `  docsql query "SELECT path FROM tasks WHERE NOT completed"
  docsql query -p 2 "SELECT * FROM files LIMIT ?"
  docsql --format markdown query -p tag=project "SELECT path FROM tags WHERE tag = :tag"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkView(opts.output); err != nil {
				return err
			}
			params, err := parseParams(opts.params)
			if err != nil {
				return err
			}
			return withSession(cmd, func(s *session) error {
				query, err := queryText(args, s.stdin, opts.stdinFormat != "")
				if err != nil {
					return err
				}
				p, err := s.openPipeline(cmd.Context(), opts.stdinFormat)
				if err != nil {
					return err
				}

				target := surface.New()
				scope := surface.NewScope()
				defer scope.Close()

				if _, err := p.Run(cmd.Context(), s.descriptor(opts.name, query, params), target, opts.sourcePath, scope); err != nil {
					_ = printSurface(s.stdout, target, opts.output)
					return err
				}
				return printSurface(s.stdout, target, opts.output)
			})
		},
	}
	opts.addFlags(cmd)
	return cmd
}

// queryText joins args into a query, falling back to stdin.
func queryText(args []string, stdin io.Reader, stdinIsData bool) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	if stdinIsData {
		return "", fmt.Errorf("a query argument is required when --stdin is set")
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read query: %w", err)
	}
	q := strings.TrimSpace(string(b))
	if q == "" {
		return "", fmt.Errorf("no query given")
	}
	return q, nil
}

// parseParams turns --param values into query arguments. "name=value"
// becomes a named argument bound to :name, anything else is positional.
func parseParams(raw []string) ([]any, error) {
	out := make([]any, 0, len(raw))
	for _, p := range raw {
		name, value, ok := strings.Cut(p, "=")
		if ok && isIdent(name) {
			out = append(out, sql.Named(name, paramValue(value)))
			continue
		}
		if ok && name == "" {
			return nil, fmt.Errorf("invalid parameter %q", p)
		}
		out = append(out, paramValue(p))
	}
	return out, nil
}

func paramValue(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	return s
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

func checkView(view string) error {
	switch view {
	case "", viewText, viewMarkup, viewMarkdown:
		return nil
	}
	return fmt.Errorf("unknown output %q (want %s, %s or %s)", view, viewText, viewMarkup, viewMarkdown)
}

// printSurface writes the target's content in the requested view.
func printSurface(w io.Writer, target *surface.Surface, view string) error {
	var out string
	switch view {
	case "", viewText:
		out = target.Text()
	case viewMarkup:
		out = target.Markup()
	case viewMarkdown:
		md, err := target.Markdown()
		if err != nil {
			return fmt.Errorf("convert to markdown: %w", err)
		}
		out = md
	default:
		return checkView(view)
	}
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	_, err := io.WriteString(w, out)
	return err
}
