package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/kevin-cantwell/docsql/internal/funcs"
	"github.com/kevin-cantwell/docsql/internal/pipeline"
	"github.com/kevin-cantwell/docsql/internal/postrender"
	"github.com/kevin-cantwell/docsql/internal/render"
	"github.com/kevin-cantwell/docsql/internal/settings"
	"github.com/kevin-cantwell/docsql/internal/surface"
	"github.com/spf13/cobra"
)

const (
	replPrompt         = "docsql> "
	replContinuePrompt = "   ...> "
)

const replHelp = `Queries run when a line ends with ";".

  \dt            list tables
  \d NAME        describe a table
  \df            list functions
  \f [FORMAT]    show or set the result format for this session
  \s [STRATEGY]  show or set the post-render strategy for this session
  \o [VIEW]      show or set the output view (text, markup, markdown)
  \r             reload the vault
  \debug         flip debug logging
  \?             this help
  \q             quit
`

func newReplCmd() *cobra.Command {
	var history string
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Query the vault interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(s *session) error {
				p, err := s.openPipeline(cmd.Context(), "")
				if err != nil {
					return err
				}
				r := newRepl(s, p)
				if history != "" {
					if err := os.MkdirAll(filepath.Dir(history), 0o755); err != nil {
						s.logger.Warn("history disabled", "error", err)
						history = ""
					}
				}

				l, err := readline.NewEx(&readline.Config{
					Prompt:          replPrompt,
					HistoryFile:     history,
					InterruptPrompt: "^C",
					EOFPrompt:       "exit",
					AutoComplete:    r.completer(),
					Stdin:           io.NopCloser(s.stdin),
					Stdout:          s.stdout,
					Stderr:          s.stderr,
				})
				if err != nil {
					return err
				}
				defer l.Close()

				fmt.Fprintln(s.stdout, `Welcome to docsql. Type \? for help.`)
				return r.loop(cmd.Context(), l)
			})
		},
	}
	cmd.Flags().StringVar(&history, "history", defaultHistoryFile(), "history file (empty disables history)")
	return cmd
}

func defaultHistoryFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "docsql", "history")
}

type repl struct {
	s        *session
	p        *pipeline.Pipeline
	out      io.Writer
	format   string
	strategy string
	view     string
	pending  strings.Builder
}

func newRepl(s *session, p *pipeline.Pipeline) *repl {
	return &repl{s: s, p: p, out: s.stdout, format: s.cfg.Format, strategy: s.cfg.Strategy, view: viewText}
}

func (r *repl) loop(ctx context.Context, l *readline.Instance) error {
	for {
		line, err := l.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 && r.pending.Len() == 0 {
				return nil
			}
			r.pending.Reset()
			l.SetPrompt(replPrompt)
			continue
		} else if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		quit, err := r.eval(ctx, line)
		if err != nil {
			fmt.Fprintln(r.out, "Error:", err)
		}
		if quit || ctx.Err() != nil {
			return nil
		}
		if r.pending.Len() > 0 {
			l.SetPrompt(replContinuePrompt)
		} else {
			l.SetPrompt(replPrompt)
		}
	}
}

// eval handles one input line. It reports whether the session should end.
func (r *repl) eval(ctx context.Context, line string) (bool, error) {
	trimmed := strings.TrimSpace(line)
	if r.pending.Len() == 0 {
		switch {
		case trimmed == "":
			return false, nil
		case trimmed == "quit" || trimmed == "exit":
			return true, nil
		case strings.HasPrefix(trimmed, `\`):
			return r.command(ctx, trimmed)
		}
	}

	r.pending.WriteString(line)
	r.pending.WriteByte('\n')
	if !strings.HasSuffix(trimmed, ";") {
		return false, nil
	}
	query := r.pending.String()
	r.pending.Reset()
	return false, r.run(ctx, query)
}

func (r *repl) run(ctx context.Context, query string) error {
	target := surface.New()
	scope := surface.NewScope()
	defer scope.Close()

	d := pipeline.Descriptor{
		Query:  query,
		Config: pipeline.RenderConfig{Format: r.format, Strategy: r.strategy},
	}
	_, err := r.p.Run(ctx, d, target, "", scope)
	if perr := printSurface(r.out, target, r.view); perr != nil {
		return perr
	}
	var rerr *pipeline.RenderError
	if errors.As(err, &rerr) {
		// Already shown in the output.
		return nil
	}
	return err
}

func (r *repl) command(ctx context.Context, cmd string) (bool, error) {
	name, arg, _ := strings.Cut(cmd, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case `\q`:
		return true, nil
	case `\?`, `\h`:
		fmt.Fprint(r.out, replHelp)
	case `\dt`:
		snap := r.p.Registry().Snapshot()
		writeTables(r.out, snap, snap.Names(), false)
	case `\d`:
		snap := r.p.Registry().Snapshot()
		if arg == "" {
			writeTables(r.out, snap, snap.Names(), false)
			return false, nil
		}
		if _, ok := snap.Tables[arg]; !ok {
			return false, fmt.Errorf("did not find any table named %q", arg)
		}
		writeTables(r.out, snap, []string{arg}, true)
	case `\df`:
		writeFunctions(r.out, funcs.List())
	case `\f`:
		if arg == "" {
			fmt.Fprintln(r.out, r.current(r.format, settings.KeyRenderFormat))
			return false, nil
		}
		if _, err := render.Lookup(arg); err != nil {
			return false, err
		}
		r.format = arg
	case `\s`:
		if arg == "" {
			fmt.Fprintln(r.out, r.current(r.strategy, settings.KeyPostRenderStrategy))
			return false, nil
		}
		if err := checkChoice(settings.KeyPostRenderStrategy, arg); err != nil {
			return false, err
		}
		r.strategy = arg
	case `\o`:
		if arg == "" {
			fmt.Fprintln(r.out, r.view)
			return false, nil
		}
		if err := checkView(arg); err != nil {
			return false, err
		}
		r.view = arg
	case `\r`:
		if err := r.p.Refresh(ctx); err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "%d tables\n", len(r.p.Registry().Names()))
	case `\debug`:
		fmt.Fprintf(r.out, "%s = %t\n", settings.FeatureDebug, r.s.settings.ToggleDebug())
	default:
		return false, fmt.Errorf(`unknown command %s (try \?)`, name)
	}
	return false, nil
}

// current returns the session override, or the setting it falls back to.
func (r *repl) current(override, key string) string {
	if override != "" {
		return override
	}
	v, _ := r.s.settings.GetValue(key)
	return fmt.Sprint(v)
}

func (r *repl) completer() *readline.PrefixCompleter {
	tables := readline.PcItemDynamic(func(string) []string { return r.p.Registry().Names() })
	return readline.NewPrefixCompleter(
		readline.PcItem(`\dt`),
		readline.PcItem(`\d`, tables),
		readline.PcItem(`\df`),
		readline.PcItem(`\f`, readline.PcItemDynamic(func(string) []string { return render.Formats() })),
		readline.PcItem(`\s`, readline.PcItemDynamic(func(string) []string { return postrender.Names() })),
		readline.PcItem(`\o`, readline.PcItem(viewText), readline.PcItem(viewMarkup), readline.PcItem(viewMarkdown)),
		readline.PcItem(`\r`),
		readline.PcItem(`\debug`),
		readline.PcItem(`\q`),
		readline.PcItem("SELECT"),
	)
}
