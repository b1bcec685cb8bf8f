package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/kevin-cantwell/docsql/internal/funcs"
	tbl "github.com/kevin-cantwell/docsql/internal/table"
	"github.com/spf13/cobra"
)

func newTablesCmd() *cobra.Command {
	var columns bool
	cmd := &cobra.Command{
		Use:   "tables [NAME...]",
		Short: "List the tables queries can use",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(s *session) error {
				p, err := s.openPipeline(cmd.Context(), "")
				if err != nil {
					return err
				}
				snap := p.Registry().Snapshot()
				names := args
				if len(names) == 0 {
					names = snap.Names()
				}
				for _, name := range names {
					if _, ok := snap.Tables[name]; !ok {
						return fmt.Errorf("%w: %q", tbl.ErrTableNotFound, name)
					}
				}
				writeTables(s.stdout, snap, names, columns || len(args) > 0)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&columns, "columns", "c", false, "list each table's columns")
	return cmd
}

// writeTables prints one row per table, or per column when detailed.
func writeTables(w io.Writer, snap *tbl.Snapshot, names []string, detailed bool) {
	t := newListWriter(w)
	if !detailed {
		t.AppendHeader(table.Row{"Name", "Columns", "Rows"})
		for _, name := range names {
			tb := snap.Tables[name]
			t.AppendRow(table.Row{name, len(tb.Columns), len(tb.Rows)})
		}
		t.Render()
		return
	}

	t.AppendHeader(table.Row{"Table", "Column", "Type"})
	for _, name := range names {
		tb := snap.Tables[name]
		for _, col := range tb.Columns {
			t.AppendRow(table.Row{name, col, columnType(tb, col)})
		}
	}
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 1, AutoMerge: true}})
	t.Render()
}

// columnType names the kind of the first non-null value in col.
func columnType(t *tbl.Table, col string) string {
	for _, row := range t.Rows {
		switch row[col].(type) {
		case nil:
			continue
		case bool:
			return "boolean"
		case int64:
			return "integer"
		case float64:
			return "real"
		case string:
			return "text"
		default:
			return fmt.Sprintf("%T", row[col])
		}
	}
	return ""
}

func newFunctionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "functions",
		Aliases: []string{"funcs"},
		Short:   "List the custom SQL functions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := funcs.RegisterBuiltins(); err != nil {
				return err
			}
			writeFunctions(cmd.OutOrStdout(), funcs.List())
			return nil
		},
	}
}

func writeFunctions(w io.Writer, fns []funcs.Func) {
	t := newListWriter(w)
	t.AppendHeader(table.Row{"Name", "Args", "Deterministic", "Description"})
	for _, fn := range fns {
		args := "any"
		if fn.NArgs != funcs.Variadic {
			args = strconv.Itoa(int(fn.NArgs))
		}
		t.AppendRow(table.Row{fn.Name, args, fn.Deterministic, fn.Doc})
	}
	t.Render()
}

func newListWriter(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatDefault
	return t
}
