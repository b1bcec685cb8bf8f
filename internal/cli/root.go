// Package cli provides the docsql command-line interface.
package cli

import (
	"context"
	"fmt"

	"github.com/kevin-cantwell/docsql/internal/config"
	"github.com/kevin-cantwell/docsql/internal/postrender"
	"github.com/kevin-cantwell/docsql/internal/render"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "0.1.0"

type configKey struct{}

// NewRootCmd creates the docsql command tree.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "docsql",
		Short: "Query a markdown vault with SQL",
		Long: `docsql runs SQL queries against a vault of markdown notes and the
CSV, JSON and SQLite files next to them, and renders the results.

The vault exposes the tables files, tags, tasks and links, plus one table
per data file named after the file.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}
			cfg, err := config.Load(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			if cfg.Verbose && cfg.File != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Using config file: %s\n", cfg.File)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./docsql.yaml)")
	flags.String("vault", "", "vault root directory (default: .)")
	flags.String("settings-path", "", "settings file (default: <vault>/"+config.DefaultSettingsFile+")")
	flags.StringSlice("include", nil, "only read vault paths matching these globs")
	flags.StringSlice("exclude", nil, "skip vault paths matching these globs")
	flags.StringSlice("sqlite", nil, "extra sources as name=path[:table]")
	flags.String("format", "", "result format, overrides the renderFormat setting")
	flags.String("strategy", "", "post-render strategy, overrides the postRenderStrategy setting")
	flags.Bool("allow-html", false, "pass raw HTML in markdown output through")
	flags.Duration("timeout", 0, "query timeout (default 30s)")
	flags.BoolP("verbose", "v", false, "verbose output")

	_ = rootCmd.RegisterFlagCompletionFunc("format", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return render.Formats(), cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("strategy", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return postrender.Names(), cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(
		newQueryCmd(),
		newTablesCmd(),
		newFunctionsCmd(),
		newSettingsCmd(),
		newReplCmd(),
		newWatchCmd(),
	)
	return rootCmd
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func getConfig(ctx context.Context) *config.Config {
	if c, ok := ctx.Value(configKey{}).(*config.Config); ok {
		return c
	}
	return &config.Config{Vault: config.DefaultVault, SettingsPath: config.DefaultSettingsFile, Timeout: config.DefaultTimeout}
}

// withSession opens a session for the duration of fn.
func withSession(cmd *cobra.Command, fn func(*session) error) (err error) {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(s)
}
