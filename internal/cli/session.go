package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/kevin-cantwell/docsql/internal/config"
	"github.com/kevin-cantwell/docsql/internal/logging"
	"github.com/kevin-cantwell/docsql/internal/pipeline"
	"github.com/kevin-cantwell/docsql/internal/settings"
	"github.com/kevin-cantwell/docsql/internal/source"
	"github.com/kevin-cantwell/docsql/internal/table"
	"github.com/spf13/cobra"
)

// closeTimeout bounds the final settings flush.
const closeTimeout = 5 * time.Second

// session holds what one command invocation needs: logging, settings and,
// for commands that run queries, a pipeline.
type session struct {
	cfg      *config.Config
	levels   *logging.Levels
	console  *logging.Console
	logger   *slog.Logger
	settings *settings.Manager

	stdin          io.Reader
	stdout, stderr io.Writer

	pipeline *pipeline.Pipeline
}

func openSession(cmd *cobra.Command) (*session, error) {
	cfg := getConfig(cmd.Context())

	levels := logging.NewLevels()
	console := logging.NewConsole(0)
	logger := logging.New(cmd.ErrOrStderr(), levels, console)

	opts := []settings.Option{settings.WithLogger(logger), settings.WithConsole(console)}
	if cfg.Verbose {
		levels.SetDebug(true)
	} else {
		opts = append(opts, settings.WithLevels(levels))
	}

	mgr, err := settings.Open(cmd.Context(), settings.NewFileStore(cfg.SettingsPath), opts...)
	if err != nil {
		return nil, err
	}

	return &session{
		cfg:      cfg,
		levels:   levels,
		console:  console,
		logger:   logger,
		settings: mgr,
		stdin:    cmd.InOrStdin(),
		stdout:   cmd.OutOrStdout(),
		stderr:   cmd.ErrOrStderr(),
	}, nil
}

// loader combines the vault, the configured extra sources and extra.
func (s *session) loader(extra ...table.Loader) (table.Loader, error) {
	vault := source.NewVault(s.cfg.Vault, s.logger)
	vault.Include = s.cfg.Include
	if len(s.cfg.Exclude) > 0 {
		vault.Exclude = append(append([]string{}, source.DefaultExclude...), s.cfg.Exclude...)
	}

	loaders := source.Multi{vault}
	for _, arg := range s.cfg.SQLite {
		c, err := source.ParseURI(arg)
		if err != nil {
			return nil, err
		}
		l, err := source.NewSource(c)
		if err != nil {
			return nil, err
		}
		loaders = append(loaders, l)
	}
	return append(loaders, extra...), nil
}

// openPipeline builds the registry and pipeline. stdinFormat, when set,
// adds standard input as a table named "stdin".
func (s *session) openPipeline(ctx context.Context, stdinFormat string) (*pipeline.Pipeline, error) {
	var extra []table.Loader
	if stdinFormat != "" {
		extra = append(extra, source.NewReaderSource("stdin", stdinFormat, s.stdin))
	}
	loader, err := s.loader(extra...)
	if err != nil {
		return nil, err
	}

	p, err := pipeline.New(ctx, pipeline.Config{
		Registry:  table.NewRegistry(loader, s.logger),
		Settings:  s.settings,
		AllowHTML: s.cfg.AllowHTML,
		Timeout:   s.cfg.Timeout,
		Logger:    s.logger,
	})
	if err != nil {
		return nil, err
	}
	s.pipeline = p
	return p, nil
}

// descriptor builds a query block from the command line.
func (s *session) descriptor(name, query string, params []any) pipeline.Descriptor {
	return pipeline.Descriptor{
		Name:  name,
		Query: query,
		Config: pipeline.RenderConfig{
			Format:   s.cfg.Format,
			Strategy: s.cfg.Strategy,
			Params:   params,
		},
	}
}

func (s *session) Close() error {
	var errs []error
	if s.pipeline != nil {
		errs = append(errs, s.pipeline.Close())
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := s.settings.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush settings: %w", err))
	}
	return errors.Join(errs...)
}
