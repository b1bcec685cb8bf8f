// Package pipeline runs query blocks end to end: execute the query, render
// the result and hand the rendered output to a post-render strategy that
// writes it into the block's target surface.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kevin-cantwell/docsql/internal/engine"
	"github.com/kevin-cantwell/docsql/internal/funcs"
	"github.com/kevin-cantwell/docsql/internal/postrender"
	"github.com/kevin-cantwell/docsql/internal/render"
	"github.com/kevin-cantwell/docsql/internal/settings"
	"github.com/kevin-cantwell/docsql/internal/surface"
	"github.com/kevin-cantwell/docsql/internal/table"
)

// RenderConfig selects how a block's result is presented. Empty fields fall
// back to the renderFormat and postRenderStrategy settings.
type RenderConfig struct {
	Format   string
	Strategy string
	// Params are bound to the query's ? and :name placeholders.
	Params []any
}

// Descriptor is one query block as delivered by the document parser.
// Descriptors are not modified by the pipeline.
type Descriptor struct {
	// Name is optional; it only appears in logs.
	Name   string
	Query  string
	Config RenderConfig
	// Error is set by the parser when the block could not be parsed. The
	// pipeline shows it instead of running the query.
	Error string
}

// Settings is the part of *settings.Manager the pipeline reads.
type Settings interface {
	GetValue(name string) (any, error)
	IsFeatureEnabled(name string) (bool, error)
}

// RenderError is returned when the renderer or the post-render strategy
// fails. The target then shows an explicit error message.
type RenderError struct {
	Stage string // "render" or "post-render"
	Name  string // format or strategy name
	Err   error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Name, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Config configures New.
type Config struct {
	Registry *table.Registry
	Settings Settings
	// Functions are installed in addition to the built-ins.
	Functions []funcs.Func
	// Host serves the "host" strategy.
	Host      postrender.Host
	AllowHTML bool
	// Timeout bounds each query. Zero means no bound.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Pipeline is safe for concurrent use. Overlapping runs against one target
// resolve last-writer-wins.
type Pipeline struct {
	registry  *table.Registry
	settings  Settings
	engine    *engine.Engine
	host      postrender.Host
	allowHTML bool
	logger    *slog.Logger
}

// New installs the query functions and loads the registry. Either failing
// is fatal: no pipeline is returned.
func New(ctx context.Context, cfg Config) (*Pipeline, error) {
	if cfg.Registry == nil {
		return nil, errors.New("pipeline: registry is required")
	}
	if cfg.Settings == nil {
		return nil, errors.New("pipeline: settings are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := funcs.RegisterBuiltins(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if err := funcs.RegisterAll(cfg.Functions...); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if err := cfg.Registry.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("pipeline: initial refresh: %w", err)
	}

	return &Pipeline{
		registry:  cfg.Registry,
		settings:  cfg.Settings,
		engine:    engine.New(engine.WithTimeout(cfg.Timeout), engine.WithLogger(logger)),
		host:      cfg.Host,
		allowHTML: cfg.AllowHTML,
		logger:    logger.With("component", "pipeline"),
	}, nil
}

// Registry returns the registry the pipeline queries.
func (p *Pipeline) Registry() *table.Registry { return p.registry }

// Refresh reloads the registry. Runs started afterwards see the new tables.
func (p *Pipeline) Refresh(ctx context.Context) error {
	return p.registry.Refresh(ctx)
}

// Close releases the engine's database.
func (p *Pipeline) Close() error {
	return p.engine.Close()
}

// Run executes d and writes the outcome to target.
//
// A query failure is not an error of Run: the failure message is written to
// target as plain text and returned as the output. A render or post-render
// failure writes an explicit error message to target and returns a
// *RenderError.
func (p *Pipeline) Run(ctx context.Context, d Descriptor, target *surface.Surface, sourcePath string, scope *surface.Scope) (string, error) {
	logger := p.logger.With("block", d.Name, "source", sourcePath)

	if d.Error != "" {
		return p.writeText(ctx, target, d.Error), nil
	}

	format, err := p.choice(d.Config.Format, settings.KeyRenderFormat)
	if err != nil {
		return "", p.fail(ctx, target, &RenderError{Stage: "render", Name: d.Config.Format, Err: err})
	}
	renderer, err := render.Lookup(format)
	if err != nil {
		return "", p.fail(ctx, target, &RenderError{Stage: "render", Name: format, Err: err})
	}

	strategyName, err := p.choice(d.Config.Strategy, settings.KeyPostRenderStrategy)
	if err != nil {
		return "", p.fail(ctx, target, &RenderError{Stage: "post-render", Name: d.Config.Strategy, Err: err})
	}
	strategy, err := postrender.New(strategyName, postrender.Options{
		Features:  p.settings,
		Host:      p.host,
		AllowHTML: p.allowHTML,
		Logger:    p.logger,
	})
	if err != nil {
		return "", p.fail(ctx, target, &RenderError{Stage: "post-render", Name: strategyName, Err: err})
	}

	start := time.Now()
	res, err := p.engine.Execute(ctx, d.Query, p.registry, d.Config.Params...)
	if err != nil {
		var qerr *engine.QueryError
		if !errors.As(err, &qerr) {
			return "", err
		}
		logger.Info("query failed", "kind", qerr.Kind.String(), "error", qerr.Message)
		return p.writeText(ctx, target, qerr.Message), nil
	}

	content, err := renderer.RenderTemplate(res)
	if err != nil {
		return "", p.fail(ctx, target, &RenderError{Stage: "render", Name: format, Err: err})
	}

	out, err := strategy.RenderOutput(ctx, content, target, sourcePath, scope)
	if err != nil {
		return "", p.fail(ctx, target, &RenderError{Stage: "post-render", Name: strategyName, Err: err})
	}

	logger.Debug("block rendered", "format", format, "strategy", strategyName, "rows", len(res.Rows), "elapsed", time.Since(start))
	return out, nil
}

// choice returns explicit when set, else the string setting key.
func (p *Pipeline) choice(explicit, key string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	v, err := p.settings.GetValue(key)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("setting %q is %T, not a string", key, v)
	}
	return s, nil
}

func (p *Pipeline) writeText(ctx context.Context, target *surface.Surface, msg string) string {
	out, _ := postrender.Text{}.RenderOutput(ctx, msg, target, "", nil)
	return out
}

func (p *Pipeline) fail(ctx context.Context, target *surface.Surface, err *RenderError) error {
	p.logger.Error("render failed", "stage", err.Stage, "name", err.Name, "error", err.Err)
	p.writeText(ctx, target, "docsql: "+err.Error())
	return err
}
