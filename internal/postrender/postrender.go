// Package postrender injects rendered query output into a target surface.
//
// A Strategy is chosen once per pipeline configuration. Every strategy
// replaces the target's content wholesale, so invoking it repeatedly on the
// same target overwrites rather than accumulates, and it writes only after
// its conversion succeeded.
package postrender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/kevin-cantwell/docsql/internal/surface"
)

var (
	// ErrUnknownStrategy is returned by New for unregistered names.
	ErrUnknownStrategy = errors.New("unknown post-render strategy")
	// ErrNoHost is returned by New("host") when Options.Host is nil.
	ErrNoHost = errors.New("host strategy requires a host")
)

// Strategy writes content to target.
//
// sourcePath identifies the document the content came from. scope bounds
// any resources created while rendering; they are released when it closes.
type Strategy interface {
	RenderOutput(ctx context.Context, content string, target *surface.Surface, sourcePath string, scope *surface.Scope) (string, error)
}

// Features reports feature flags. *settings.Manager implements it.
type Features interface {
	IsFeatureEnabled(name string) (bool, error)
}

// Options configures the strategies built by New.
type Options struct {
	// Features gates optional behaviour such as rich embeds. Nil disables
	// every optional feature.
	Features Features
	// Host receives content for the host strategy.
	Host Host
	// AllowHTML passes raw HTML in markdown through unchanged.
	AllowHTML bool
	Logger    *slog.Logger
}

const (
	NameText     = "text"
	NameHTML     = "html"
	NameMarkdown = "markdown"
	NameHost     = "host"
)

var constructors = map[string]func(Options) (Strategy, error){
	NameText:     func(Options) (Strategy, error) { return Text{}, nil },
	NameHTML:     func(Options) (Strategy, error) { return Markup{}, nil },
	NameMarkdown: func(o Options) (Strategy, error) { return NewRich(o), nil },
	NameHost: func(o Options) (Strategy, error) {
		if o.Host == nil {
			return nil, ErrNoHost
		}
		return Delegated{Host: o.Host}, nil
	},
}

// New returns the strategy registered under name.
func New(name string, opts Options) (Strategy, error) {
	ctor, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (want one of %v)", ErrUnknownStrategy, name, Names())
	}
	return ctor(opts)
}

// Names lists the registered strategy names, sorted.
func Names() []string {
	out := make([]string, 0, len(constructors))
	for name := range constructors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Text sets the target's text content to content verbatim.
type Text struct{}

func (Text) RenderOutput(_ context.Context, content string, target *surface.Surface, _ string, _ *surface.Scope) (string, error) {
	target.SetText(content)
	return content, nil
}

// Markup sets the target's markup to content verbatim. The caller vouches
// that content is safe markup.
type Markup struct{}

func (Markup) RenderOutput(_ context.Context, content string, target *surface.Surface, _ string, _ *surface.Scope) (string, error) {
	target.SetMarkup(content)
	return content, nil
}

// Host is the host application's own rendering pipeline.
type Host interface {
	Render(ctx context.Context, content string, target *surface.Surface, sourcePath string, scope *surface.Scope) error
}

// HostFunc adapts a function to the Host interface.
type HostFunc func(ctx context.Context, content string, target *surface.Surface, sourcePath string, scope *surface.Scope) error

// Render calls f.
func (f HostFunc) Render(ctx context.Context, content string, target *surface.Surface, sourcePath string, scope *surface.Scope) error {
	return f(ctx, content, target, sourcePath, scope)
}

// Delegated hands content to the host. The returned string is always empty;
// callers must not use it.
type Delegated struct {
	Host Host
}

func (d Delegated) RenderOutput(ctx context.Context, content string, target *surface.Surface, sourcePath string, scope *surface.Scope) (string, error) {
	if err := d.Host.Render(ctx, content, target, sourcePath, scope); err != nil {
		return "", fmt.Errorf("host render: %w", err)
	}
	return "", nil
}
