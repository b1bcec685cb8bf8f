package postrender

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/kevin-cantwell/docsql/internal/surface"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// FeatureRichEmbeds turns ![[target]] embeds into embed containers backed
// by scope-bound components.
const FeatureRichEmbeds = "richEmbeds"

// Rich interprets content as markdown (GitHub flavoured, plus [[wiki links]])
// and writes the resulting markup.
type Rich struct {
	features  Features
	allowHTML bool
	logger    *slog.Logger
}

// NewRich creates the markdown strategy.
func NewRich(opts Options) *Rich {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Rich{
		features:  opts.Features,
		allowHTML: opts.AllowHTML,
		logger:    logger.With("component", "postrender"),
	}
}

// Embed is the component behind an embed container. It lives until the
// scope it was rendered into closes or the target is overwritten.
type Embed struct {
	id         string
	Target     string
	SourcePath string
	closed     atomic.Bool
}

func (e *Embed) ID() string { return e.id }

// Closed reports whether the embed has been released.
func (e *Embed) Closed() bool { return e.closed.Load() }

func (e *Embed) Close() error {
	e.closed.Store(true)
	return nil
}

func (r *Rich) RenderOutput(ctx context.Context, content string, target *surface.Surface, sourcePath string, scope *surface.Scope) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if scope == nil {
		scope = surface.NewScope()
	}
	owner := scope.Child()

	var embed embedFunc
	if r.enabled(FeatureRichEmbeds) {
		embed = func(t string) (string, bool) {
			e := &Embed{id: uuid.NewString(), Target: t, SourcePath: sourcePath}
			owner.AddChild(e)
			return e.id, true
		}
	}

	rendererOpts := []goldmark.Option{
		goldmark.WithExtensions(extension.GFM, &wikiLinks{embed: embed}),
	}
	if r.allowHTML {
		rendererOpts = append(rendererOpts, goldmark.WithRendererOptions(html.WithUnsafe()))
	}
	md := goldmark.New(rendererOpts...)

	var buf bytes.Buffer
	if err := md.Convert([]byte(content), &buf); err != nil {
		_ = owner.Close()
		return "", fmt.Errorf("convert markdown: %w", err)
	}

	markup := buf.String()
	target.Replace(markup, owner)
	r.logger.Debug("rendered markdown", "source", sourcePath, "embeds", len(owner.Components()))
	return markup, nil
}

func (r *Rich) enabled(feature string) bool {
	if r.features == nil {
		return false
	}
	on, err := r.features.IsFeatureEnabled(feature)
	if err != nil {
		r.logger.Warn("feature lookup failed", "feature", feature, "error", err)
		return false
	}
	return on
}
