package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kevin-cantwell/docsql/internal/pipeline"
	"github.com/kevin-cantwell/docsql/internal/settings"
	"github.com/kevin-cantwell/docsql/internal/surface"
	"github.com/kevin-cantwell/docsql/internal/watch"
	"github.com/spf13/cobra"
)

// watchedExtensions are the vault files that feed tables.
var watchedExtensions = []string{".md", ".csv", ".json", ".jsonl"}

func newWatchCmd() *cobra.Command {
	var opts queryOptions
	cmd := &cobra.Command{
		Use:   "watch SQL",
		Short: "Re-run a query whenever the vault changes",
		Long: `Run a query, print the result, and run it again each time a note or
data file in the vault changes. Changes are batched for reRenderDelay
milliseconds. Nothing is re-run while the liveRefresh feature is off.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkView(opts.output); err != nil {
				return err
			}
			params, err := parseParams(opts.params)
			if err != nil {
				return err
			}
			return withSession(cmd, func(s *session) error {
				p, err := s.openPipeline(cmd.Context(), "")
				if err != nil {
					return err
				}
				b := &block{
					s:          s,
					p:          p,
					d:          s.descriptor(opts.name, strings.Join(args, " "), params),
					target:     surface.New(),
					sourcePath: opts.sourcePath,
					view:       opts.output,
				}
				defer b.close()
				if err := b.render(cmd.Context()); err != nil {
					return err
				}

				if on, _ := s.settings.IsFeatureEnabled(settings.FeatureLiveRefresh); !on {
					s.logger.Warn("liveRefresh is off; changes will not be shown until it is enabled")
				}

				w, err := watch.New(s.cfg.Vault, b.onChange,
					watch.WithDelay(s.settings.ReRenderDelay),
					watch.WithGate(func() bool {
						on, _ := s.settings.IsFeatureEnabled(settings.FeatureLiveRefresh)
						return on
					}),
					watch.WithExtensions(watchedExtensions...),
					watch.WithLogger(s.logger),
				)
				if err != nil {
					return err
				}
				return w.Run(cmd.Context())
			})
		},
	}
	opts.addFlags(cmd)
	return cmd
}

// block is one query kept up to date in a single target.
type block struct {
	s          *session
	p          *pipeline.Pipeline
	d          pipeline.Descriptor
	target     *surface.Surface
	sourcePath string
	view       string
	scope      *surface.Scope
}

func (b *block) onChange(ctx context.Context, paths []string) error {
	if err := b.p.Refresh(ctx); err != nil {
		return err
	}
	fmt.Fprintf(b.s.stdout, "-- changed: %s\n", strings.Join(paths, ", "))
	return b.render(ctx)
}

// render runs the block and prints the target. Resources of the previous
// run are released once the new output is in place.
func (b *block) render(ctx context.Context) error {
	scope := surface.NewScope()
	_, err := b.p.Run(ctx, b.d, b.target, b.sourcePath, scope)

	prev := b.scope
	b.scope = scope
	if prev != nil {
		_ = prev.Close()
	}

	if perr := printSurface(b.s.stdout, b.target, b.view); perr != nil {
		return perr
	}
	var rerr *pipeline.RenderError
	if errors.As(err, &rerr) {
		return nil
	}
	return err
}

func (b *block) close() {
	if b.scope != nil {
		_ = b.scope.Close()
	}
}
