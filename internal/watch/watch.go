// Package watch reports file changes under a vault root, debounced, so
// callers can refresh the table registry and re-render.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDelay is used when no delay is configured or the configured delay
// is not positive.
const DefaultDelay = 500 * time.Millisecond

// OnChange receives the slash-separated paths, relative to the root, that
// changed during one debounce window. Paths are sorted and unique.
type OnChange func(ctx context.Context, paths []string) error

// Option configures a Watcher.
type Option func(*Watcher)

// WithDelay sets the debounce delay. The function is consulted each time a
// window opens, so a changed reRenderDelay setting applies to the next batch.
func WithDelay(delay func() time.Duration) Option {
	return func(w *Watcher) { w.delay = delay }
}

// WithGate drops events while enabled returns false.
func WithGate(enabled func() bool) Option {
	return func(w *Watcher) { w.enabled = enabled }
}

// WithExtensions limits reported files to the given extensions. Without it
// every non-hidden file is reported.
func WithExtensions(exts ...string) Option {
	return func(w *Watcher) {
		w.exts = make(map[string]bool, len(exts))
		for _, ext := range exts {
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			w.exts[strings.ToLower(ext)] = true
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) { w.logger = logger }
}

// Watcher watches a directory tree. Hidden directories are not watched.
type Watcher struct {
	root     string
	onChange OnChange
	delay    func() time.Duration
	enabled  func() bool
	exts     map[string]bool
	logger   *slog.Logger

	fsw     *fsnotify.Watcher
	pending map[string]struct{}
}

// New creates a Watcher and registers watches on root and every non-hidden
// directory below it. Run must be called to process events.
func New(root string, onChange OnChange, opts ...Option) (*Watcher, error) {
	if onChange == nil {
		return nil, errors.New("watch: onChange is required")
	}
	w := &Watcher{
		root:     filepath.Clean(root),
		onChange: onChange,
		pending:  map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	w.logger = w.logger.With("component", "watch")

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	w.fsw = fsw

	if err := w.addRecursive(w.root, false); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", root, err)
	}
	return w, nil
}

// Run processes events until ctx is done, then closes the underlying
// watcher. OnChange runs on this goroutine; its errors are logged.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.fsw.Close() }()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.handle(event) {
				continue
			}
			d := w.currentDelay()
			if timer == nil {
				timer = time.NewTimer(d)
			} else {
				timer.Reset(d)
			}
			fire = timer.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", "error", err)

		case <-fire:
			fire = nil
			w.flush(ctx)
		}
	}
}

// handle records event and reports whether anything became pending.
func (w *Watcher) handle(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	rel, ok := w.rel(event.Name)
	if !ok || hidden(rel) {
		return false
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			// Files created before the watch is in place would be missed.
			if err := w.addRecursive(event.Name, true); err != nil {
				w.logger.Warn("failed to watch new directory", "path", rel, "error", err)
			}
			return w.enabledNow() && len(w.pending) > 0
		}
	}

	if !w.wanted(rel) {
		return false
	}
	if !w.enabledNow() {
		w.logger.Debug("live refresh disabled, change ignored", "path", rel)
		return false
	}
	w.pending[rel] = struct{}{}
	w.logger.Debug("change detected", "path", rel, "op", event.Op.String())
	return true
}

func (w *Watcher) flush(ctx context.Context) {
	if len(w.pending) == 0 {
		return
	}
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	clear(w.pending)
	slices.Sort(paths)

	if !w.enabledNow() {
		return
	}
	w.logger.Info("files changed", "count", len(paths))
	if err := w.onChange(ctx, paths); err != nil {
		w.logger.Error("change handler failed", "error", err)
	}
}

// addRecursive watches dir and its non-hidden subdirectories. With
// markFiles the files found are queued as changes.
func (w *Watcher) addRecursive(dir string, markFiles bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != w.root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			if markFiles {
				if rel, ok := w.rel(path); ok && w.wanted(rel) && w.enabledNow() {
					w.pending[rel] = struct{}{}
				}
			}
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			return err
		}
		w.logger.Debug("watching directory", "path", path)
		return nil
	})
}

func (w *Watcher) rel(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (w *Watcher) wanted(rel string) bool {
	if w.exts == nil {
		return true
	}
	return w.exts[strings.ToLower(filepath.Ext(rel))]
}

func (w *Watcher) enabledNow() bool {
	return w.enabled == nil || w.enabled()
}

func (w *Watcher) currentDelay() time.Duration {
	if w.delay == nil {
		return DefaultDelay
	}
	if d := w.delay(); d > 0 {
		return d
	}
	return DefaultDelay
}

func hidden(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}
