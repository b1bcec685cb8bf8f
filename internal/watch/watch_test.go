package watch

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kevin-cantwell/docsql/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type batches chan []string

func (b batches) onChange(_ context.Context, paths []string) error {
	b <- paths
	return nil
}

func (b batches) next(t *testing.T) []string {
	t.Helper()
	select {
	case paths := <-b:
		return paths
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
		return nil
	}
}

func (b batches) none(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case paths := <-b:
		t.Fatalf("unexpected change: %v", paths)
	case <-time.After(within):
	}
}

func start(t *testing.T, root string, b batches, opts ...Option) *Watcher {
	t.Helper()
	opts = append([]Option{
		WithDelay(func() time.Duration { return 50 * time.Millisecond }),
		WithLogger(testutil.NewTestLogger(t)),
	}, opts...)
	w, err := New(root, b.onChange, opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return w
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestReportsChanges(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "projects", "alpha.md"), "# alpha\n")
	b := make(batches, 4)
	start(t, root, b)

	write(t, filepath.Join(root, "projects", "alpha.md"), "# alpha v2\n")
	assert.Equal(t, []string{"projects/alpha.md"}, b.next(t))

	require.NoError(t, os.Remove(filepath.Join(root, "projects", "alpha.md")))
	assert.Equal(t, []string{"projects/alpha.md"}, b.next(t))
}

func TestDebounceCoalesces(t *testing.T) {
	root := t.TempDir()
	b := make(batches, 4)
	start(t, root, b, WithDelay(func() time.Duration { return 300 * time.Millisecond }))

	write(t, filepath.Join(root, "b.md"), "b")
	write(t, filepath.Join(root, "a.md"), "a")
	write(t, filepath.Join(root, "a.md"), "a2")

	assert.Equal(t, []string{"a.md", "b.md"}, b.next(t))
	b.none(t, 400*time.Millisecond)
}

func TestWatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	b := make(batches, 8)
	w := start(t, root, b)

	sub := filepath.Join(root, "daily")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.Eventually(t, func() bool {
		return slices.Contains(w.fsw.WatchList(), sub)
	}, 5*time.Second, 10*time.Millisecond)

	write(t, filepath.Join(sub, "today.md"), "- [ ] x\n")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case paths := <-b:
			if slices.Contains(paths, "daily/today.md") {
				return
			}
		case <-deadline:
			t.Fatal("new directory not watched")
		}
	}
}

func TestIgnoresHiddenAndFiltered(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".obsidian"), 0o755))
	b := make(batches, 4)
	w := start(t, root, b, WithExtensions("md", ".CSV"))

	assert.NotContains(t, w.fsw.WatchList(), filepath.Join(root, ".obsidian"))

	write(t, filepath.Join(root, ".obsidian", "app.json"), "{}")
	write(t, filepath.Join(root, ".draft.md"), "x")
	write(t, filepath.Join(root, "image.png"), "x")
	b.none(t, 200*time.Millisecond)

	write(t, filepath.Join(root, "books.csv"), "title\nDune\n")
	assert.Equal(t, []string{"books.csv"}, b.next(t))
}

func TestGate(t *testing.T) {
	root := t.TempDir()
	var enabled atomic.Bool
	b := make(batches, 4)
	start(t, root, b, WithGate(enabled.Load))

	write(t, filepath.Join(root, "off.md"), "x")
	b.none(t, 200*time.Millisecond)

	enabled.Store(true)
	write(t, filepath.Join(root, "on.md"), "x")
	assert.Equal(t, []string{"on.md"}, b.next(t))
}

func TestHandlerErrorsKeepWatching(t *testing.T) {
	root := t.TempDir()
	var calls atomic.Int32
	w, err := New(root, func(context.Context, []string) error {
		calls.Add(1)
		return assert.AnError
	}, WithDelay(func() time.Duration { return 20 * time.Millisecond }), WithLogger(testutil.NewTestLogger(t)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	write(t, filepath.Join(root, "a.md"), "a")
	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 5*time.Second, 10*time.Millisecond)
	seen := calls.Load()
	write(t, filepath.Join(root, "b.md"), "b")
	require.Eventually(t, func() bool { return calls.Load() > seen }, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestNewErrors(t *testing.T) {
	_, err := New(t.TempDir(), nil)
	require.Error(t, err)

	_, err = New(filepath.Join(t.TempDir(), "missing"), batches(nil).onChange)
	require.Error(t, err)
}

func TestDelayFallback(t *testing.T) {
	w := &Watcher{}
	assert.Equal(t, DefaultDelay, w.currentDelay())
	w.delay = func() time.Duration { return 0 }
	assert.Equal(t, DefaultDelay, w.currentDelay())
	w.delay = func() time.Duration { return time.Second }
	assert.Equal(t, time.Second, w.currentDelay())
}
