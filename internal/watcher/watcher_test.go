package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haelod/conductr/internal/service"
)

type reloadRecorder struct {
	mu    sync.Mutex
	names []string
}

func (r *reloadRecorder) reload(name string) {
	r.mu.Lock()
	r.names = append(r.names, name)
	r.mu.Unlock()
}

func (r *reloadRecorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, got := range r.names {
		if got == name {
			n++
		}
	}
	return n
}

func newDef(t *testing.T, name, dir string, exts []string, debounce time.Duration) *service.Definition {
	t.Helper()
	d := service.Definition{
		Name:          name,
		Command:       "sleep 60",
		WatchPaths:    []string{dir},
		WatchExts:     exts,
		WatchDebounce: debounce,
	}.Normalize()
	return &d
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestDebounceCollapsesBurst(t *testing.T) {
	dir := t.TempDir()
	rec := &reloadRecorder{}
	w, err := New([]*service.Definition{newDef(t, "web", dir, []string{".go"}, 150*time.Millisecond)}, rec.reload, nil)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	path := filepath.Join(dir, "main.go")
	// Two writes inside one debounce window: exactly one restart.
	require.NoError(t, os.WriteFile(path, []byte("package main\n"), 0o644))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("package main // edited\n"), 0o644))

	require.True(t, waitFor(t, 2*time.Second, func() bool { return rec.count("web") >= 1 }),
		"debounced reload never fired")
	// Allow a second window to pass; the burst must not produce another.
	time.Sleep(400 * time.Millisecond)
	require.Equal(t, 1, rec.count("web"))
	require.Equal(t, 1, w.Triggers("web"))
}

func TestSeparateBurstsTriggerSeparately(t *testing.T) {
	dir := t.TempDir()
	rec := &reloadRecorder{}
	w, err := New([]*service.Definition{newDef(t, "web", dir, nil, 100*time.Millisecond)}, rec.reload, nil)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	path := filepath.Join(dir, "app.py")
	require.NoError(t, os.WriteFile(path, []byte("x = 1\n"), 0o644))
	require.True(t, waitFor(t, 2*time.Second, func() bool { return rec.count("web") == 1 }))

	require.NoError(t, os.WriteFile(path, []byte("x = 2\n"), 0o644))
	require.True(t, waitFor(t, 2*time.Second, func() bool { return rec.count("web") == 2 }))
}

func TestExtensionFilter(t *testing.T) {
	dir := t.TempDir()
	rec := &reloadRecorder{}
	w, err := New([]*service.Definition{newDef(t, "api", dir, []string{"go"}, 80*time.Millisecond)}, rec.reload, nil)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))
	time.Sleep(300 * time.Millisecond)
	require.Equal(t, 0, rec.count("api"), "non-matching extension must not trigger")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644))
	require.True(t, waitFor(t, 2*time.Second, func() bool { return rec.count("api") == 1 }))
}

func TestNewSubdirectoryIsWatched(t *testing.T) {
	dir := t.TempDir()
	rec := &reloadRecorder{}
	w, err := New([]*service.Definition{newDef(t, "svc", dir, []string{".go"}, 80*time.Millisecond)}, rec.reload, nil)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	sub := filepath.Join(dir, "pkg")
	require.NoError(t, os.Mkdir(sub, 0o755))
	// Give the watcher a moment to register the new directory.
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(sub, "pkg.go"), []byte("package pkg\n"), 0o644))
	require.True(t, waitFor(t, 2*time.Second, func() bool { return rec.count("svc") >= 1 }),
		"change inside new subdirectory not seen")
}

func TestRecursiveRegistration(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a", "b"), 0o755))
	rec := &reloadRecorder{}
	w, err := New([]*service.Definition{newDef(t, "deep", dir, nil, 80*time.Millisecond)}, rec.reload, nil)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a", "b", "x.conf"), []byte("k=v"), 0o644))
	require.True(t, waitFor(t, 2*time.Second, func() bool { return rec.count("deep") >= 1 }))
}

func TestCloseCancelsPendingTimers(t *testing.T) {
	dir := t.TempDir()
	rec := &reloadRecorder{}
	w, err := New([]*service.Definition{newDef(t, "web", dir, nil, 500*time.Millisecond)}, rec.reload, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "f"), []byte("x"), 0o644))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, w.Close())
	time.Sleep(700 * time.Millisecond)
	require.Equal(t, 0, rec.count("web"), "reload fired after Close")
}

func TestServicesWithoutWatchPathsAreSkipped(t *testing.T) {
	plain := service.Definition{Name: "plain", Command: "sleep 1"}.Normalize()
	w, err := New([]*service.Definition{&plain}, func(string) {}, nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}
