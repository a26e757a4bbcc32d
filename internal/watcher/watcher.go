// Package watcher triggers hot-reload restarts when files under a service's
// watch paths change. Bursts of change events within the service's debounce
// window collapse into a single restart trigger.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/haelod/conductr/internal/service"
)

// ReloadFunc is invoked with the owning service's name after the debounce
// window closes. It runs on the watcher's goroutine; slow reload paths
// should hand off.
type ReloadFunc func(name string)

// Watcher owns one fsnotify instance for all watched services.
type Watcher struct {
	fsw    *fsnotify.Watcher
	reload ReloadFunc
	log    *slog.Logger

	mu       sync.Mutex
	byDir    map[string][]*target // watched directory -> owning targets
	timers   map[string]*time.Timer
	triggers map[string]int // per-service trigger count, for tests and status
	closed   bool
}

type target struct {
	name     string
	exts     []string
	debounce time.Duration
}

// New creates a watcher and registers every service that has WatchPaths.
// Directories are added recursively; services without watch paths are
// skipped.
func New(defs []*service.Definition, reload ReloadFunc, log *slog.Logger) (*Watcher, error) {
	if reload == nil {
		return nil, fmt.Errorf("watcher: reload func is required")
	}
	if log == nil {
		log = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}
	w := &Watcher{
		fsw:      fsw,
		reload:   reload,
		log:      log,
		byDir:    make(map[string][]*target),
		timers:   make(map[string]*time.Timer),
		triggers: make(map[string]int),
	}
	for _, d := range defs {
		if len(d.WatchPaths) == 0 {
			continue
		}
		t := &target{name: d.Name, exts: normalizeExts(d.WatchExts), debounce: d.WatchDebounce}
		for _, p := range d.WatchPaths {
			if err := w.addTree(p, t); err != nil {
				_ = fsw.Close()
				return nil, fmt.Errorf("watcher: service %s: %w", d.Name, err)
			}
		}
	}
	return w, nil
}

// addTree registers dir and every subdirectory for the target.
func (w *Watcher) addTree(root string, t *target) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	return filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if base := d.Name(); base != "." && strings.HasPrefix(base, ".") && path != abs {
			return filepath.SkipDir
		}
		return w.addDir(path, t)
	})
}

func (w *Watcher) addDir(dir string, t *target) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	owners := w.byDir[dir]
	for _, o := range owners {
		if o == t {
			return nil
		}
	}
	if len(owners) == 0 {
		if err := w.fsw.Add(dir); err != nil {
			return err
		}
	}
	w.byDir[dir] = append(owners, t)
	return nil
}

// Start runs the event loop until ctx is cancelled or Close is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.loop(ctx)
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) &&
		!ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
		return
	}
	dir := filepath.Dir(ev.Name)
	w.mu.Lock()
	owners := append([]*target(nil), w.byDir[dir]...)
	w.mu.Unlock()
	if len(owners) == 0 {
		return
	}

	// A newly created subdirectory joins the watch for all owners of its
	// parent.
	if ev.Has(fsnotify.Create) {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			for _, t := range owners {
				if err := w.addDir(ev.Name, t); err != nil {
					w.log.Warn("could not watch new directory", "dir", ev.Name, "error", err)
				}
			}
			return
		}
	}

	ext := strings.ToLower(filepath.Ext(ev.Name))
	for _, t := range owners {
		if !t.matches(ext) {
			continue
		}
		w.log.Debug("file change detected", "service", t.name, "file", ev.Name, "op", ev.Op.String())
		w.schedule(t)
	}
}

// schedule arms (or re-arms) the service's debounce timer. Re-arming an
// already pending timer is what collapses a burst into one trigger.
func (w *Watcher) schedule(t *target) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if timer, ok := w.timers[t.name]; ok {
		timer.Reset(t.debounce)
		return
	}
	w.timers[t.name] = time.AfterFunc(t.debounce, func() {
		w.mu.Lock()
		delete(w.timers, t.name)
		closed := w.closed
		if !closed {
			w.triggers[t.name]++
		}
		w.mu.Unlock()
		if closed {
			return
		}
		w.log.Info("file change triggering restart", "service", t.name)
		w.reload(t.name)
	})
}

// Triggers reports how many debounced reloads fired for the service.
func (w *Watcher) Triggers(name string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.triggers[name]
}

// Close stops the event loop and cancels pending debounce timers.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for name, timer := range w.timers {
		timer.Stop()
		delete(w.timers, name)
	}
	w.mu.Unlock()
	return w.fsw.Close()
}

func (t *target) matches(ext string) bool {
	if len(t.exts) == 0 {
		return true
	}
	for _, e := range t.exts {
		if e == ext {
			return true
		}
	}
	return false
}

func normalizeExts(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}
