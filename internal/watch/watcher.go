// Package watch turns filesystem activity under the configured code paths
// into queued ingest tasks.
package watch

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

	"github.com/scottyroges/cortex/application/service"
	"github.com/scottyroges/cortex/domain/task"
)

// DefaultDebounce is how long a code path must stay quiet before an ingest
// task is enqueued. Bursts of saves collapse into one task.
const DefaultDebounce = 10 * time.Second

// skipDirs are directory names never watched.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	".venv":        true,
	"dist":         true,
	"build":        true,
}

// Watcher debounces filesystem events per code path and enqueues ingest
// tasks on the given queue.
type Watcher struct {
	queue    *service.Queue
	roots    []string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	log      *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New creates a watcher over the given code path roots. Roots that do not
// exist are skipped with a warning.
func New(queue *service.Queue, roots []string, log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		queue:    queue,
		debounce: DefaultDebounce,
		watcher:  fsw,
		log:      log.With(slog.String("component", "watch")),
		timers:   make(map[string]*time.Timer),
	}

	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			w.log.Warn("skipping code path", slog.String("path", root), slog.String("error", err.Error()))
			continue
		}
		if info, err := os.Stat(abs); err != nil || !info.IsDir() {
			w.log.Warn("skipping code path, not a directory", slog.String("path", abs))
			continue
		}
		w.roots = append(w.roots, abs)
		w.addTree(abs)
	}
	return w, nil
}

// SetDebounce overrides the quiet window. Used by tests.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Roots returns the watched code path roots.
func (w *Watcher) Roots() []string {
	return w.roots
}

// Start consumes filesystem events until the context is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	go func() {
		defer w.watcher.Close()
		w.log.Info("watching code paths", slog.Int("roots", len(w.roots)))
		for {
			select {
			case <-ctx.Done():
				w.cancelTimers()
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				w.handle(event)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.log.Warn("watcher error", slog.String("error", err.Error()))
			}
		}
	}()
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	root := w.owningRoot(event.Name)
	if root == "" {
		return
	}

	// New directories need their own watch before anything inside them
	// produces events.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !skipDirs[filepath.Base(event.Name)] {
			w.addTree(event.Name)
		}
	}

	w.schedule(root)
}

// schedule resets the debounce timer for a root. The ingest task fires only
// after the root has been quiet for the full window.
func (w *Watcher) schedule(root string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.timers[root]; ok {
		timer.Reset(w.debounce)
		return
	}
	w.timers[root] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, root)
		w.mu.Unlock()
		w.enqueue(root)
	})
}

func (w *Watcher) enqueue(root string) {
	repository := filepath.Base(root)
	id, err := w.queue.Enqueue(task.KindIngest, repository, map[string]any{
		"path":       root,
		"repository": repository,
	})
	if err != nil {
		w.log.Error("enqueue ingest after change", slog.String("path", root), slog.String("error", err.Error()))
		return
	}
	w.log.Info("changes detected, ingest queued",
		slog.String("repository", repository),
		slog.String("task", id),
	)
}

func (w *Watcher) owningRoot(path string) string {
	for _, root := range w.roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return root
		}
	}
	return ""
}

// addTree watches a directory and every non-skipped subdirectory. fsnotify
// watches are not recursive.
func (w *Watcher) addTree(root string) {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != root && (skipDirs[name] || strings.HasPrefix(name, ".")) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.log.Warn("watch directory", slog.String("path", path), slog.String("error", err.Error()))
		}
		return nil
	})
	if err != nil {
		w.log.Warn("walk code path", slog.String("path", root), slog.String("error", err.Error()))
	}
}

func (w *Watcher) cancelTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for root, timer := range w.timers {
		timer.Stop()
		delete(w.timers, root)
	}
}
