package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"sake/internal/logging"
)

// Watcher reloads the registry when the build output directory changes.
// Compiles touch many files in quick succession, so events are debounced and
// collapse into a single reload once the burst settles.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	registry    *Registry
	debounceDur time.Duration
	pendingAt   time.Time
	pending     bool
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	log         *logging.Logger
}

// NewWatcher creates a watcher for the registry's directory.
func NewWatcher(registry *Registry) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:     fw,
		registry:    registry,
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		log:         logging.Get(logging.CategoryArtifacts),
	}, nil
}

// Start performs an initial load and begins watching. Non-blocking. A build
// directory that does not exist yet is not an error; the watch attaches once
// a compile creates it and a later Start is unnecessary.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.registry.Reload(); err != nil {
		w.log.Warn("initial artifact load failed: %v", err)
	}

	if _, err := os.Stat(w.registry.Dir()); err == nil {
		if err := w.watcher.Add(w.registry.Dir()); err != nil {
			w.log.Warn("watch on %s failed: %v", w.registry.Dir(), err)
		} else {
			w.log.Info("watching build output: %s", w.registry.Dir())
		}
	} else {
		w.log.Info("build output %s does not exist yet, watching parent", w.registry.Dir())
		// A create event for the directory itself arrives via the parent.
		_ = w.watcher.Add(filepath.Dir(w.registry.Dir()))
	}

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		w.log.Error("error closing artifact watcher: %v", err)
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("artifact watcher error: %v", err)

		case <-ticker.C:
			w.maybeReload()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	// The build directory appearing under a watched parent: attach to it.
	if event.Op&fsnotify.Create != 0 && event.Name == w.registry.Dir() {
		if err := w.watcher.Add(w.registry.Dir()); err == nil {
			w.log.Info("build output appeared, now watching: %s", w.registry.Dir())
		}
	} else if !strings.HasSuffix(event.Name, ".json") {
		return
	}

	w.mu.Lock()
	w.pending = true
	w.pendingAt = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) maybeReload() {
	w.mu.Lock()
	ready := w.pending && time.Since(w.pendingAt) >= w.debounceDur
	if ready {
		w.pending = false
	}
	w.mu.Unlock()
	if !ready {
		return
	}

	if err := w.registry.Reload(); err != nil {
		w.log.Error("artifact reload failed: %v", err)
	}
}
