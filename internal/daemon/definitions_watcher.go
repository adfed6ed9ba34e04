package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/buildgraph/internal/logfields"
)

// DefinitionsWatcher monitors the definitions file and reloads it after changes.
type DefinitionsWatcher struct {
	path         string
	reload       func(ctx context.Context) error
	watcher      *fsnotify.Watcher
	mu           sync.Mutex
	stopChan     chan struct{}
	stopped      bool
	reloadChan   chan struct{}
	debounceTime time.Duration
}

// NewDefinitionsWatcher creates a watcher calling reload after the file at
// path changes. Rapid successive writes trigger a single reload.
func NewDefinitionsWatcher(path string, reload func(ctx context.Context) error) (*DefinitionsWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Resolve absolute path for consistent watching
	absPath, err := filepath.Abs(path)
	if err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to resolve definitions path: %w", err)
	}

	return &DefinitionsWatcher{
		path:         absPath,
		reload:       reload,
		watcher:      watcher,
		stopChan:     make(chan struct{}),
		reloadChan:   make(chan struct{}, 1),
		debounceTime: 2 * time.Second,
	}, nil
}

// Start begins monitoring the definitions file.
func (w *DefinitionsWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Watch the directory: editors often replace the file instead of writing it.
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch definitions directory %s: %w", dir, err)
	}

	slog.Info("Starting definitions watcher", logfields.Path(w.path))
	go w.watchLoop(ctx)
	go w.reloadLoop(ctx)
	return nil
}

// Stop stops the watcher.
func (w *DefinitionsWatcher) Stop(_ context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true

	slog.Info("Stopping definitions watcher")
	close(w.stopChan)
	return w.watcher.Close()
}

func (w *DefinitionsWatcher) watchLoop(ctx context.Context) {
	name := filepath.Base(w.path)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			switch {
			case event.Has(fsnotify.Write), event.Has(fsnotify.Create), event.Has(fsnotify.Rename):
				slog.Debug("Definitions change detected", logfields.Path(event.Name), slog.String("op", event.Op.String()))
				w.triggerReload()
			case event.Has(fsnotify.Remove):
				slog.Warn("Definitions file removed, keeping current registry", logfields.Path(event.Name))
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Definitions watcher error", logfields.Error(err))
		}
	}
}

// reloadLoop handles debounced reloads.
func (w *DefinitionsWatcher) reloadLoop(ctx context.Context) {
	var timer *time.Timer
	stop := func() {
		if timer != nil {
			timer.Stop()
		}
	}

	for {
		select {
		case <-ctx.Done():
			stop()
			return
		case <-w.stopChan:
			stop()
			return
		case <-w.reloadChan:
			stop()
			timer = time.AfterFunc(w.debounceTime, func() {
				slog.Info("Reloading definitions", logfields.Path(w.path))
				if err := w.reload(ctx); err != nil {
					slog.Error("Failed to reload definitions, keeping current registry", logfields.Error(err))
					return
				}
				slog.Info("Definitions reloaded")
			})
		}
	}
}

func (w *DefinitionsWatcher) triggerReload() {
	select {
	case w.reloadChan <- struct{}{}:
	default:
		// Reload already pending
	}
}
