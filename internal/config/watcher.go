package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"stockd/internal/models"
)

// defaultDebounce is how long the watcher waits after the last file
// event before reloading. Editors and orchestrators tend to write a
// config file in several bursts (write, chmod, rename).
const defaultDebounce = 200 * time.Millisecond

// Watcher reloads the config file when it changes on disk and hands the
// validated result to a callback. Invalid reloads are logged and
// skipped; the previous configuration stays in effect.
type Watcher struct {
	path     string
	debounce time.Duration

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	timer   *time.Timer
}

// NewWatcher creates a watcher for the given config file. The parent
// directory is watched rather than the file itself so that atomic
// replaces (rename over the old file) keep being observed.
func NewWatcher(path string) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config watcher requires a file path")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	return &Watcher{
		path:     path,
		debounce: defaultDebounce,
		watcher:  fw,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Watch blocks processing file events until ctx is canceled or Stop is
// called. onReload receives every successfully reloaded and validated
// configuration.
func (w *Watcher) Watch(ctx context.Context, onReload func(*models.Config)) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("config watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		close(w.doneCh)
	}()

	slog.Info("Config watcher started", "path", w.path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-w.stopCh:
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !w.shouldProcess(event) {
				continue
			}
			slog.Debug("Config file event", "path", event.Name, "op", event.Op.String())
			w.trigger(onReload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			// Keep watching despite errors.
			slog.Error("Config watcher error", "error", err)
		}
	}
}

// Stop stops the watcher and waits for Watch to return.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	return w.watcher.Close()
}

// shouldProcess filters events down to writes of the watched file.
func (w *Watcher) shouldProcess(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != filepath.Clean(w.path) {
		return false
	}
	return event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Rename)
}

// trigger debounces reloads: each event resets the timer, the reload
// fires once the file has been quiet for the debounce interval.
func (w *Watcher) trigger(onReload func(*models.Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		cfg, err := Load(w.path)
		if err != nil {
			slog.Error("Config reload failed, keeping previous configuration", "path", w.path, "error", err)
			return
		}
		slog.Info("Config reloaded", "path", w.path)
		onReload(cfg)
	})
}
