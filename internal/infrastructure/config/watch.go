package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultWatchDebounce absorbs the burst of events editors produce when saving.
const defaultWatchDebounce = 500 * time.Millisecond

// WatchLogger is the logging interface used by Watcher.
type WatchLogger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Watcher invokes a callback when the config file is written or replaced.
//
// The parent directory is watched rather than the file itself so that
// atomic-rename saves (write temp file, rename over original) are seen.
// Events are debounced; the callback runs on the watcher goroutine, so
// reloads never overlap.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func()
	logger   WatchLogger

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

// NewWatcher creates a watcher for the config file at path.
// Call Start to begin watching and Close to stop.
func NewWatcher(path string, onChange func(), logger WatchLogger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	return &Watcher{
		path:     abs,
		debounce: defaultWatchDebounce,
		onChange: onChange,
		logger:   logger,
		watcher:  fw,
	}, nil
}

// Start begins watching. The loop exits when ctx is cancelled or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watching config directory: %w", err)
	}

	w.logger.Info("config watcher started", "path", w.path)

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Close stops the watcher and waits for the loop to exit.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			w.logger.Info("config file changed", "path", w.path)
			w.onChange()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

// relevant reports whether event concerns the watched file and changes its content.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}
