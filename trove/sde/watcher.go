package sde

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// sourceWatcher watches the SDE directory and invokes rebuild once a burst of
// file events has settled. Rebuild itself re-runs the signature diff, so a
// spurious event only re-parses indexes whose files actually changed.
type sourceWatcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	rebuild  func()
	tracked  map[string]bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newSourceWatcher(dir string, debounce time.Duration, rebuild func()) (*sourceWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fsWatcher.Add(dir); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch SDE directory %s: %w", dir, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &sourceWatcher{
		watcher:  fsWatcher,
		debounce: debounce,
		rebuild:  rebuild,
		tracked:  make(map[string]bool),
		cancel:   cancel,
	}
	for _, name := range TrackedFiles() {
		w.tracked[name] = true
	}

	w.wg.Add(1)
	go w.watchLoop(ctx)

	slog.Info("SDE source watcher started", "dir", dir, "debounce", debounce)
	return w, nil
}

func (w *sourceWatcher) watchLoop(ctx context.Context) {
	defer w.wg.Done()

	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.tracked[filepath.Base(event.Name)] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			slog.Debug("SDE source file changed", "file", event.Name, "op", event.Op.String())
			// Restart the settle timer on every relevant event.
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerCh = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
		case <-timerCh:
			timer = nil
			timerCh = nil
			w.rebuild()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("SDE source watcher error", "error", err)
		}
	}
}

// Close stops the watch loop and releases the fsnotify watcher.
func (w *sourceWatcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
