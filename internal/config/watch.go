package config

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Config from disk whenever the backing file
// changes, debounced the same way the teacher's skill source watcher
// is (internal/skills/manager.go's watchLoop/scheduleRefresh):
// fsnotify fires once per underlying write syscall, often several per
// logical save, so every event just (re)arms a single debounce timer
// instead of reloading inline.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger

	onReload func(Config, error)

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher builds a Watcher for path. onReload fires after every
// debounced reload, successful or not; debounce <= 0 defaults to
// 250ms, matching the teacher's default.
func NewWatcher(path string, debounce time.Duration, onReload func(Config, error)) *Watcher {
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	return &Watcher{
		path:     path,
		debounce: debounce,
		onReload: onReload,
		logger:   slog.Default().With("component", "config"),
	}
}

// Start begins watching the config file in a background goroutine. It
// is a no-op if already started. The caller's ctx bounds the watch's
// lifetime; Close also stops it.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if err := watcher.Add(w.path); err != nil {
		w.mu.Unlock()
		_ = watcher.Close()
		return err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go w.watchLoop(watchCtx, watcher)
	return nil
}

// Close stops the watch goroutine and releases the underlying
// fsnotify watcher.
func (w *Watcher) Close() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}

func (w *Watcher) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer w.wg.Done()
	defer watcher.Close()

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, func() {
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Warn("config reload failed", "path", w.path, "error", err)
			}
			if w.onReload != nil {
				w.onReload(cfg, err)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "error", err)
		}
	}
}
