package rulefile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period before a reload fires.
const DefaultDebounce = 100 * time.Millisecond

// Watcher reloads a rule file when it changes.
//
// The parent directory is watched rather than the file itself, so editors
// that save by renaming a temp file over the original keep triggering
// reloads. Bursts of events are collapsed into one reload.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger
	fsw      *fsnotify.Watcher

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewWatcher creates a watcher for the rule file at path.
func NewWatcher(path string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve rule file path: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &Watcher{
		path:     abs,
		debounce: debounce,
		logger:   logger,
		fsw:      fsw,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Watch blocks until ctx is cancelled or Stop is called, invoking onReload
// after each debounced change. A failing reload is logged and watching
// continues.
func (w *Watcher) Watch(ctx context.Context, onReload func() error) error {
	if !w.started.CompareAndSwap(false, true) {
		return errors.New("watcher already running")
	}
	defer close(w.doneCh)
	defer func() { _ = w.fsw.Close() }()

	dir := filepath.Dir(w.path)
	if err := w.fsw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Info("watching rule file", "path", w.path, "debounce", w.debounce)

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
	}

	for {
		select {
		case <-ctx.Done():
			stopTimer()
			return nil

		case <-w.stopCh:
			stopTimer()
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			if !w.relevant(ev) {
				continue
			}
			w.logger.Debug("rule file event", "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Stop()
				timer.Reset(w.debounce)
			}

		case <-timerC:
			w.logger.Info("reloading rule file", "path", w.path)
			if err := onReload(); err != nil {
				w.logger.Error("rule file reload failed", "path", w.path, "error", err)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			w.logger.Error("rule file watcher error", "error", err)
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != w.path {
		return false
	}
	// Chmod alone does not change content; Remove is followed by Create on rename-saves.
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}

// Stop ends Watch and releases the fsnotify watcher. Safe to call more than once.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() { close(w.stopCh) })
	if !w.started.Load() {
		return w.fsw.Close()
	}
	<-w.doneCh
	return nil
}
