package rulesource

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounceInterval is how long the watcher waits for more changes before triggering a reload.
const DefaultDebounceInterval = 250 * time.Millisecond

// Watcher triggers a reload when configuration or rule files change on disk.
type Watcher struct {
	logger   zerolog.Logger
	watcher  *fsnotify.Watcher
	dirs     []string
	debounce time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher watches the given directories. Events for files without RuleFileSuffix are ignored.
func NewWatcher(logger zerolog.Logger, debounce time.Duration, dirs ...string) (w *Watcher, err error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		err = fmt.Errorf("failed to create fsnotify watcher: %w", err)
		return
	}

	for _, d := range dirs {
		if err = fw.Add(d); err != nil {
			fw.Close()
			err = fmt.Errorf("failed to watch %s: %w", d, err)
			return
		}
	}

	if debounce <= 0 {
		debounce = DefaultDebounceInterval
	}

	w = &Watcher{
		logger:   logger,
		watcher:  fw,
		dirs:     dirs,
		debounce: debounce,
	}
	return
}

// Watch blocks until ctx is done, calling onReload once per burst of relevant file changes.
func (w *Watcher) Watch(ctx context.Context, onReload func() error) error {
	defer w.stopTimer()

	w.logger.Info().Strs("dirs", w.dirs).Dur("debounce", w.debounce).Msg("Rule file watcher started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Rule file watcher stopped")
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}

			if !isRelevantEvent(event) {
				continue
			}

			w.logger.Debug().Str("path", event.Name).Str("op", event.Op.String()).Msg("Rule file event detected")
			w.trigger(func() {
				w.logger.Info().Str("path", event.Name).Msg("Triggering rule reload")
				if err := onReload(); err != nil {
					w.logger.Error().Err(err).Msg("Rule reload failed")
				}
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Warn().Err(err).Msg("Rule file watcher error")
		}
	}
}

// Close releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	w.stopTimer()
	return w.watcher.Close()
}

func (w *Watcher) trigger(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, fn)
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func isRelevantEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}

	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return strings.HasSuffix(base, RuleFileSuffix)
}
