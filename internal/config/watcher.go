package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// LiveSlotCounter reports the slot count currently live in shared memory
// for an event, for ValidateTransition to guard reloads against. See
// NewWatcher.
type LiveSlotCounter func(eventID string) (count int, ok bool)

// Watcher reloads a configuration file on write, rejecting (logging and
// keeping the previous configuration instead of applying) any reload
// that fails ValidateTransition. Grounded in the fsnotify dependency
// the example pack carries for config hot-reload but which no pack repo
// exercises in source; the event-loop shape here follows fsnotify's own
// documented Add/Events/Errors usage.
type Watcher struct {
	path    string
	live    LiveSlotCounter
	log     *zap.Logger
	watcher *fsnotify.Watcher

	mu      sync.RWMutex
	current Config

	done chan struct{}
}

// NewWatcher loads path once and returns a Watcher primed with that
// configuration. Call Start to begin watching for further changes.
func NewWatcher(path string, live LiveSlotCounter, log *zap.Logger) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if log == nil {
		log = zap.NewNop()
	}

	return &Watcher{
		path:    path,
		live:    live,
		log:     log,
		current: cfg,
		done:    make(chan struct{}),
	}, nil
}

// Current returns the most recently applied configuration.
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.current
}

// Start begins watching the configuration file for writes, reloading and
// applying each change that passes Validate and ValidateTransition.
// Start must be called at most once.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := fsw.Add(w.path); err != nil {
		_ = fsw.Close()

		return err
	}

	w.watcher = fsw

	go w.loop()

	return nil
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}

			w.log.Error("config watcher error", zap.String("path", w.path), zap.Error(err))
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() {
	next, err := Load(w.path)
	if err != nil {
		w.log.Error("config reload failed, keeping previous configuration",
			zap.String("path", w.path), zap.Error(err))

		return
	}

	if w.live != nil {
		if err := ValidateTransition(next, w.live); err != nil {
			w.log.Error("config reload rejected, keeping previous configuration",
				zap.String("path", w.path), zap.Error(err))

			return
		}
	}

	w.mu.Lock()
	w.current = next
	w.mu.Unlock()

	w.log.Info("config reloaded", zap.String("path", w.path), zap.String("instance_id", next.InstanceID))
}

// Close stops watching and releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	close(w.done)

	if w.watcher == nil {
		return nil
	}

	return w.watcher.Close()
}
