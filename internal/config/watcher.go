package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads tandem.yml on change and hands out the current snapshot.
// A snapshot is immutable once returned; callers must not mutate it.
type Watcher struct {
	mu      sync.RWMutex
	current *Config
	watcher *fsnotify.Watcher
	log     *zap.Logger
}

// NewWatcher loads the workspace config and starts watching it for changes.
// A broken rewrite keeps the last good snapshot.
func NewWatcher(workspace string, log *zap.Logger) (*Watcher, error) {
	cfg, err := Load(workspace)
	if err != nil {
		return nil, err
	}
	w := &Watcher{current: cfg, log: log}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w.watcher = fw
	path := Path(workspace)
	// Watch even if the file does not exist yet; Add fails in that case and
	// the watcher simply serves defaults forever.
	if err := fw.Add(path); err != nil {
		log.Debug("config watch unavailable, serving static config", zap.String("path", path), zap.Error(err))
	}

	go w.run(workspace)
	return w, nil
}

func (w *Watcher) run(workspace string) {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(workspace)
			if err != nil {
				w.log.Warn("config reload failed, keeping previous", zap.Error(err))
				continue
			}
			w.mu.Lock()
			w.current = cfg
			w.mu.Unlock()
			w.log.Info("config reloaded", zap.String("path", Path(workspace)))
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", zap.Error(err))
		}
	}
}

// Current returns the latest valid config snapshot.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
