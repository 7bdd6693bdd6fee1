package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the config file on change and notifies subscribers.
// Used by kestreld so provider/model switches do not require a restart;
// in-flight runs keep the config they started with.
type Watcher struct {
	path   string
	logger *zap.Logger

	mu      sync.RWMutex
	current *Config
	subs    []chan *Config

	watcher *fsnotify.Watcher
	done    chan struct{}

	// debounce coalesces editor write bursts into one reload
	debounce time.Duration
	timerMu  sync.Mutex
	timer    *time.Timer
}

// NewWatcher loads path and begins watching its directory. Watching the
// directory rather than the file keeps working across rename-based saves.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	if path == "" {
		path = os.Getenv("KESTREL_CONFIG")
	}
	if path == "" {
		path = "kestrel.yaml"
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &Watcher{
		path:     path,
		logger:   logger,
		current:  cfg,
		watcher:  fw,
		done:     make(chan struct{}),
		debounce: 250 * time.Millisecond,
	}
	go w.loop()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Subscribe returns a channel that receives each successfully reloaded config.
func (w *Watcher) Subscribe() <-chan *Config {
	ch := make(chan *Config, 1)
	w.mu.Lock()
	w.subs = append(w.subs, ch)
	w.mu.Unlock()
	return ch
}

// Close stops watching. Subscriber channels are not closed.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		// Keep the last valid config; a half-written file must not take
		// the daemon down.
		w.logger.Warn("Config reload failed, keeping previous config",
			zap.String("path", w.path), zap.Error(err))
		return
	}

	w.mu.Lock()
	w.current = cfg
	subs := make([]chan *Config, len(w.subs))
	copy(subs, w.subs)
	w.mu.Unlock()

	w.logger.Info("Config reloaded",
		zap.String("path", w.path),
		zap.String("provider", cfg.Provider))

	for _, ch := range subs {
		select {
		case ch <- cfg:
		default:
		}
	}
}
