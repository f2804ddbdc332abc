package config

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] checks the file.
const DefaultWatchInterval = 5 * time.Second

// Watcher keeps a config file's latest valid contents. When an edit changes
// something [Diff] reports, onChange receives the previous and new config.
// Edits that fail validation are logged and the last good config stays.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, next *Config)

	current atomic.Pointer[Config]
	mtime   time.Time // owned by the poll goroutine after NewWatcher

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval overrides [DefaultWatchInterval]. Non-positive values are
// ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts polling it. onChange may be nil.
func NewWatcher(path string, onChange func(old, next *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	w.current.Store(cfg)
	w.mtime = info.ModTime()

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// Stop ends polling. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) poll() {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-t.C:
			w.reload()
		}
	}
}

// reload re-reads the file when its modification time moved.
func (w *Watcher) reload() {
	log := slog.With("path", w.path)

	info, err := os.Stat(w.path)
	if err != nil {
		log.Warn("config watcher: stat failed", "err", err)
		return
	}
	if info.ModTime().Equal(w.mtime) {
		return
	}
	w.mtime = info.ModTime()

	next, err := Load(w.path)
	if err != nil {
		log.Warn("config watcher: keeping previous config", "err", err)
		return
	}

	old := w.current.Load()
	d := Diff(old, next)
	if d.Empty() {
		return
	}
	w.current.Store(next)

	log.Info("config watcher: reloaded",
		"log_level_changed", d.LogLevelChanged,
		"credentials_changed", d.CredentialsChanged,
	)
	if len(d.RestartRequired) > 0 {
		log.Warn("config watcher: some changes apply after a restart", "settings", d.RestartRequired)
	}
	if w.onChange != nil {
		w.onChange(old, next)
	}
}
