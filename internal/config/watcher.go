package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultPollInterval is how often a [Watcher] checks its file.
const DefaultPollInterval = 5 * time.Second

// ChangeFunc receives a newly loaded config together with its [Diff] against
// the previous one.
type ChangeFunc func(next *Config, d ConfigDiff)

// Watcher polls a config file and hands every valid, materially different
// version to a [ChangeFunc]. Invalid versions are logged and skipped; the
// last good config stays current. Edits that leave the loaded config
// unchanged (comments, reordering, touch) do not trigger the callback.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc
	log      *slog.Logger

	// reloadMu serialises polls with explicit Reload calls.
	reloadMu sync.Mutex

	mu      sync.Mutex
	current *Config
	raw     []byte
	stat    fileStamp
	lastErr string

	done     chan struct{}
	stopOnce sync.Once
}

// fileStamp is the cheap pre-check before the file is read again.
type fileStamp struct {
	size  int64
	mtime time.Time
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithPollInterval overrides [DefaultPollInterval]. Non-positive values are
// ignored.
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger sets the logger for reload and failure messages.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher loads path once, failing if it is unreadable or invalid, and then
// polls it in the background until [Watcher.Stop].
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultPollInterval,
		onChange: onChange,
		log:      slog.Default(),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}

	cfg, raw, stamp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.raw, w.stat = cfg, raw, stamp

	go w.loop()
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reload re-reads the file immediately, bypassing the stamp pre-check, and
// returns the resulting diff. An invalid file returns its error and leaves
// the current config in place.
func (w *Watcher) Reload() (ConfigDiff, error) {
	return w.reload(true)
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) loop() {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-t.C:
			if _, err := w.reload(false); err != nil {
				w.logFailure(err)
			}
		}
	}
}

func (w *Watcher) reload(force bool) (ConfigDiff, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			return ConfigDiff{}, err
		}
		w.mu.Lock()
		same := w.stat == fileStamp{size: info.Size(), mtime: info.ModTime()}
		w.mu.Unlock()
		if same {
			return ConfigDiff{}, nil
		}
	}

	cfg, raw, stamp, err := w.read()
	if err != nil {
		return ConfigDiff{}, err
	}

	w.mu.Lock()
	w.stat = stamp
	w.lastErr = ""
	if bytes.Equal(raw, w.raw) {
		w.mu.Unlock()
		return ConfigDiff{}, nil
	}
	prev := w.current
	w.current, w.raw = cfg, raw
	w.mu.Unlock()

	d := Diff(prev, cfg)
	if !d.Changed() {
		return d, nil
	}
	w.log.Info("config: reloaded", "path", w.path,
		"log_level", d.LogLevelChanged, "defaults", d.DefaultsChanged,
		"player", d.PlayerChanged, "restart_required", d.RestartRequired)
	if w.onChange != nil {
		w.onChange(cfg, d)
	}
	return d, nil
}

// logFailure warns once per distinct error so a broken file does not log on
// every tick.
func (w *Watcher) logFailure(err error) {
	w.mu.Lock()
	repeat := w.lastErr == err.Error()
	w.lastErr = err.Error()
	w.mu.Unlock()
	if !repeat {
		w.log.Warn("config: reload failed, keeping previous config", "path", w.path, "err", err)
	}
}

func (w *Watcher) read() (*Config, []byte, fileStamp, error) {
	raw, err := os.ReadFile(w.path)
	if err != nil {
		return nil, nil, fileStamp{}, err
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, nil, fileStamp{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, nil, fileStamp{}, err
	}
	return cfg, raw, fileStamp{size: info.Size(), mtime: info.ModTime()}, nil
}
