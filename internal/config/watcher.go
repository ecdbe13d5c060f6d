package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// defaultPollInterval is how often the watcher re-examines the config
// file unless WithInterval overrides it.
const defaultPollInterval = 5 * time.Second

// snapshot captures the on-disk state of the config file at one load.
type snapshot struct {
	mtime time.Time
	size  int64
	sum   [sha256.Size]byte
}

// unchanged reports whether stat info still matches the snapshot,
// letting the poll loop skip reading the file at all.
func (s snapshot) unchanged(info os.FileInfo) bool {
	return s.mtime.Equal(info.ModTime()) && s.size == info.Size()
}

// A Watcher polls a config file and hands every valid content change to
// a callback. Polling keeps the module free of platform file-event
// dependencies; a few seconds of reload delay is acceptable for a
// config file. Invalid revisions are logged once and skipped, and the
// previous config stays active.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu      sync.Mutex
	current *Config
	disk    snapshot
	badSum  [sha256.Size]byte // last revision that failed to parse

	quit     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval overrides the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path once, then polls it in the background. The
// callback runs outside the watcher's lock, so it may call [Watcher.Current].
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: defaultPollInterval,
		onChange: onChange,
		quit:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current = cfg
	w.disk = snapshot{mtime: info.ModTime(), size: int64(len(raw)), sum: sha256.Sum256(raw)}

	go w.run()
	return w, nil
}

// Current returns the latest valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends the polling goroutine. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.quit)
	})
}

func (w *Watcher) run() {
	tick := time.NewTicker(w.interval)
	defer tick.Stop()

	for {
		select {
		case <-tick.C:
			w.sweep()
		case <-w.quit:
			return
		}
	}
}

// sweep performs one poll round: a cheap stat first, a full read only
// when the file looks different, a swap only when the content parses.
func (w *Watcher) sweep() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config file unreadable, keeping active config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	skip := w.disk.unchanged(info)
	w.mu.Unlock()
	if skip {
		return
	}

	raw, err := os.ReadFile(w.path)
	if err != nil {
		slog.Warn("config file unreadable, keeping active config", "path", w.path, "err", err)
		return
	}
	snap := snapshot{mtime: info.ModTime(), size: int64(len(raw)), sum: sha256.Sum256(raw)}

	cfg, err := LoadFromReader(bytes.NewReader(raw))
	if err != nil {
		w.mu.Lock()
		repeat := snap.sum == w.badSum
		w.badSum = snap.sum
		w.mu.Unlock()
		if !repeat { // one warning per broken revision, not one per tick
			slog.Warn("config file invalid, keeping active config", "path", w.path, "err", err)
		}
		return
	}

	w.mu.Lock()
	if snap.sum == w.disk.sum {
		// Touched, not changed.
		w.disk = snap
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = cfg
	w.disk = snap
	w.mu.Unlock()

	slog.Info("config reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}
