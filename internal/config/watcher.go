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

// DefaultWatchInterval is how often a [Watcher] re-reads its file.
const DefaultWatchInterval = 5 * time.Second

// Watcher re-reads a config file on an interval and reports edits that
// produce another valid config. A broken edit is logged and skipped; the
// last good config stays current until the file is fixed.
type Watcher struct {
	path     string
	interval time.Duration
	log      *slog.Logger
	apply    func(prev, next *Config)

	// checkMu serialises Check so apply sees edits in file order.
	checkMu sync.Mutex

	mu      sync.Mutex
	current *Config
	digest  [sha256.Size]byte
	broken  bool // last read failed; log recovery once

	stop     chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values keep
// [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger sets the logger used for reload and failure messages.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher loads path once and starts polling it. apply is called with the
// previous and the new config after every content change that validates; it
// may be nil.
func NewWatcher(path string, apply func(prev, next *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		log:      slog.Default(),
		apply:    apply,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}

	cfg, digest, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current, w.digest = cfg, digest

	go w.run()
	return w, nil
}

// Current returns the last config that loaded successfully.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling and waits for an in-progress check to finish. It is
// safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.stopped
}

func (w *Watcher) run() {
	defer close(w.stopped)
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-t.C:
			w.Check()
		}
	}
}

// Check re-reads the file now. It reports whether a new config was
// accepted. The polling goroutine calls it on every tick.
func (w *Watcher) Check() bool {
	w.checkMu.Lock()
	defer w.checkMu.Unlock()

	cfg, digest, err := w.read()

	w.mu.Lock()
	if err != nil {
		first := !w.broken
		w.broken = true
		w.mu.Unlock()
		if first {
			w.log.Warn("config reload skipped, keeping previous config", "path", w.path, "err", err)
		}
		return false
	}
	recovered := w.broken
	w.broken = false
	if digest == w.digest {
		w.mu.Unlock()
		if recovered {
			w.log.Info("config file readable again, no changes", "path", w.path)
		}
		return false
	}
	prev := w.current
	w.current, w.digest = cfg, digest
	w.mu.Unlock()

	w.log.Info("config reloaded", "path", w.path)
	if w.apply != nil {
		w.apply(prev, cfg)
	}
	return true
}

// read loads and validates the file and returns its content digest.
func (w *Watcher) read() (*Config, [sha256.Size]byte, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	return cfg, sha256.Sum256(data), nil
}
