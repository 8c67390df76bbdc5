package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher keeps the current configuration of one file and reports valid
// changes to it. Changes are picked up by polling in [Watcher.Run] or on
// demand with [Watcher.Reload]. An edit that fails to parse or validate
// never replaces the current config.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	// reload serialises Reload calls so onChange sees changes in order.
	reload sync.Mutex

	mu      sync.Mutex
	current *Config
	seen    fileState
}

// fileState identifies one version of the file. ModTime and size are cheap
// to poll; sum decides whether a touched file really changed.
type fileState struct {
	mod  time.Time
	size int64
	sum  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval of [Watcher.Run]. Default: 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and returns a Watcher that calls onChange after each
// later valid change. onChange may be nil.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: 5 * time.Second, onChange: onChange}
	for _, o := range opts {
		o(w)
	}
	cfg, st, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.seen = cfg, st
	return w, nil
}

// Current returns the most recent valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls the file's modification time and size until ctx is done and
// reloads when either moves. It always returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		info, err := os.Stat(w.path)
		if err != nil {
			slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
			continue
		}
		w.mu.Lock()
		moved := !info.ModTime().Equal(w.seen.mod) || info.Size() != w.seen.size
		w.mu.Unlock()
		if !moved {
			continue
		}
		if err := w.Reload(); err != nil {
			slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		}
	}
}

// Reload reads the file now. Identical content is a no-op; a valid change
// becomes current and is passed to onChange; an invalid one is returned as
// an error and the current config stays.
func (w *Watcher) Reload() error {
	w.reload.Lock()
	defer w.reload.Unlock()

	cfg, st, err := w.read()
	if err != nil {
		return fmt.Errorf("config: reload %s: %w", w.path, err)
	}

	w.mu.Lock()
	if st.sum == w.seen.sum {
		w.seen = st
		w.mu.Unlock()
		return nil
	}
	old := w.current
	w.current, w.seen = cfg, st
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return nil
}

func (w *Watcher) read() (*Config, fileState, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileState{}, err
	}
	return cfg, fileState{mod: info.ModTime(), size: info.Size(), sum: sha256.Sum256(data)}, nil
}
