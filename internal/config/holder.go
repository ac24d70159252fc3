package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of write/chmod events most editors
// produce for a single save into one reload.
const reloadDebounce = 250 * time.Millisecond

// Holder provides thread-safe access to a mutable *Config and an immutable
// config file path. Watch replaces the held config when the file changes;
// consumers that copied settings out of an earlier config (the ingest
// handler takes its settings once, when serve builds it) do not see the
// new values.
type Holder struct {
	mu   sync.RWMutex
	cfg  *Config
	path string // immutable after construction
}

// NewHolder creates a Holder with the initial config and config file path.
func NewHolder(cfg *Config, path string) *Holder {
	return &Holder{
		cfg:  cfg,
		path: path,
	}
}

// Config returns the current config snapshot. Thread-safe (read lock).
func (h *Holder) Config() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.cfg
}

// Path returns the config file path. Thread-safe without locking because
// the path is immutable after construction.
func (h *Holder) Path() string {
	return h.path
}

// Update replaces the config. Thread-safe (write lock).
func (h *Holder) Update(cfg *Config) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cfg = cfg
}

// Watch monitors the config file for changes and reloads it on every write,
// logging and keeping the previous config on any parse/validate failure. It
// blocks until ctx is canceled. A no-op (logs and returns nil) if the Holder
// was not constructed with a config file path — the server is then running
// on defaults or command-line overrides with nothing to watch.
func (h *Holder) Watch(ctx context.Context, logger *slog.Logger) error {
	if h.path == "" {
		logger.Debug("config hot-reload disabled: no config file path")

		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: creating filesystem watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(h.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("config: watching %s: %w", dir, err)
	}

	logger.Info("watching config file for changes", "path", h.path)

	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != filepath.Clean(h.path) {
				continue
			}

			if !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}

			if debounce != nil {
				debounce.Stop()
			}

			debounce = time.AfterFunc(reloadDebounce, func() {
				h.reload(logger)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.Warn("config watcher error", "error", err.Error())
		}
	}
}

func (h *Holder) reload(logger *slog.Logger) {
	cfg, err := Load(h.path, logger)
	if err != nil {
		logger.Warn("config reload failed, keeping previous config",
			"path", h.path, "error", err.Error())

		return
	}

	h.Update(cfg)
	logger.Info("config reloaded", "path", h.path)
}
