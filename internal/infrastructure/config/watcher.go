package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jbctechsolutions/schoolsync/internal/infrastructure/logging"
)

// DefaultDebounce is how long the config file must stay unchanged before it
// is re-read.
const DefaultDebounce = 200 * time.Millisecond

// BaseURLResolver holds the current API base URL. The sync engine and the
// client consult it on every call, so a reload takes effect for mutations
// queued earlier.
type BaseURLResolver struct {
	v atomic.Value
}

// NewBaseURLResolver creates a resolver with an initial base URL.
func NewBaseURLResolver(base string) *BaseURLResolver {
	r := &BaseURLResolver{}
	r.Set(base)
	return r
}

// BaseURL returns the current base URL.
func (r *BaseURLResolver) BaseURL() string {
	s, _ := r.v.Load().(string)
	return s
}

// Set replaces the base URL.
func (r *BaseURLResolver) Set(base string) {
	r.v.Store(strings.TrimRight(base, "/"))
}

// Watcher re-reads a config file when it changes on disk.
type Watcher struct {
	path     string
	loader   *Loader
	onChange func(*Config)
	debounce time.Duration
	logger   *logging.Logger

	mu      sync.Mutex
	changed time.Time
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the debounce duration.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(l *logging.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = l
	}
}

// NewWatcher creates a watcher for path. onChange receives every config
// that loads and validates after a change; invalid edits are logged and
// ignored.
func NewWatcher(path string, loader *Loader, onChange func(*Config), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		path:     filepath.Clean(path),
		loader:   loader,
		onChange: onChange,
		debounce: DefaultDebounce,
		logger:   logging.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches until ctx is done. The parent directory is watched rather
// than the file, so editors that save by rename are still seen. A missing
// directory is not an error; there is then nothing to watch.
func (w *Watcher) Run(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		<-ctx.Done()
		return nil
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsWatcher.Close()

	if err := fsWatcher.Add(dir); err != nil {
		return err
	}

	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsWatcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			w.changed = time.Now()
			w.mu.Unlock()

		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", "error", err)

		case <-ticker.C:
			w.reloadIfStable()
		}
	}
}

func (w *Watcher) reloadIfStable() {
	w.mu.Lock()
	if w.changed.IsZero() || time.Since(w.changed) < w.debounce {
		w.mu.Unlock()
		return
	}
	w.changed = time.Time{}
	w.mu.Unlock()

	cfg, err := w.loader.Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed", "path", w.path, "error", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Warn("reloaded config is invalid, keeping previous", "path", w.path, "error", err)
		return
	}

	w.logger.Info("config reloaded", "path", w.path, "base_url", cfg.API.BaseURL)
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
