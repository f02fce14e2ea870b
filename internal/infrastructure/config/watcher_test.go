package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jbctechsolutions/schoolsync/internal/infrastructure/logging"
)

func TestBaseURLResolver(t *testing.T) {
	r := NewBaseURLResolver("https://a.school.test/")
	if got := r.BaseURL(); got != "https://a.school.test" {
		t.Errorf("BaseURL() = %q", got)
	}
	r.Set("https://b.school.test")
	if got := r.BaseURL(); got != "https://b.school.test" {
		t.Errorf("BaseURL() = %q after Set", got)
	}
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("api:\n  base_url: https://old.school.test\n"), 0600); err != nil {
		t.Fatal(err)
	}

	loader, _ := NewLoader(dir)
	resolver := NewBaseURLResolver("https://old.school.test")
	changes := make(chan *Config, 4)

	w := NewWatcher(path, loader, func(cfg *Config) {
		resolver.Set(cfg.API.BaseURL)
		changes <- cfg
	}, WithDebounce(20*time.Millisecond), WithWatcherLogger(logging.Discard()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("api:\n  base_url: https://new.school.test\n"), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-changes:
		if cfg.API.BaseURL != "https://new.school.test" {
			t.Errorf("reloaded BaseURL = %q", cfg.API.BaseURL)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload observed")
	}
	if got := resolver.BaseURL(); got != "https://new.school.test" {
		t.Errorf("resolver = %q", got)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}
}

func TestWatcher_IgnoresInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	_ = os.WriteFile(path, []byte("api:\n  base_url: https://ok.school.test\n"), 0600)

	loader, _ := NewLoader(dir)
	changes := make(chan *Config, 4)
	w := NewWatcher(path, loader, func(cfg *Config) { changes <- cfg },
		WithDebounce(20*time.Millisecond), WithWatcherLogger(logging.Discard()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	_ = os.WriteFile(path, []byte("storage:\n  driver: floppy\n"), 0600)

	select {
	case cfg := <-changes:
		t.Errorf("invalid config delivered: %+v", cfg.Storage)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_MissingDirectory(t *testing.T) {
	loader, _ := NewLoader(t.TempDir())
	w := NewWatcher("/does/not/exist/config.yaml", loader, nil, WithWatcherLogger(logging.Discard()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := w.Run(ctx); err != nil {
		t.Errorf("Run() error = %v", err)
	}
}
