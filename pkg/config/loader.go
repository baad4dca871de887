package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Loader loads a profile file and reloads it when it changes. Overrides
// are reapplied on every reload.
type Loader struct {
	path      string
	overrides Overrides
	logger    *slog.Logger

	mu      sync.RWMutex
	current *Profile
	watcher *FileWatcher
}

// NewLoader creates a loader for path.
func NewLoader(path string, o Overrides, logger *slog.Logger) (*Loader, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{path: absPath, overrides: o, logger: logger}, nil
}

// Load reads and validates the profile. The previous profile is kept when
// loading fails.
func (l *Loader) Load() (*Profile, error) {
	if _, err := os.Stat(l.path); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := LoadWith(l.path, l.overrides)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	return cfg, nil
}

// Watch reloads the profile on every change and passes each valid result
// to onChange. Invalid edits are logged and the previous profile stays
// current.
func (l *Loader) Watch(onChange func(*Profile)) error {
	w, err := WatchFile(l.path, DefaultDebounce, l.logger, func() {
		cfg, err := l.Load()
		if err != nil {
			l.logger.Error("profile reload failed; keeping previous profile", "path", l.path, "error", err)
			return
		}
		l.logger.Info("profile reloaded", "path", l.path)
		if onChange != nil {
			onChange(cfg)
		}
	})
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.watcher = w
	l.mu.Unlock()
	return nil
}

// Current returns the last successfully loaded profile.
func (l *Loader) Current() *Profile {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Close stops watching.
func (l *Loader) Close() error {
	l.mu.Lock()
	w := l.watcher
	l.watcher = nil
	l.mu.Unlock()
	if w != nil {
		return w.Close()
	}
	return nil
}
