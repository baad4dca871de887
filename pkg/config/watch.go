package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events editors emit per save.
const DefaultDebounce = 100 * time.Millisecond

// FileWatcher calls a function whenever one file changes. It watches the
// parent directory so atomic rename-on-save is seen.
type FileWatcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	onChange func()

	closeOnce sync.Once
	close     chan struct{}
	done      chan struct{}
}

// WatchFile starts watching path. onChange runs on the watcher goroutine,
// at most once per debounce window.
func WatchFile(path string, debounce time.Duration, logger *slog.Logger, onChange func()) (*FileWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	fw := &FileWatcher{
		path:     absPath,
		debounce: debounce,
		logger:   logger.With("component", "file_watcher", "path", absPath),
		watcher:  watcher,
		onChange: onChange,
		close:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	go fw.loop()
	return fw, nil
}

func (fw *FileWatcher) loop() {
	defer close(fw.done)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-fw.close:
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != fw.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(fw.debounce)
			} else {
				timer.Reset(fw.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			fw.logger.Debug("file changed")
			fw.onChange()
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn("file watcher error", "error", err)
		}
	}
}

// Close stops the watcher and waits for the loop to exit.
func (fw *FileWatcher) Close() error {
	var err error
	fw.closeOnce.Do(func() {
		close(fw.close)
		err = fw.watcher.Close()
		<-fw.done
	})
	return err
}
