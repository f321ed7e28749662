package docs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// DefaultDebounce groups bursts of editor writes into one notification.
const DefaultDebounce = 500 * time.Millisecond

// Watcher invalidates parse cache entries when documentation files change
// and calls OnChange once per burst of changes.
type Watcher struct {
	roots    []string
	cache    *ParseCache
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *zap.Logger

	// OnChange receives the changed paths after the debounce interval.
	OnChange func(paths []string)

	started  bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewWatcher creates a watcher over the scanner's roots sharing its cache.
func NewWatcher(scanner *Scanner, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	return &Watcher{
		roots:    scanner.Roots(),
		cache:    scanner.Cache(),
		watcher:  w,
		debounce: DefaultDebounce,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start registers every directory under the roots and begins processing
// events in a background goroutine. Call Stop to release resources.
func (w *Watcher) Start(ctx context.Context) error {
	watched := 0
	for _, root := range w.roots {
		info, err := os.Stat(root)
		if err != nil {
			continue
		}
		if !info.IsDir() {
			if err := w.watcher.Add(filepath.Dir(root)); err == nil {
				watched++
			}
			continue
		}
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return nil
			}
			if _, skip := skipDirs[d.Name()]; skip && path != root {
				return filepath.SkipDir
			}
			if err := w.watcher.Add(path); err != nil {
				w.logger.Warn("cannot watch directory", zap.String("path", path), zap.Error(err))
				return nil
			}
			watched++
			return nil
		})
	}
	if watched == 0 {
		return fmt.Errorf("%w: no documentation directories to watch", ErrWatcherFailed)
	}
	w.logger.Info("watching documentation", zap.Int("directories", watched))
	w.started = true
	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		_ = w.watcher.Close()
	})
	if w.started {
		<-w.done
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	pending := make(map[string]struct{})
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.handle(event) {
				pending[event.Name] = struct{}{}
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("documentation watcher error", zap.Error(err))
		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			pending = make(map[string]struct{})
			w.logger.Debug("documentation changed", zap.Strings("paths", paths))
			if w.OnChange != nil {
				w.OnChange(paths)
			}
		}
	}
}

// handle updates the cache for one event and reports whether it concerns
// a documentation file.
func (w *Watcher) handle(event fsnotify.Event) bool {
	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if _, skip := skipDirs[info.Name()]; !skip {
				_ = w.watcher.Add(event.Name)
			}
			return false
		}
	}
	if !isDocFile(filepath.Base(event.Name)) {
		return false
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	w.cache.Invalidate(event.Name)
	return true
}
