// Package watch re-runs the pipeline whenever a project descriptor or the
// configuration file changes
package watch

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

	"github.com/projbuild/projbuild/internal/engine"
	"github.com/projbuild/projbuild/pkg/config"
	"github.com/projbuild/projbuild/pkg/logger"
	"github.com/projbuild/projbuild/pkg/types"
	"github.com/projbuild/projbuild/pkg/utils"
)

// DefaultSettlingDelay is how long the tree must stay quiet before a re-run
const DefaultSettlingDelay = 500 * time.Millisecond

// RunFunc performs one run of the pipeline
type RunFunc func(ctx context.Context) error

// Option configures a Watcher
type Option func(*Watcher)

// WithSettlingDelay sets the quiet period that ends a burst of events
func WithSettlingDelay(d time.Duration) Option {
	return func(w *Watcher) { w.settling = d }
}

// WithIgnore skips events below the given directories
func WithIgnore(dirs ...string) Option {
	return func(w *Watcher) { w.ignore = append(w.ignore, dirs...) }
}

// Watcher watches every directory of a tree
type Watcher struct {
	root     string
	logger   logger.Logger
	settling time.Duration
	ignore   []string

	files    *utils.FileMatcher
	excluded *utils.ExclusionMatcher
	fsw      *fsnotify.Watcher

	trigger chan struct{}
	mu      sync.Mutex
	timer   *time.Timer
}

// New creates a watcher for the tree at root using the descriptor pattern
// and exclusions of cfg
func New(root string, cfg *types.ProjbuildConfig, log logger.Logger, opts ...Option) (*Watcher, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	abs, err := utils.AbsPath(root)
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		root:     abs,
		logger:   log,
		settling: DefaultSettlingDelay,
		trigger:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}

	if w.files, err = utils.NewFileMatcher(cfg.DescriptorPattern); err != nil {
		return nil, fmt.Errorf("invalid descriptor pattern: %w", err)
	}
	if w.excluded, err = utils.NewExclusionMatcher(cfg.Exclude); err != nil {
		return nil, fmt.Errorf("invalid exclusion pattern: %w", err)
	}

	if w.fsw, err = fsnotify.NewWatcher(); err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return w, nil
}

// Close releases the underlying watcher
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.fsw.Close()
}

// List returns the watched directories
func (w *Watcher) List() []string {
	return w.fsw.WatchList()
}

// Run performs an initial run, then re-runs after every settled burst of
// relevant changes until ctx is cancelled. Runs never overlap. A failing
// run is logged and watching continues.
func (w *Watcher) Run(ctx context.Context, run RunFunc) error {
	if _, err := w.addTree(w.root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.root, err)
	}
	w.logger.Info(fmt.Sprintf("Watching %s", w.root),
		logger.WithField("directories", len(w.fsw.WatchList())))

	sg, gctx := engine.NewSafeGroup(ctx, w.logger)

	sg.Go(func() error {
		return w.pump(gctx)
	})

	sg.Go(func() error {
		w.runOnce(gctx, run)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-w.trigger:
				w.logger.Info("Change detected, re-running")
				w.runOnce(gctx, run)
			}
		}
	})

	err := sg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Watcher) runOnce(ctx context.Context, run RunFunc) {
	if ctx.Err() != nil {
		return
	}
	if err := run(ctx); err != nil {
		w.logger.Error("Run failed", logger.WithError(err))
	}
}

// pump moves fsnotify events into the settling timer
func (w *Watcher) pump(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.handle(event) {
				w.logger.Debug("Relevant change", logger.WithField("event", event.String()))
				w.schedule()
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("Watcher error", logger.WithError(err))
		}
	}
}

// handle reports whether event should trigger a re-run. New directories are
// watched as they appear.
func (w *Watcher) handle(event fsnotify.Event) bool {
	if w.ignored(event.Name) {
		return false
	}

	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			found, err := w.addTree(event.Name)
			if err != nil {
				w.logger.Warn("Failed to watch new directory",
					logger.WithField("path", event.Name),
					logger.WithError(err))
			}
			return found
		}
	}

	if event.Op == fsnotify.Chmod {
		return false
	}

	if filepath.Dir(event.Name) == w.root && isConfigFile(event.Name) {
		return true
	}
	return w.files.Match(event.Name)
}

// schedule restarts the settling timer
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.settling, func() {
		select {
		case w.trigger <- struct{}{}:
		default:
			// a re-run is already pending
		}
	})
}

// addTree watches dir and every directory below it. It reports whether a
// descriptor was found.
func (w *Watcher) addTree(dir string) (bool, error) {
	found := false
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			w.logger.Warn(fmt.Sprintf("Skipping %s: %v", path, err))
			return nil
		}

		if w.ignored(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.IsDir() {
			if w.files.Match(path) {
				found = true
			}
			return nil
		}

		if err := w.fsw.Add(path); err != nil {
			w.logger.Warn(fmt.Sprintf("Failed to watch directory %s: %v", path, err))
		}
		return nil
	})
	return found, err
}

func (w *Watcher) ignored(path string) bool {
	for _, dir := range w.ignore {
		if dir != w.root && utils.IsWithin(dir, path) {
			return true
		}
	}

	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." {
		return false
	}
	return w.excluded.IsExcluded(filepath.ToSlash(rel))
}

func isConfigFile(path string) bool {
	base := filepath.Base(path)
	for _, name := range config.FileNames {
		if base == name {
			return true
		}
	}
	return false
}
