// SPDX-License-Identifier: MPL-2.0

package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alienmod/alienmod/pkg/container"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period after the last event before OnChange fires.
const DefaultDebounce = 300 * time.Millisecond

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("watcher already running")

// defaultIgnores never trigger a rebuild. Package outputs are ignored so a
// package written into the source tree does not retrigger itself.
var defaultIgnores = []string{
	"**/*" + container.Extension,
	"**/.*.tmp-*",
	"**/.git/**",
	"**/__pycache__/**",
	"**/*.swp",
	"**/*~",
	"**/.DS_Store",
}

type (
	// Config holds the parameters for a Watcher.
	Config struct {
		// BaseDir is the module source root. Defaults to the working directory.
		BaseDir string
		// Patterns select the slash paths, relative to BaseDir, that trigger
		// OnChange. Empty means every non-ignored file.
		Patterns []string
		// Ignore extends the built-in ignore patterns.
		Ignore []string
		// Debounce defaults to DefaultDebounce.
		Debounce time.Duration
		// OnChange receives the sorted, deduplicated changed paths. Errors are
		// logged and watching continues.
		OnChange func(ctx context.Context, changed []string) error
		// Logger defaults to a discarding logger.
		Logger *log.Logger
	}

	// Watcher watches one source tree. Run may be called once.
	Watcher struct {
		cfg      Config
		fsw      *fsnotify.Watcher
		baseDir  string
		ignores  []string
		debounce time.Duration
		logger   *log.Logger
		started  atomic.Bool
	}
)

// New validates the patterns and registers every non-ignored directory
// under BaseDir.
func New(cfg Config) (*Watcher, error) {
	if err := validatePatterns("watch", cfg.Patterns); err != nil {
		return nil, err
	}
	if err := validatePatterns("ignore", cfg.Ignore); err != nil {
		return nil, err
	}

	base := cfg.BaseDir
	if base == "" {
		base = "."
	}
	base, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("resolving watch root: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	w := &Watcher{
		cfg:      cfg,
		fsw:      fsw,
		baseDir:  base,
		ignores:  slices.Concat(defaultIgnores, cfg.Ignore),
		debounce: cfg.Debounce,
		logger:   cfg.Logger,
	}
	if w.debounce <= 0 {
		w.debounce = DefaultDebounce
	}
	if w.logger == nil {
		w.logger = log.New(io.Discard)
	}

	if err := w.addTree(base); err != nil {
		_ = fsw.Close() // Best-effort cleanup
		return nil, err
	}
	return w, nil
}

// Run dispatches debounced callbacks until ctx is done. It returns nil on
// cancellation and an error when the underlying watcher fails fatally.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer func() { _ = w.fsw.Close() }()

	var (
		mu      sync.Mutex
		pending = map[string]struct{}{}
		timer   *time.Timer
		busy    atomic.Bool
	)

	var fire func()
	fire = func() {
		if ctx.Err() != nil {
			return
		}
		// One callback at a time; events that arrive meanwhile wait for the next round.
		if !busy.CompareAndSwap(false, true) {
			mu.Lock()
			timer.Reset(w.debounce)
			mu.Unlock()
			return
		}
		defer busy.Store(false)

		mu.Lock()
		changed := slices.Sorted(maps.Keys(pending))
		clear(pending)
		mu.Unlock()
		if len(changed) == 0 || w.cfg.OnChange == nil {
			return
		}

		w.logger.Debug("source changed", "files", changed)
		if err := w.cfg.OnChange(ctx, changed); err != nil {
			w.logger.Error("rebuild failed", "error", err)
		}
	}

	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("file watcher closed unexpectedly")
			}
			rel, ok := w.relative(evt.Name)
			if !ok || w.ignored(rel) {
				continue
			}
			if evt.Has(fsnotify.Create) {
				if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
					if err := w.addTree(evt.Name); err != nil {
						w.logger.Warn("cannot watch new directory", "path", rel, "error", err)
					}
					continue
				}
			}
			if !w.selected(rel) {
				continue
			}

			mu.Lock()
			pending[rel] = struct{}{}
			if timer == nil {
				timer = time.AfterFunc(w.debounce, fire)
			} else {
				timer.Reset(w.debounce)
			}
			mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("file watcher closed unexpectedly")
			}
			if isFatal(err) {
				return fmt.Errorf("file watcher failed: %w", err)
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

// addTree registers root and every non-ignored directory below it.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("skipping unreadable path", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if rel, ok := w.relative(path); ok && rel != "." && w.ignored(rel+"/") {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) relative(path string) (string, bool) {
	rel, err := filepath.Rel(w.baseDir, path)
	if err != nil {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (w *Watcher) ignored(rel string) bool {
	return matchAny(w.ignores, rel)
}

func (w *Watcher) selected(rel string) bool {
	return len(w.cfg.Patterns) == 0 || matchAny(w.cfg.Patterns, rel)
}

func matchAny(patterns []string, rel string) bool {
	for _, pat := range patterns {
		if ok, err := doublestar.Match(pat, rel); err == nil && ok {
			return true
		}
	}
	return false
}

func validatePatterns(kind string, patterns []string) error {
	for _, pat := range patterns {
		if !doublestar.ValidatePattern(pat) {
			return fmt.Errorf("invalid %s pattern %q", kind, pat)
		}
	}
	return nil
}
