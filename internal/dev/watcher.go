package dev

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeType represents the type of file change.
type ChangeType int

const (
	// ChangeAsset is any other file, e.g. below public/.
	ChangeAsset ChangeType = iota

	// ChangeRoutes is a file below a pages or app directory.
	ChangeRoutes

	// ChangeConfig is the configuration file.
	ChangeConfig

	// ChangeMiddleware is the middleware script.
	ChangeMiddleware
)

func (t ChangeType) String() string {
	switch t {
	case ChangeRoutes:
		return "routes"
	case ChangeConfig:
		return "config"
	case ChangeMiddleware:
		return "middleware"
	}
	return "asset"
}

// Change represents a detected file change.
type Change struct {
	Path string
	Type ChangeType
}

// WatcherConfig configures the file watcher.
type WatcherConfig struct {
	// Paths are watched recursively. Missing paths are skipped.
	Paths []string

	// Flat are directories watched without their subdirectories.
	Flat []string

	// Ignore patterns to skip (names, path segments or globs).
	Ignore []string

	// Debounce is the quiet period before a batch is reported.
	Debounce time.Duration

	// Classify maps a changed path to its type. Defaults to ChangeAsset.
	Classify func(path string) ChangeType
}

// DefaultIgnore contains default patterns to ignore.
var DefaultIgnore = []string{
	".git",
	".next",
	"node_modules",
	"*.tmp",
	"*.swp",
	"*~",
}

// Watcher reports batches of file changes.
type Watcher struct {
	config WatcherConfig
	fsw    *fsnotify.Watcher
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]ChangeType
	timer   *time.Timer
}

// NewWatcher creates a new file watcher.
func NewWatcher(config WatcherConfig, logger *zap.Logger) (*Watcher, error) {
	if config.Debounce == 0 {
		config.Debounce = 100 * time.Millisecond
	}
	if len(config.Ignore) == 0 {
		config.Ignore = DefaultIgnore
	}
	if config.Classify == nil {
		config.Classify = func(string) ChangeType { return ChangeAsset }
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Watcher{
		config:  config,
		fsw:     fsw,
		logger:  logger.Named("watcher"),
		pending: make(map[string]ChangeType),
	}, nil
}

// Run watches until ctx is done, calling onChange with each debounced
// batch. Batches are delivered one at a time.
func (w *Watcher) Run(ctx context.Context, onChange func([]Change)) error {
	defer w.fsw.Close()

	for _, p := range w.config.Paths {
		if err := w.addTree(p); err != nil {
			return err
		}
	}
	for _, p := range w.config.Flat {
		if err := w.fsw.Add(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to watch directory %s: %w", p, err)
		}
	}

	batches := make(chan []Change, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for batch := range batches {
			onChange(batch)
		}
	}()
	defer func() {
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		close(batches)
		wg.Wait()
	}()

	flush := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(event, flush)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))

		case <-flush:
			if batch := w.take(); len(batch) > 0 {
				select {
				case batches <- batch:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event, flush chan struct{}) {
	if w.shouldIgnore(event.Name) || event.Op == fsnotify.Chmod {
		return
	}
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("watch new directory", zap.String("path", event.Name), zap.Error(err))
			}
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[event.Name] = w.config.Classify(event.Name)
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.config.Debounce, func() {
		select {
		case flush <- struct{}{}:
		default:
		}
	})
}

// take drains the pending changes in path order.
func (w *Watcher) take() []Change {
	w.mu.Lock()
	defer w.mu.Unlock()
	changes := make([]Change, 0, len(w.pending))
	for p, t := range w.pending {
		changes = append(changes, Change{Path: p, Type: t})
	}
	w.pending = make(map[string]ChangeType)
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes
}

// addTree watches root and every directory below it.
func (w *Watcher) addTree(root string) error {
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && w.shouldIgnore(p) {
			return filepath.SkipDir
		}
		return w.fsw.Add(p)
	})
	if err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", root, err)
	}
	return nil
}

// shouldIgnore checks if a path should be ignored.
func (w *Watcher) shouldIgnore(fullPath string) bool {
	name := filepath.Base(fullPath)
	normalized := filepath.ToSlash(fullPath)

	for _, pattern := range w.config.Ignore {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}

		// Direct match
		if name == pattern {
			return true
		}

		hasPathSep := strings.Contains(pattern, "/") || strings.Contains(pattern, "\\")
		hasGlob := strings.ContainsAny(pattern, "*?[")

		if hasGlob {
			if hasPathSep {
				if matched, _ := path.Match(filepath.ToSlash(pattern), normalized); matched {
					return true
				}
			} else {
				if matched, _ := filepath.Match(pattern, name); matched {
					return true
				}
			}
			continue
		}

		if hasPathSep {
			if pathMatchesSegments(normalized, filepath.ToSlash(pattern)) {
				return true
			}
			continue
		}

		if pathHasSegment(normalized, pattern) {
			return true
		}
	}

	return false
}

func pathHasSegment(path, segment string) bool {
	if segment == "" {
		return false
	}
	for _, part := range splitPathSegments(path) {
		if part == segment {
			return true
		}
	}
	return false
}

func pathMatchesSegments(path, pattern string) bool {
	pathParts := splitPathSegments(path)
	patternParts := splitPathSegments(pattern)
	if len(patternParts) == 0 || len(patternParts) > len(pathParts) {
		return false
	}

	for i := 0; i <= len(pathParts)-len(patternParts); i++ {
		match := true
		for j := range patternParts {
			if pathParts[i+j] != patternParts[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}

	return false
}

func splitPathSegments(path string) []string {
	if path == "" {
		return nil
	}
	parts := strings.Split(path, "/")
	result := parts[:0]
	for _, part := range parts {
		if part != "" && part != "." {
			result = append(result, part)
		}
	}
	return result
}
