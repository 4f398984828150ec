package discovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pterm/pterm"
)

// SourceWatcher follows the glob patterns of every configuration and
// reports the files that appear, change or disappear.
//
// fsnotify watches directories, so the parent directory of each pattern is
// watched and events are matched against the patterns.
type SourceWatcher struct {
	watcher *fsnotify.Watcher
	logger  *pterm.Logger

	mu       sync.RWMutex
	patterns map[string][]string // configuration -> absolute patterns
	dirs     map[string]int      // watched directory -> reference count

	onChange func(config, path string)
	onRemove func(path string)
}

// NewSourceWatcher creates a watcher. onChange is called for a matching
// file that was created or written; onRemove for a path that was removed
// or renamed.
func NewSourceWatcher(onChange func(config, path string), onRemove func(path string), logger *pterm.Logger) (*SourceWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &SourceWatcher{
		watcher:  fsWatcher,
		logger:   logger,
		patterns: make(map[string][]string),
		dirs:     make(map[string]int),
		onChange: onChange,
		onRemove: onRemove,
	}, nil
}

// Watch starts following patterns on behalf of the named configuration and
// reports every file that already matches.
func (w *SourceWatcher) Watch(name string, patterns []string) error {
	abs := make([]string, 0, len(patterns))
	for _, p := range patterns {
		a, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("failed to resolve pattern %q: %w", p, err)
		}
		if _, err := filepath.Match(a, a); err != nil {
			return fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		abs = append(abs, a)
	}

	dirs, err := patternDirs(abs)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.unwatchLocked(name)
	w.patterns[name] = abs
	var added []string
	for _, dir := range dirs {
		if w.dirs[dir] == 0 {
			if err := w.watcher.Add(dir); err != nil {
				w.logger.Warn("Failed to watch directory", w.logger.Args("dir", dir, "error", err))
				continue
			}
			added = append(added, dir)
		}
		w.dirs[dir]++
	}
	w.mu.Unlock()

	w.logger.Info("Watching sources", w.logger.Args("config", name, "patterns", abs, "directories", len(added)))

	for _, path := range existing(abs) {
		w.logger.Trace("Existing file found", w.logger.Args("config", name, "path", path))
		w.onChange(name, path)
	}
	return nil
}

// Unwatch stops following the patterns of the named configuration.
func (w *SourceWatcher) Unwatch(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unwatchLocked(name)
}

func (w *SourceWatcher) unwatchLocked(name string) {
	patterns, ok := w.patterns[name]
	if !ok {
		return
	}
	delete(w.patterns, name)

	dirs, _ := patternDirs(patterns)
	for _, dir := range dirs {
		w.dirs[dir]--
		if w.dirs[dir] <= 0 {
			delete(w.dirs, dir)
			_ = w.watcher.Remove(dir)
		}
	}
	w.logger.Debug("Stopped watching sources", w.logger.Args("config", name))
}

// Run delivers events until ctx is cancelled.
func (w *SourceWatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.watcher.Close()
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithCaller().Error("Watcher error", w.logger.Args("error", err))
		}
	}
}

func (w *SourceWatcher) handle(event fsnotify.Event) {
	path, err := filepath.Abs(event.Name)
	if err != nil {
		return
	}

	configs := w.matching(path)
	if len(configs) == 0 {
		return
	}

	switch {
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.logger.Debug("File removed", w.logger.Args("path", path, "op", event.Op.String()))
		w.onRemove(path)
	case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			return
		}
		for _, name := range configs {
			w.logger.Trace("File changed", w.logger.Args("config", name, "path", path, "op", event.Op.String()))
			w.onChange(name, path)
		}
	}
}

// matching returns the configurations with a pattern matching path.
func (w *SourceWatcher) matching(path string) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var names []string
	for name, patterns := range w.patterns {
		for _, p := range patterns {
			if ok, _ := filepath.Match(p, path); ok {
				names = append(names, name)
				break
			}
		}
	}
	sort.Strings(names)
	return names
}

// Close releases the underlying watcher.
func (w *SourceWatcher) Close() error {
	return w.watcher.Close()
}

// patternDirs resolves the directories to watch for patterns. A pattern
// whose directory part contains wildcards watches every directory it
// currently matches.
func patternDirs(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var dirs []string
	for _, p := range patterns {
		dir := filepath.Dir(p)
		candidates := []string{dir}
		if hasMeta(dir) {
			matches, err := filepath.Glob(dir)
			if err != nil {
				return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
			}
			candidates = matches
		}
		for _, c := range candidates {
			if info, err := os.Stat(c); err != nil || !info.IsDir() {
				continue
			}
			if !seen[c] {
				seen[c] = true
				dirs = append(dirs, c)
			}
		}
	}
	return dirs, nil
}

func existing(patterns []string) []string {
	seen := make(map[string]bool)
	var files []string
	for _, p := range patterns {
		matches, _ := filepath.Glob(p)
		for _, m := range matches {
			if info, err := os.Stat(m); err != nil || info.IsDir() {
				continue
			}
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	sort.Strings(files)
	return files
}

func hasMeta(path string) bool {
	for _, c := range path {
		switch c {
		case '*', '?', '[':
			return true
		}
	}
	return false
}
