// Package fsnotify implements the ports.Watcher interface using github.com/fsnotify/fsnotify.
// It recursively watches a project directory, filters out ignored directories and
// files that are not PRISM sources, and debounces rapid events (editors often
// trigger multiple writes per save).
package fsnotify

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/corey/tsprism/internal/ports"
)

// Directories to ignore when watching.
var ignoreDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	".venv":        true,
	".idea":        true,
	".vscode":      true,
	"dist":         true,
	"build":        true,
	".tsprism":     true,
	"target":       true,
}

// File names/suffixes to ignore.
var ignoreFiles = map[string]bool{
	".DS_Store": true,
	".swp":      true,
	".swx":      true,
	"~":         true,
	".tmp":      true,
}

// debounceInterval is the quiet period after the last event for a path before
// onChange fires.
const debounceInterval = 50 * time.Millisecond

// Option configures a Watcher.
type Option func(*Watcher)

// WithExtensions restricts callbacks to files with one of the given
// extensions (leading dot, case-insensitive). Without it every
// non-ignored file is reported.
func WithExtensions(exts []string) Option {
	return func(w *Watcher) {
		w.exts = make(map[string]bool, len(exts))
		for _, ext := range exts {
			w.exts[strings.ToLower(ext)] = true
		}
	}
}

// Watcher implements ports.Watcher using fsnotify.
type Watcher struct {
	fw      *fsnotify.Watcher
	done    chan struct{}
	exts    map[string]bool
	stopped bool
	mu      sync.Mutex

	pending map[string]*time.Timer
	pmu     sync.Mutex
}

var _ ports.Watcher = (*Watcher)(nil)

// NewWatcher creates a new file system watcher.
func NewWatcher(opts ...Option) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fw:      fw,
		done:    make(chan struct{}),
		pending: make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Watch starts monitoring projectPath recursively.
// onChange is called with the absolute path of each changed file.
func (w *Watcher) Watch(projectPath string, onChange func(filePath string)) error {
	absPath, err := filepath.Abs(projectPath)
	if err != nil {
		return err
	}
	if err := w.addTree(absPath, absPath); err != nil {
		return err
	}

	go func() {
		for {
			select {
			case event, ok := <-w.fw.Events:
				if !ok {
					return
				}
				path := event.Name

				// New directories join the watch list, including any
				// subdirectories created before the watch was added.
				if event.Has(fsnotify.Create) {
					if info, err := os.Stat(path); err == nil && info.IsDir() {
						if !shouldIgnoreDir(info.Name()) {
							if err := w.addTree(absPath, path); err != nil {
								slog.Debug("watch directory", "path", path, "err", err)
							}
						}
						continue
					}
				}

				if !w.accept(path) {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
					event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
					w.schedule(path, onChange)
				}

			case err, ok := <-w.fw.Errors:
				if !ok {
					return
				}
				// fsnotify recovers on its own; overflow means events were lost.
				slog.Warn("file watcher error", "err", err)

			case <-w.done:
				return
			}
		}
	}()

	return nil
}

// addTree adds dir and its non-ignored subdirectories to the watch list.
func (w *Watcher) addTree(root, dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip inaccessible paths
		}
		if info.IsDir() {
			if shouldIgnoreDir(info.Name()) && path != root {
				return filepath.SkipDir
			}
			return w.fw.Add(path)
		}
		return nil
	})
}

// schedule fires onChange once path has been quiet for debounceInterval, so
// the callback sees the file after the last write of a burst.
func (w *Watcher) schedule(path string, onChange func(string)) {
	w.pmu.Lock()
	defer w.pmu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Reset(debounceInterval)
		return
	}
	w.pending[path] = time.AfterFunc(debounceInterval, func() {
		w.pmu.Lock()
		delete(w.pending, path)
		w.pmu.Unlock()

		select {
		case <-w.done:
			return
		default:
		}
		onChange(path)
	})
}

// accept reports whether a changed path should reach the callback.
func (w *Watcher) accept(path string) bool {
	if shouldIgnorePath(path) {
		return false
	}
	if w.exts == nil {
		return true
	}
	return w.exts[strings.ToLower(filepath.Ext(path))]
}

// Stop ends monitoring and releases all resources.
// Safe to call multiple times.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.done)

	w.pmu.Lock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	w.pmu.Unlock()

	return w.fw.Close()
}

// shouldIgnoreDir returns true if the directory name should be skipped.
func shouldIgnoreDir(name string) bool {
	return ignoreDirs[name]
}

// shouldIgnorePath returns true if the file path should not trigger onChange.
func shouldIgnorePath(path string) bool {
	base := filepath.Base(path)

	if ignoreFiles[base] {
		return true
	}
	for suffix := range ignoreFiles {
		if strings.HasSuffix(base, suffix) {
			return true
		}
	}

	// Check if any path component is an ignored directory
	for _, part := range strings.Split(path, string(filepath.Separator)) {
		if ignoreDirs[part] {
			return true
		}
	}

	return false
}
