package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/corey/tsprism/internal/ports"
)

// IndexResult holds statistics from an IndexAll run.
type IndexResult struct {
	FileCount   int // files stored
	SymbolCount int
	ErrorCount  int // error diagnostics across all files
	Skipped     int // files that could not be read or parsed
	Removed     int // stale entries dropped from the store
}

// skipDirs lists directories to skip during indexing (matches fsnotify watcher).
var skipDirs = map[string]bool{
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

var errTooLarge = errors.New("file too large")

// Indexer keeps the symbol store in sync with the PRISM files of a project.
type Indexer struct {
	Root        string
	ProjectID   string
	Parser      ports.Parser
	Store       ports.Storage
	Workers     int   // parallel parses; <= 0 means runtime.NumCPU()
	MaxFileSize int64 // bytes; <= 0 means 1MB
}

// fileOutline is the stored result of indexing one file.
type fileOutline struct {
	symbols int
	errors  int
}

// IndexAll walks the project, parses every PRISM file in parallel and saves
// the outlines. A file that cannot be read or parsed is logged and skipped.
// Entries for files no longer on disk are removed.
func (ix *Indexer) IndexAll(ctx context.Context) (*IndexResult, error) {
	files, err := ix.discover()
	if err != nil {
		return nil, err
	}

	removed, err := ix.pruneMissing(files)
	if err != nil {
		return nil, err
	}

	result := &IndexResult{Removed: removed}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.workers())
	for _, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := ix.indexFile(path)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.Warn("skipping file", "path", path, "err", err)
				result.Skipped++
				return nil
			}
			result.FileCount++
			result.SymbolCount += out.symbols
			result.ErrorCount += out.errors
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("index %s: %w", ix.Root, err)
	}

	slog.Debug("index complete", "root", ix.Root, "files", result.FileCount,
		"symbols", result.SymbolCount, "skipped", result.Skipped, "removed", result.Removed)
	return result, nil
}

// IndexPath re-indexes one file, or deletes its entry if the file is gone.
// Paths the parser does not handle are ignored.
func (ix *Indexer) IndexPath(absPath string) error {
	if ix.Parser.FileKind(absPath) == "" {
		return nil
	}
	if _, err := os.Stat(absPath); errors.Is(err, os.ErrNotExist) {
		rel, err := ix.relPath(absPath)
		if err != nil {
			return err
		}
		return ix.Store.DeleteFile(ix.ProjectID, rel)
	}
	_, err := ix.indexFile(absPath)
	return err
}

// discover returns the absolute paths of all PRISM files under Root, sorted.
func (ix *Indexer) discover() ([]string, error) {
	var files []string
	err := filepath.WalkDir(ix.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable
		}
		if d.IsDir() {
			if skipDirs[d.Name()] && path != ix.Root {
				return filepath.SkipDir
			}
			return nil
		}
		if ix.Parser.FileKind(path) != "" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// pruneMissing deletes stored files that are not in the discovered set.
func (ix *Indexer) pruneMissing(files []string) (int, error) {
	present := make(map[string]bool, len(files))
	for _, f := range files {
		rel, err := ix.relPath(f)
		if err != nil {
			return 0, err
		}
		present[rel] = true
	}

	stored, err := ix.Store.Files(ix.ProjectID)
	if err != nil {
		return 0, fmt.Errorf("list indexed files: %w", err)
	}
	removed := 0
	for _, fm := range stored {
		if present[fm.Path] {
			continue
		}
		if err := ix.Store.DeleteFile(ix.ProjectID, fm.Path); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (ix *Indexer) indexFile(absPath string) (*fileOutline, error) {
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, err
	}
	if info.Size() > ix.maxFileSize() {
		return nil, fmt.Errorf("%w: %d bytes", errTooLarge, info.Size())
	}
	source, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}
	rel, err := ix.relPath(absPath)
	if err != nil {
		return nil, err
	}

	metas, err := ix.Parser.ParseFileToMeta(absPath, source)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	diags, err := ix.Parser.Check(absPath, source)
	if err != nil {
		return nil, fmt.Errorf("check: %w", err)
	}
	errCount := 0
	for _, d := range diags {
		if d.Severity == ports.SeverityError {
			errCount++
		}
	}

	fm := &ports.FileMeta{
		Path:         rel,
		LastModified: info.ModTime().Unix(),
		Kind:         ix.Parser.FileKind(absPath),
		ErrorCount:   errCount,
	}
	if err := ix.Store.SaveFile(ix.ProjectID, fm, metas); err != nil {
		return nil, fmt.Errorf("save: %w", err)
	}
	return &fileOutline{symbols: len(metas), errors: errCount}, nil
}

// relPath returns the slash-separated store key for a path under Root.
func (ix *Indexer) relPath(absPath string) (string, error) {
	rel, err := filepath.Rel(ix.Root, absPath)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

func (ix *Indexer) workers() int {
	if ix.Workers > 0 {
		return ix.Workers
	}
	return runtime.NumCPU()
}

func (ix *Indexer) maxFileSize() int64 {
	if ix.MaxFileSize > 0 {
		return ix.MaxFileSize
	}
	return 1 << 20
}
