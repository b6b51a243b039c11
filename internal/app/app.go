// Package app wires the grammar provider, parser, symbol store, file watcher
// and socket server into the tsprism daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/corey/tsprism/internal/adapters/bbolt"
	fsw "github.com/corey/tsprism/internal/adapters/fsnotify"
	"github.com/corey/tsprism/internal/adapters/socket"
	"github.com/corey/tsprism/internal/adapters/treesitter"
	"github.com/corey/tsprism/internal/ports"
	"github.com/corey/tsprism/prism"
)

// ErrUnsupportedFile is returned for paths the parser does not handle.
var ErrUnsupportedFile = errors.New("not a PRISM file")

var _ socket.Service = (*App)(nil)

// App is the top-level container wiring all components together.
type App struct {
	ProjectRoot string
	ProjectID   string
	Paths       *Paths

	Provider *prism.Provider
	Parser   *treesitter.Parser
	Store    *bbolt.Store
	Watcher  ports.Watcher
	Indexer  *Indexer
	Server   *socket.Server

	startOnce sync.Once
	stopOnce  sync.Once
	startErr  error
}

// Config holds initialization parameters for the App.
type Config struct {
	ProjectRoot string
	ProjectID   string          // default: base name of ProjectRoot
	DBPath      string          // default: .tsprism/tsprism.db
	SockPath    string          // default: socket.SocketPath(ProjectRoot)
	Provider    *prism.Provider // default: prism.Default()
	Project     *ProjectConfig  // default: DefaultProjectConfig()
}

// New creates an App with all dependencies wired. Does not start services.
func New(cfg Config) (*App, error) {
	if cfg.ProjectRoot == "" {
		return nil, fmt.Errorf("project root required")
	}
	root, err := filepath.Abs(cfg.ProjectRoot)
	if err != nil {
		return nil, err
	}
	if cfg.ProjectID == "" {
		cfg.ProjectID = filepath.Base(root)
	}
	if cfg.Project == nil {
		cfg.Project = DefaultProjectConfig()
	}
	paths := NewPaths(root)
	if cfg.DBPath == "" {
		cfg.DBPath = paths.DB
	}
	if cfg.SockPath == "" {
		cfg.SockPath = socket.SocketPath(root)
	}
	if cfg.Provider == nil {
		cfg.Provider, err = prism.Default()
		if err != nil {
			return nil, fmt.Errorf("load grammar: %w", err)
		}
	}

	if err := paths.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("create %s: %w", paths.Root, err)
	}

	parser := treesitter.NewParser(cfg.Provider)
	for kind, exts := range cfg.Project.Extensions {
		parser.AddExtensions(kind, exts...)
	}

	store, err := bbolt.NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	watcher, err := fsw.NewWatcher(fsw.WithExtensions(parser.SupportedExtensions()))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	a := &App{
		ProjectRoot: root,
		ProjectID:   cfg.ProjectID,
		Paths:       paths,
		Provider:    cfg.Provider,
		Parser:      parser,
		Store:       store,
		Watcher:     watcher,
		Indexer: &Indexer{
			Root:        root,
			ProjectID:   cfg.ProjectID,
			Parser:      parser,
			Store:       store,
			Workers:     cfg.Project.Index.Workers,
			MaxFileSize: cfg.Project.Index.MaxFileSize,
		},
	}
	a.Server = socket.NewServer(a, cfg.SockPath)
	return a, nil
}

// Start begins the daemon: socket server first, then the file watcher.
// Calling Start again returns the result of the first call.
func (a *App) Start() error {
	a.startOnce.Do(func() {
		if err := a.Server.Start(); err != nil {
			a.startErr = fmt.Errorf("start server: %w", err)
			return
		}
		if err := os.WriteFile(a.Paths.PIDFile, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
			slog.Warn("write pid file", "path", a.Paths.PIDFile, "err", err)
		}
		// The daemon still answers queries without live updates.
		if err := a.Watcher.Watch(a.ProjectRoot, a.onFileChanged); err != nil {
			slog.Warn("file watcher unavailable", "err", err)
		}
		slog.Info("daemon started", "root", a.ProjectRoot, "socket", a.Server.Addr())
	})
	return a.startErr
}

// Stop shuts down all services and closes the store. Safe to call more than
// once, and without a prior Start.
func (a *App) Stop() error {
	var err error
	a.stopOnce.Do(func() {
		a.Watcher.Stop()
		a.Server.Stop()
		err = a.Store.Close()
		a.Paths.CleanEphemeral()
	})
	return err
}

// onFileChanged keeps the store in sync with one changed file.
func (a *App) onFileChanged(absPath string) {
	if err := a.Indexer.IndexPath(absPath); err != nil {
		slog.Warn("reindex file", "path", absPath, "err", err)
		return
	}
	slog.Debug("reindexed file", "path", absPath)
}

// Health reports grammar and index state. Implements socket.Service.
func (a *App) Health() socket.HealthResult {
	result := socket.HealthResult{
		Grammar: a.Provider.Source(),
		ABI:     a.Provider.ABIVersion(),
		Root:    a.ProjectRoot,
	}
	if files, err := a.Store.Files(a.ProjectID); err == nil {
		result.FileCount = len(files)
	}
	return result
}

// Outline parses a file or inline source. Implements socket.Service.
func (a *App) Outline(params socket.SourceParams) (*socket.OutlineResult, error) {
	source, inline, err := a.resolveSource(params)
	if err != nil {
		return nil, err
	}
	var symbols []treesitter.Symbol
	if inline {
		symbols, err = a.Parser.ParseSource(source)
	} else {
		symbols, err = a.Parser.ParseFile(params.Path, source)
	}
	if err != nil {
		return nil, err
	}

	result := &socket.OutlineResult{Path: params.Path, Symbols: []ports.SymbolMeta{}}
	for _, m := range treesitter.ToMeta(symbols) {
		result.Symbols = append(result.Symbols, *m)
	}
	result.Count = len(result.Symbols)
	return result, nil
}

// Check reports diagnostics for a file or inline source. Implements socket.Service.
func (a *App) Check(params socket.SourceParams) (*socket.CheckResult, error) {
	source, inline, err := a.resolveSource(params)
	if err != nil {
		return nil, err
	}
	var diags []ports.Diagnostic
	if inline {
		diags, err = a.Parser.CheckSource(source)
	} else {
		diags, err = a.Parser.Check(params.Path, source)
	}
	if err != nil {
		return nil, err
	}

	result := &socket.CheckResult{Path: params.Path, Diagnostics: []ports.Diagnostic{}}
	for _, d := range diags {
		result.Diagnostics = append(result.Diagnostics, d)
		if d.Severity == ports.SeverityError {
			result.ErrorCount++
		}
	}
	return result, nil
}

// resolveSource returns the text to parse. Inline source wins over a path;
// relative paths are resolved against the project root.
func (a *App) resolveSource(params socket.SourceParams) ([]byte, bool, error) {
	if params.Source != "" {
		return []byte(params.Source), true, nil
	}
	if params.Path == "" {
		return nil, false, fmt.Errorf("path or source required")
	}
	if a.Parser.FileKind(params.Path) == "" {
		return nil, false, fmt.Errorf("%s: %w", params.Path, ErrUnsupportedFile)
	}
	path := params.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(a.ProjectRoot, path)
	}
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	return source, false, nil
}

// Find looks up symbols in the index. Implements socket.Service.
func (a *App) Find(name string) (*socket.FindResult, error) {
	hits, err := a.Store.Find(a.ProjectID, name)
	if err != nil {
		return nil, err
	}
	if hits == nil {
		hits = []ports.SymbolHit{}
	}
	return &socket.FindResult{Hits: hits, Count: len(hits)}, nil
}

// Files lists indexed files. Implements socket.Service.
func (a *App) Files() (*socket.FilesResult, error) {
	files, err := a.Store.Files(a.ProjectID)
	if err != nil {
		return nil, err
	}
	result := &socket.FilesResult{Files: make([]ports.FileMeta, 0, len(files))}
	for _, fm := range files {
		result.Files = append(result.Files, *fm)
	}
	result.Count = len(result.Files)
	return result, nil
}

// Reindex performs a full project walk and parse. Implements socket.Service.
func (a *App) Reindex(ctx context.Context) (*socket.ReindexResult, error) {
	start := time.Now()
	stats, err := a.Indexer.IndexAll(ctx)
	if err != nil {
		return nil, err
	}
	return &socket.ReindexResult{
		FileCount:   stats.FileCount,
		SymbolCount: stats.SymbolCount,
		ErrorCount:  stats.ErrorCount,
		ElapsedMs:   time.Since(start).Milliseconds(),
	}, nil
}
