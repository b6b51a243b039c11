package prism

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// EnvGrammarPath lists extra grammar directories, separated by
// os.PathListSeparator. They are searched before the defaults.
const EnvGrammarPath = "TSPRISM_GRAMMAR_PATH"

var (
	installed atomic.Pointer[Provider]
	initMu    sync.Mutex
)

// DefaultSearchPaths returns the grammar directories in search order:
// $TSPRISM_GRAMMAR_PATH, <projectRoot>/.tsprism/grammars, ~/.tsprism/grammars.
func DefaultSearchPaths(projectRoot string) []string {
	var paths []string
	if env := os.Getenv(EnvGrammarPath); env != "" {
		for _, p := range filepath.SplitList(env) {
			if p != "" {
				paths = append(paths, p)
			}
		}
	}
	if projectRoot != "" {
		paths = append(paths, filepath.Join(projectRoot, ".tsprism", "grammars"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".tsprism", "grammars"))
	}
	return paths
}

// SourceFor is the statically linked grammar when the binary was built
// with -tags prism_static, otherwise a Library on DefaultSearchPaths of
// projectRoot.
func SourceFor(projectRoot string) Source {
	if src := staticSource(); src != nil {
		return src
	}
	return NewLibrary(DefaultSearchPaths(projectRoot))
}

// DefaultSource is SourceFor the working directory.
func DefaultSource() Source {
	root, _ := os.Getwd()
	return SourceFor(root)
}

// Init loads the grammar from src and installs it as the process-wide
// provider. Only the first successful Init installs; later calls return
// the installed provider and ErrAlreadyInitialized.
func Init(src Source, opts ...Option) (*Provider, error) {
	initMu.Lock()
	defer initMu.Unlock()

	if p := installed.Load(); p != nil {
		return p, ErrAlreadyInitialized
	}
	p, err := Open(src, opts...)
	if err != nil {
		return nil, err
	}
	installed.Store(p)
	slog.Debug("prism grammar loaded", "source", p.Source(), "abi", p.ABIVersion())
	return p, nil
}

// Default returns the installed provider, loading DefaultSource first if
// nothing is installed yet. A failed load is not cached, so a later call
// can succeed once the grammar is installed.
func Default() (*Provider, error) {
	if p := installed.Load(); p != nil {
		return p, nil
	}
	p, err := Init(DefaultSource())
	if errors.Is(err, ErrAlreadyInitialized) {
		return p, nil
	}
	return p, err
}

// Loaded reports whether a provider is installed.
func Loaded() bool {
	return installed.Load() != nil
}

// Language returns the process-wide grammar handle.
//
// Once the grammar is loaded this is a single atomic read and cannot fail.
// If it cannot be loaded at all, Language panics with the load error, the
// same way a missing symbol aborts a dynamically linked program. Call Init
// or Default at startup to turn that into an ordinary error.
func Language() Handle {
	if p := installed.Load(); p != nil {
		return p.handle
	}
	p, err := Default()
	if err != nil {
		panic(fmt.Sprintf("prism: %v", err))
	}
	return p.handle
}
