package prism

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

// Source yields the address of the grammar table.
type Source interface {
	Open() (unsafe.Pointer, error)
	String() string
}

// Func adapts an accessor function, typically a cgo call into a statically
// linked grammar, to a Source.
type Func func() unsafe.Pointer

// Open calls the accessor.
func (f Func) Open() (unsafe.Pointer, error) {
	return f(), nil
}

func (f Func) String() string {
	return "func"
}

// LibExtension returns the shared library extension for the current platform.
func LibExtension() string {
	if runtime.GOOS == "darwin" {
		return ".dylib"
	}
	return ".so"
}

// CSymbolName returns the C accessor name for a grammar name.
func CSymbolName(name string) string {
	return "tree_sitter_" + strings.ReplaceAll(name, "-", "_")
}

// Library loads the grammar from a shared library on a search path.
// The first directory containing <Name><ext> wins. The dlopen handle is
// never closed: the table it exposes must outlive every Handle.
type Library struct {
	SearchPaths []string
	// Name is the library base name. Defaults to "prism".
	Name string
	// Symbol is the accessor to resolve. Defaults to CSymbolName(Name).
	Symbol string

	mu     sync.Mutex
	handle uintptr
	path   string
}

// NewLibrary creates a Library source for the prism grammar.
func NewLibrary(searchPaths []string) *Library {
	return &Library{SearchPaths: searchPaths}
}

func (l *Library) name() string {
	if l.Name == "" {
		return Name
	}
	return l.Name
}

func (l *Library) symbol() string {
	if l.Symbol == "" {
		return CSymbolName(l.name())
	}
	return l.Symbol
}

// Path returns the library that Open would load, or "" if none exists.
func (l *Library) Path() string {
	file := l.name() + LibExtension()
	for _, dir := range l.SearchPaths {
		candidate := filepath.Join(dir, file)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

// Open dlopens the library (once) and calls the accessor.
func (l *Library) Open() (unsafe.Pointer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.handle == 0 {
		soPath := l.Path()
		if soPath == "" {
			return nil, fmt.Errorf("%s%s not in [%s]: %w",
				l.name(), LibExtension(), strings.Join(l.SearchPaths, ", "), ErrNotFound)
		}
		handle, err := purego.Dlopen(soPath, purego.RTLD_NOW|purego.RTLD_LOCAL)
		if err != nil {
			return nil, fmt.Errorf("dlopen %s: %w", soPath, err)
		}
		l.handle = handle
		l.path = soPath
	}

	sym, err := purego.Dlsym(l.handle, l.symbol())
	if err != nil {
		return nil, fmt.Errorf("resolve %s in %s: %w", l.symbol(), l.path, err)
	}

	var accessor func() uintptr
	purego.RegisterFunc(&accessor, sym)
	ptr := accessor()
	if ptr == 0 {
		return nil, nil
	}

	// The table is static C data inside the library, never Go memory, so
	// converting through a pointer-to-uintptr is safe and keeps vet quiet.
	return *(*unsafe.Pointer)(unsafe.Pointer(&ptr)), nil
}

func (l *Library) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.path != "" {
		return l.path
	}
	return "library " + l.name() + LibExtension()
}

// InstalledIn lists the directories in dirs that hold a prism grammar
// library, in search order.
func InstalledIn(dirs []string) []string {
	file := Name + LibExtension()
	var found []string
	for _, dir := range dirs {
		if _, err := os.Stat(filepath.Join(dir, file)); err == nil {
			found = append(found, dir)
		}
	}
	return found
}
