// Package prism exposes the compiled tree-sitter grammar for the PRISM model
// and property language to Go.
//
// The grammar itself is a C artifact generated by tree-sitter: a statically
// allocated TSLanguage table reachable through one exported accessor,
// tree_sitter_prism. This package locates that accessor (in the binary when
// built with -tags prism_static, otherwise in a prism.so/.dylib loaded with
// purego), validates the table once, and hands out a borrowed Handle to it.
//
// Loading can fail; reading the loaded grammar cannot. All failure modes
// (missing library, missing symbol, null table, ABI mismatch) surface from
// Open, Init or Default. Provider.Language and the package-level Language
// return the same handle on every call, from any goroutine, without locking.
package prism

import (
	"errors"
	"fmt"
	"unsafe"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// Symbol is the C accessor exported by the generated grammar.
const Symbol = "tree_sitter_prism"

// Name is the grammar name as declared in grammar.js.
const Name = "prism"

var (
	// ErrNotFound means no grammar artifact was found on the search path.
	ErrNotFound = errors.New("prism grammar not found")

	// ErrNullTable means the accessor resolved but returned a null table.
	ErrNullTable = errors.New("prism grammar accessor returned null")

	// ErrIncompatibleABI means the table was generated for a tree-sitter ABI
	// the linked runtime cannot read.
	ErrIncompatibleABI = errors.New("prism grammar ABI incompatible with runtime")

	// ErrAlreadyInitialized is returned by Init once a provider is installed.
	ErrAlreadyInitialized = errors.New("prism grammar already initialized")
)

// Handle is a borrowed reference to the statically allocated grammar table.
// It owns nothing: the table belongs to the grammar artifact and lives until
// the process exits. Never free or write through Pointer.
type Handle struct {
	ptr unsafe.Pointer
}

// Pointer returns the raw TSLanguage address for hand-off to a C runtime.
func (h Handle) Pointer() unsafe.Pointer {
	return h.ptr
}

// Valid reports whether the handle refers to a table.
func (h Handle) Valid() bool {
	return h.ptr != nil
}

// Language wraps the handle for the go-tree-sitter runtime.
func (h Handle) Language() *tree_sitter.Language {
	if h.ptr == nil {
		return nil
	}
	return tree_sitter.NewLanguage(h.ptr)
}

// Provider is a loaded, validated grammar. It is immutable after Open.
type Provider struct {
	handle Handle
	lang   *tree_sitter.Language
	abi    uint32
	source string
}

// Option configures Open.
type Option func(*options)

type options struct {
	probe  func(unsafe.Pointer) uint32
	minABI uint32
	maxABI uint32
}

// WithVersionProbe replaces the function used to read the table's ABI
// version. The default asks the go-tree-sitter runtime.
func WithVersionProbe(probe func(unsafe.Pointer) uint32) Option {
	return func(o *options) {
		o.probe = probe
	}
}

// WithABIRange overrides the accepted ABI range. Both bounds are inclusive.
func WithABIRange(minABI, maxABI uint32) Option {
	return func(o *options) {
		o.minABI = minABI
		o.maxABI = maxABI
	}
}

func runtimeVersion(ptr unsafe.Pointer) uint32 {
	return tree_sitter.NewLanguage(ptr).AbiVersion()
}

// Open resolves the grammar from src and validates it. This is the only
// place a grammar can fail to load.
func Open(src Source, opts ...Option) (*Provider, error) {
	if src == nil {
		return nil, fmt.Errorf("open prism grammar: nil source")
	}
	o := options{
		probe:  runtimeVersion,
		minABI: uint32(tree_sitter.MIN_COMPATIBLE_LANGUAGE_VERSION),
		maxABI: uint32(tree_sitter.LANGUAGE_VERSION),
	}
	for _, opt := range opts {
		opt(&o)
	}

	ptr, err := src.Open()
	if err != nil {
		return nil, fmt.Errorf("open prism grammar from %s: %w", src, err)
	}
	if ptr == nil {
		return nil, fmt.Errorf("open prism grammar from %s: %w", src, ErrNullTable)
	}

	abi := o.probe(ptr)
	if abi < o.minABI || abi > o.maxABI {
		return nil, fmt.Errorf("open prism grammar from %s: table ABI %d, runtime accepts %d..%d: %w",
			src, abi, o.minABI, o.maxABI, ErrIncompatibleABI)
	}

	return &Provider{
		handle: Handle{ptr: ptr},
		lang:   tree_sitter.NewLanguage(ptr),
		abi:    abi,
		source: src.String(),
	}, nil
}

// Language returns the grammar handle. Same value on every call.
func (p *Provider) Language() Handle {
	return p.handle
}

// TSLanguage returns the go-tree-sitter wrapper created at load time.
func (p *Provider) TSLanguage() *tree_sitter.Language {
	return p.lang
}

// ABIVersion is the tree-sitter ABI the table was generated for.
func (p *Provider) ABIVersion() uint32 {
	return p.abi
}

// Source describes where the grammar was loaded from.
func (p *Provider) Source() string {
	return p.source
}

// NewParser returns a go-tree-sitter parser bound to this grammar. Parsers
// are not safe for concurrent use; create one per goroutine and Close it.
func (p *Provider) NewParser() (*tree_sitter.Parser, error) {
	parser := tree_sitter.NewParser()
	if err := parser.SetLanguage(p.lang); err != nil {
		parser.Close()
		return nil, fmt.Errorf("set prism language: %w", err)
	}
	return parser, nil
}
