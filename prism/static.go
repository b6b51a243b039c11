//go:build cgo && prism_static

package prism

// The generated grammar sources (src/parser.c, src/tree_sitter/parser.h) are
// produced by `tree-sitter generate` and compiled straight into the binary:
//
//	tree-sitter generate --output src/ path/to/grammar.js
//	go build -tags prism_static ./cmd/tsprism

// #cgo CFLAGS: -std=c11 -fPIC -I${SRCDIR}/../src
// #include "parser.c"
import "C"

import "unsafe"

// Static returns the grammar linked into this binary.
func Static() Source {
	return staticFunc{}
}

type staticFunc struct{}

func (staticFunc) Open() (unsafe.Pointer, error) {
	return unsafe.Pointer(C.tree_sitter_prism()), nil
}

func (staticFunc) String() string {
	return "static"
}

func staticSource() Source {
	return Static()
}
