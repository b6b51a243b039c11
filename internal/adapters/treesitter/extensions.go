package treesitter

import (
	"path/filepath"
	"strings"
)

// File kinds recognized by the PRISM toolchain.
const (
	KindModel      = "model"
	KindProperties = "properties"
)

// defaultExtensions maps file extensions to the kind of PRISM source they hold.
// .pm/.nm/.sm are the classic DTMC/MDP/CTMC suffixes; PRISM-games uses .prism.
var defaultExtensions = map[string]string{
	".prism": KindModel,
	".pm":    KindModel,
	".nm":    KindModel,
	".sm":    KindModel,
	".props": KindProperties,
	".prop":  KindProperties,
	".pctl":  KindProperties,
	".csl":   KindProperties,
}

// DefaultExtensions returns a copy of the built-in extension table.
func DefaultExtensions() map[string]string {
	m := make(map[string]string, len(defaultExtensions))
	for ext, kind := range defaultExtensions {
		m[ext] = kind
	}
	return m
}

// ExtensionKind returns the file kind for an extension, or "" if unknown.
func ExtensionKind(ext string) string {
	return defaultExtensions[strings.ToLower(ext)]
}

// IsPrismFile reports whether a path has a built-in PRISM extension.
func IsPrismFile(path string) bool {
	return ExtensionKind(filepath.Ext(path)) != ""
}

// addExt maps extra file extensions to a kind.
func (p *Parser) addExt(kind string, exts ...string) {
	for _, ext := range exts {
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		p.extToKind[strings.ToLower(ext)] = kind
	}
}

// registerExtensions installs the built-in extension table.
func (p *Parser) registerExtensions() {
	for ext, kind := range defaultExtensions {
		p.extToKind[ext] = kind
	}
}

// fileKind determines the kind from the file path.
func (p *Parser) fileKind(filePath string) string {
	return p.extToKind[strings.ToLower(filepath.Ext(filePath))]
}
