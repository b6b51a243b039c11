// Package treesitter parses PRISM model and property files with the prism
// tree-sitter grammar. It extracts declaration outlines, renders syntax trees
// and reports diagnostics, producing ports types for the symbol index.
//
// The grammar itself comes from the prism package. Every parse builds a fresh
// tree-sitter parser, so a single Parser is safe for concurrent use.
package treesitter

import (
	"errors"
	"sort"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/corey/tsprism/internal/ports"
	"github.com/corey/tsprism/prism"
)

// ErrParseFailed is returned when tree-sitter produces no tree.
var ErrParseFailed = errors.New("tree-sitter returned no tree")

// Symbol represents an extracted declaration before it becomes a SymbolMeta.
type Symbol struct {
	Name      string
	Signature string
	Kind      string // "module", "const", "label", "property", etc.
	StartLine uint32
	EndLine   uint32
	Parent    string
}

// Analysis is the outline and diagnostics of one file, taken from a single tree.
type Analysis struct {
	Kind        string
	Symbols     []Symbol
	Diagnostics []ports.Diagnostic
}

// ErrorCount counts diagnostics with error severity.
func (a *Analysis) ErrorCount() int {
	n := 0
	for _, d := range a.Diagnostics {
		if d.Severity == ports.SeverityError {
			n++
		}
	}
	return n
}

var _ ports.Parser = (*Parser)(nil)

// Parser extracts outlines and diagnostics from PRISM sources.
type Parser struct {
	provider  *prism.Provider  // nil means the process-wide default
	extToKind map[string]string // extension -> file kind
}

// NewParser creates a parser over the given grammar provider. A nil provider
// falls back to prism.Default on each parse.
func NewParser(p *prism.Provider) *Parser {
	parser := &Parser{
		provider:  p,
		extToKind: make(map[string]string),
	}
	parser.registerExtensions()
	return parser
}

// AddExtensions maps extra file extensions to a kind (KindModel or KindProperties).
func (p *Parser) AddExtensions(kind string, exts ...string) {
	p.addExt(kind, exts...)
}

// ParseFile extracts the outline of a file given its path and contents.
// Returns nil for unknown extensions or empty sources, not an error.
func (p *Parser) ParseFile(filePath string, source []byte) ([]Symbol, error) {
	if p.fileKind(filePath) == "" {
		return nil, nil
	}
	return p.ParseSource(source)
}

// ParseSource extracts the outline of PRISM source text.
func (p *Parser) ParseSource(source []byte) ([]Symbol, error) {
	if len(source) == 0 {
		return nil, nil
	}
	tree, err := p.parse(source)
	if err != nil {
		return nil, err
	}
	defer tree.Close()
	return extractOutline(tree.RootNode(), source), nil
}

// ParseFileToMeta converts symbols to ports.SymbolMeta.
func (p *Parser) ParseFileToMeta(filePath string, source []byte) ([]*ports.SymbolMeta, error) {
	symbols, err := p.ParseFile(filePath, source)
	if err != nil {
		return nil, err
	}
	return ToMeta(symbols), nil
}

// ToMeta converts extracted symbols to index entries.
func ToMeta(symbols []Symbol) []*ports.SymbolMeta {
	metas := make([]*ports.SymbolMeta, len(symbols))
	for i, sym := range symbols {
		metas[i] = &ports.SymbolMeta{
			Name:      sym.Name,
			Signature: sym.Signature,
			Kind:      sym.Kind,
			StartLine: sym.StartLine,
			EndLine:   sym.EndLine,
			Parent:    sym.Parent,
		}
	}
	return metas
}

// Check returns diagnostics for a file. Unknown extensions yield nil.
func (p *Parser) Check(filePath string, source []byte) ([]ports.Diagnostic, error) {
	if p.fileKind(filePath) == "" {
		return nil, nil
	}
	return p.CheckSource(source)
}

// CheckSource returns syntax and declaration diagnostics for source text.
func (p *Parser) CheckSource(source []byte) ([]ports.Diagnostic, error) {
	if len(source) == 0 {
		return nil, nil
	}
	tree, err := p.parse(source)
	if err != nil {
		return nil, err
	}
	defer tree.Close()
	return checkTree(tree.RootNode(), source), nil
}

// Analyze parses a file once and returns both its outline and diagnostics.
// Returns nil for unknown extensions.
func (p *Parser) Analyze(filePath string, source []byte) (*Analysis, error) {
	kind := p.fileKind(filePath)
	if kind == "" {
		return nil, nil
	}
	a := &Analysis{Kind: kind}
	if len(source) == 0 {
		return a, nil
	}
	tree, err := p.parse(source)
	if err != nil {
		return nil, err
	}
	defer tree.Close()
	root := tree.RootNode()
	a.Symbols = extractOutline(root, source)
	a.Diagnostics = checkTree(root, source)
	return a, nil
}

// SExpr renders the syntax tree of source as an s-expression.
func (p *Parser) SExpr(source []byte) (string, error) {
	tree, err := p.parse(source)
	if err != nil {
		return "", err
	}
	defer tree.Close()
	return tree.RootNode().ToSexp(), nil
}

// SupportsExtension returns true if the parser recognizes this file extension.
func (p *Parser) SupportsExtension(ext string) bool {
	_, ok := p.extToKind[strings.ToLower(ext)]
	return ok
}

// SupportedExtensions returns all registered file extensions, sorted.
func (p *Parser) SupportedExtensions() []string {
	exts := make([]string, 0, len(p.extToKind))
	for ext := range p.extToKind {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// FileKind returns KindModel or KindProperties for a path, or "" if unsupported.
func (p *Parser) FileKind(filePath string) string {
	return p.fileKind(filePath)
}

// Provider returns the grammar provider used for parsing.
func (p *Parser) Provider() (*prism.Provider, error) {
	if p.provider != nil {
		return p.provider, nil
	}
	return prism.Default()
}

func (p *Parser) parse(source []byte) (*tree_sitter.Tree, error) {
	provider, err := p.Provider()
	if err != nil {
		return nil, err
	}
	parser, err := provider.NewParser()
	if err != nil {
		return nil, err
	}
	defer parser.Close()

	tree := parser.Parse(source, nil)
	if tree == nil {
		return nil, ErrParseFailed
	}
	return tree, nil
}

// nodeText returns the source text for a node.
func nodeText(n *tree_sitter.Node, source []byte) string {
	return string(source[n.StartByte():n.EndByte()])
}

// childByKind finds the first child with the given kind.
func childByKind(n *tree_sitter.Node, kind string) *tree_sitter.Node {
	for i := uint(0); i < uint(n.ChildCount()); i++ {
		c := n.Child(i)
		if c.Kind() == kind {
			return c
		}
	}
	return nil
}

// childrenByKind returns all direct children with the given kind.
func childrenByKind(n *tree_sitter.Node, kind string) []*tree_sitter.Node {
	var out []*tree_sitter.Node
	for i := uint(0); i < uint(n.ChildCount()); i++ {
		c := n.Child(i)
		if c.Kind() == kind {
			out = append(out, c)
		}
	}
	return out
}

// fieldText returns the text of a named field, or "".
func fieldText(n *tree_sitter.Node, field string, source []byte) string {
	if c := n.ChildByFieldName(field); c != nil {
		return nodeText(c, source)
	}
	return ""
}
