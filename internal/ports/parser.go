package ports

// Parser extracts structural symbols (modules, constants, formulas, labels,
// reward structures, properties) from PRISM sources.
// The concrete implementation (tree-sitter) lives in internal/adapters/treesitter.
type Parser interface {
	// ParseFileToMeta extracts symbols from a source file and returns them as
	// SymbolMeta entries suitable for the index. Returns nil, nil for
	// unsupported extensions (not an error).
	ParseFileToMeta(path string, source []byte) ([]*SymbolMeta, error)

	// Check returns syntax and declaration diagnostics for a source file.
	Check(path string, source []byte) ([]Diagnostic, error)

	// SupportsExtension returns true if the parser can handle files with this
	// extension (e.g., ".pm", ".props"). Extension includes the leading dot.
	SupportsExtension(ext string) bool

	// FileKind returns "model" or "properties" for a PRISM file path, or ""
	// when the extension is not handled.
	FileKind(path string) string
}

// Severity grades a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is one problem found in a source file. Line and Column are 1-based.
type Diagnostic struct {
	Line     uint32   `json:"line"`
	Column   uint32   `json:"column"`
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
}
