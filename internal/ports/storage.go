// Package ports defines the interfaces (contracts) that adapters must implement.
// These are the boundaries of the hexagonal architecture. Domain logic depends
// only on these interfaces, never on concrete implementations.
package ports

// Storage persists the per-file symbol outlines of a PRISM project.
// The backing store (bbolt) is project-scoped: each projectID gets its own
// namespace. Concurrent reads are safe; writes are serialized by the adapter.
//
// Crash safety: SaveFile and DeleteFile must be transactional. A crash
// mid-write must not corrupt previously committed data.
type Storage interface {
	// SaveFile replaces the stored outline of one file.
	SaveFile(projectID string, file *FileMeta, symbols []*SymbolMeta) error

	// DeleteFile removes a file and its symbols. Deleting a missing file is
	// not an error.
	DeleteFile(projectID string, path string) error

	// LoadFile returns the stored outline of one file.
	// Returns nil, nil, nil if the file is not indexed.
	LoadFile(projectID string, path string) (*FileMeta, []*SymbolMeta, error)

	// Files lists all indexed files, sorted by path.
	Files(projectID string) ([]*FileMeta, error)

	// Find returns symbols whose name equals query, or starts with it when
	// query ends in "*". Results are ordered by path, then line.
	Find(projectID string, query string) ([]SymbolHit, error)

	// DeleteProject removes all data for a project.
	// Idempotent: deleting a nonexistent project is not an error.
	DeleteProject(projectID string) error
}

// SymbolMeta contains symbol information
type SymbolMeta struct {
	Name      string `json:"name"`
	Signature string `json:"signature"`
	Kind      string `json:"kind"`
	StartLine uint32 `json:"start_line"`
	EndLine   uint32 `json:"end_line"`
	Parent    string `json:"parent,omitempty"`
}

// FileMeta contains file metadata
type FileMeta struct {
	Path         string `json:"path"`
	LastModified int64  `json:"last_modified"`
	Kind         string `json:"kind"` // "model" or "properties"
	SymbolCount  int    `json:"symbol_count"`
	ErrorCount   int    `json:"error_count"`
}

// SymbolHit is a symbol located in a file.
type SymbolHit struct {
	Path   string      `json:"path"`
	Symbol *SymbolMeta `json:"symbol"`
}
