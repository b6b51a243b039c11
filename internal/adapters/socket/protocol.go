// Package socket implements a JSON-over-Unix-socket protocol for the tsprism daemon.
// The protocol uses newline-delimited JSON: each message is one JSON object + \n.
package socket

import (
	"crypto/sha256"
	"fmt"
	"path/filepath"

	"github.com/corey/tsprism/internal/ports"
)

// SocketPath returns the Unix socket path for a given project root.
// Format: /tmp/tsprism-{first12hex}.sock
func SocketPath(projectRoot string) string {
	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		abs = projectRoot
	}
	h := sha256.Sum256([]byte(abs))
	return fmt.Sprintf("/tmp/tsprism-%x.sock", h[:6])
}

// Method names for the protocol.
const (
	MethodHealth   = "health"
	MethodOutline  = "outline"
	MethodCheck    = "check"
	MethodFind     = "find"
	MethodFiles    = "files"
	MethodReindex  = "reindex"
	MethodShutdown = "shutdown"
)

// Request is the wire format for client-to-server messages.
type Request struct {
	ID     string      `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

// Response is the wire format for server-to-client messages.
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// HealthResult is the result of a health request.
type HealthResult struct {
	Status    string `json:"status"`
	Uptime    string `json:"uptime"`
	Grammar   string `json:"grammar"`
	ABI       uint32 `json:"abi"`
	FileCount int    `json:"file_count"`
	Root      string `json:"root"`
}

// SourceParams names a file, or carries source text directly. When Source is
// set, Path is only used to pick the file kind and may be empty.
type SourceParams struct {
	Path   string `json:"path,omitempty"`
	Source string `json:"source,omitempty"`
}

// OutlineResult is the result of an outline request.
type OutlineResult struct {
	Path    string             `json:"path,omitempty"`
	Symbols []ports.SymbolMeta `json:"symbols"`
	Count   int                `json:"count"`
}

// CheckResult is the result of a check request.
type CheckResult struct {
	Path        string             `json:"path,omitempty"`
	Diagnostics []ports.Diagnostic `json:"diagnostics"`
	ErrorCount  int                `json:"error_count"`
}

// FindParams is the params for a find request. A trailing "*" makes Name a
// prefix.
type FindParams struct {
	Name string `json:"name"`
}

// FindResult is the result of a find request.
type FindResult struct {
	Hits  []ports.SymbolHit `json:"hits"`
	Count int               `json:"count"`
}

// FilesResult is the result of a files request.
type FilesResult struct {
	Files []ports.FileMeta `json:"files"`
	Count int              `json:"count"`
}

// ReindexResult is the result of a reindex request.
type ReindexResult struct {
	FileCount   int   `json:"file_count"`
	SymbolCount int   `json:"symbol_count"`
	ErrorCount  int   `json:"error_count"`
	ElapsedMs   int64 `json:"elapsed_ms"`
}
