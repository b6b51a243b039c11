package treesitter

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/corey/tsprism/prism"
)

// ErrChecksumMismatch is returned when an artifact's size or digest does not
// match the manifest.
var ErrChecksumMismatch = errors.New("grammar artifact checksum mismatch")

// ErrNoDigest is returned when the manifest records no sha256 for the
// platform and the installer was not told to accept unverified builds.
var ErrNoDigest = errors.New("manifest has no sha256 for platform")

// ErrUnknownGrammar is returned for names absent from the manifest.
var ErrUnknownGrammar = errors.New("grammar not in manifest")

// GrammarInfo describes a single grammar in the manifest.
type GrammarInfo struct {
	Name       string   `json:"name"`
	Version    string   `json:"version"`
	ABI        uint32   `json:"abi,omitempty"`
	Extensions []string `json:"extensions"`
	RepoURL    string   `json:"repo_url"`
	Sizes      PlatSize `json:"sizes,omitempty"`
	SHA256     PlatHash `json:"sha256,omitempty"`
}

// PlatSize maps platform (e.g. "linux-amd64") to file size in bytes.
type PlatSize map[string]int64

// PlatHash maps platform to SHA256 hex digest.
type PlatHash map[string]string

// Manifest is the registry of downloadable grammar builds.
type Manifest struct {
	Version  int                    `json:"version"`
	BaseURL  string                 `json:"base_url"`
	Grammars map[string]GrammarInfo `json:"grammars"`
}

// LoadManifest reads a manifest from a JSON file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// Grammar looks up a grammar by name.
func (m *Manifest) Grammar(name string) (GrammarInfo, error) {
	info, ok := m.Grammars[name]
	if !ok {
		return GrammarInfo{}, fmt.Errorf("%s: %w", name, ErrUnknownGrammar)
	}
	if info.Name == "" {
		info.Name = name
	}
	return info, nil
}

// Names returns grammar names in sorted order.
func (m *Manifest) Names() []string {
	names := make([]string, 0, len(m.Grammars))
	for name := range m.Grammars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuiltinManifest returns the grammar metadata compiled into the binary.
// This is embedded so `tsprism grammar list` works without network.
// Per-platform sizes and digests come from a release manifest.json.
func BuiltinManifest() *Manifest {
	return &Manifest{
		Version: 1,
		BaseURL: "https://github.com/corey/tsprism/releases/download",
		Grammars: map[string]GrammarInfo{
			prism.Name: {
				Name:       prism.Name,
				Version:    "0.1.0",
				ABI:        15,
				Extensions: []string{".prism", ".pm", ".nm", ".sm", ".props", ".prop", ".pctl", ".csl"},
				RepoURL:    "https://github.com/BrandonTang89/tree-sitter-prism",
			},
		},
	}
}

// VerifyArtifact checks a grammar library against the manifest entry for a
// platform. Entries without recorded size or digest are not checked for them.
func VerifyArtifact(path string, info GrammarInfo, platform string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat artifact: %w", err)
	}
	if want, ok := info.Sizes[platform]; ok && want != fi.Size() {
		return fmt.Errorf("%s: size %d, want %d: %w", path, fi.Size(), want, ErrChecksumMismatch)
	}
	want, ok := info.SHA256[platform]
	if !ok {
		return nil
	}
	got, _, err := HashFile(path)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%s: sha256 %s, want %s: %w", path, got, want, ErrChecksumMismatch)
	}
	return nil
}

// HashFile returns the hex SHA256 digest and size of a file.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("hash artifact: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
