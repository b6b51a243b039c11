//go:build ignore

// gen-manifest-hashes walks dist/grammars/, computes SHA256 + file size per
// prism-{os}-{arch}.so/.dylib, and writes manifest.json for GitHub Releases.
// Version, ABI and extensions come from the built-in manifest.
//
// Usage: go run scripts/gen-manifest-hashes.go [--dir dist/grammars] [--out manifest.json]
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/corey/tsprism/internal/adapters/treesitter"
)

func main() {
	builtin := treesitter.BuiltinManifest()

	dir := flag.String("dir", "dist/grammars", "Directory containing grammar .so/.dylib files")
	out := flag.String("out", "manifest.json", "Output manifest file")
	baseURL := flag.String("base-url", builtin.BaseURL, "Base URL for downloads")
	version := flag.String("version", "", "Grammar version (default: built-in)")
	flag.Parse()

	manifest := treesitter.Manifest{
		Version:  builtin.Version,
		BaseURL:  *baseURL,
		Grammars: make(map[string]treesitter.GrammarInfo),
	}

	entries, err := os.ReadDir(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading directory %s: %v\n", *dir, err)
		os.Exit(1)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := filepath.Ext(name)
		if ext != ".so" && ext != ".dylib" {
			continue
		}

		// Parse: {grammar}-{os}-{arch}.so
		parts := strings.Split(strings.TrimSuffix(name, ext), "-")
		if len(parts) < 3 {
			fmt.Fprintf(os.Stderr, "skipping %s: unexpected name format\n", name)
			continue
		}
		platform := parts[len(parts)-2] + "-" + parts[len(parts)-1]
		grammar := strings.Join(parts[:len(parts)-2], "-")

		path := filepath.Join(*dir, name)
		hash, size, err := treesitter.HashFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error hashing %s: %v\n", path, err)
			continue
		}

		info, ok := manifest.Grammars[grammar]
		if !ok {
			info, err = builtin.Grammar(grammar)
			if err != nil {
				fmt.Fprintf(os.Stderr, "skipping %s: %v\n", name, err)
				continue
			}
			if *version != "" {
				info.Version = *version
			}
			info.Sizes = make(treesitter.PlatSize)
			info.SHA256 = make(treesitter.PlatHash)
		}
		info.Sizes[platform] = size
		info.SHA256[platform] = hash
		manifest.Grammars[grammar] = info
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error marshaling manifest: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, append(data, '\n'), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "error writing %s: %v\n", *out, err)
		os.Exit(1)
	}

	fmt.Printf("Generated %s with %d grammars\n", *out, len(manifest.Grammars))
}
