// Package grammartest locates a real prism grammar for integration tests.
//
// A grammar is taken from, in order:
//   - $TSPRISM_GRAMMAR_SRC: a directory holding the generated parser.c
//     (and scanner.c, if any), compiled with gcc into a temporary prism.so;
//   - an installed prism.so on prism.DefaultSearchPaths.
//
// Tests calling Provider are skipped when neither is available.
package grammartest

import (
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"

	"github.com/corey/tsprism/prism"
)

// EnvGrammarSrc names the directory with the generated grammar C sources.
const EnvGrammarSrc = "TSPRISM_GRAMMAR_SRC"

var (
	buildOnce sync.Once
	builtDir  string
	buildErr  string
)

// Dir returns a directory containing prism.so, building it if needed.
// It skips the test when no grammar can be produced.
func Dir(t testing.TB) string {
	t.Helper()

	if src := os.Getenv(EnvGrammarSrc); src != "" {
		buildOnce.Do(func() { builtDir, buildErr = compile(src) })
		if buildErr != "" {
			t.Skip(buildErr)
		}
		return builtDir
	}

	root, _ := os.Getwd()
	if dirs := prism.InstalledIn(prism.DefaultSearchPaths(root)); len(dirs) > 0 {
		return dirs[0]
	}
	t.Skipf("no prism grammar: set %s to the generated grammar src/ or install prism%s",
		EnvGrammarSrc, prism.LibExtension())
	return ""
}

// Provider opens the grammar found by Dir without installing it globally.
func Provider(t testing.TB) *prism.Provider {
	t.Helper()
	dir := Dir(t)
	p, err := prism.Open(prism.NewLibrary([]string{dir}))
	if err != nil {
		t.Fatalf("open grammar in %s: %v", dir, err)
	}
	return p
}

func compile(src string) (string, string) {
	parserC := filepath.Join(src, "parser.c")
	if _, err := os.Stat(parserC); err != nil {
		return "", "grammar source not found: " + err.Error()
	}
	if _, err := exec.LookPath("gcc"); err != nil {
		return "", "gcc not available"
	}

	dir, err := os.MkdirTemp("", "tsprism-grammar-")
	if err != nil {
		return "", err.Error()
	}
	soPath := filepath.Join(dir, prism.Name+prism.LibExtension())

	args := []string{"-shared", "-fPIC", "-O1", "-I" + src, "-o", soPath, parserC}
	if scanner := filepath.Join(src, "scanner.c"); fileExists(scanner) {
		args = append(args, scanner)
	}
	out, err := exec.Command("gcc", args...).CombinedOutput()
	if err != nil {
		return "", "gcc failed: " + string(out)
	}
	return dir, ""
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
