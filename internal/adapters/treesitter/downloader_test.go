package treesitter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corey/tsprism/prism"
)

const testPlat = "linux-amd64"

func TestPlatformString(t *testing.T) {
	p := PlatformString()
	assert.Contains(t, p, runtime.GOOS)
	assert.Contains(t, p, runtime.GOARCH)
	assert.Equal(t, runtime.GOOS+"-"+runtime.GOARCH, p)
}

func TestGlobalGrammarDir(t *testing.T) {
	dir := GlobalGrammarDir()
	assert.NotEmpty(t, dir)
	assert.Contains(t, dir, ".tsprism")
	assert.Contains(t, dir, "grammars")
}

func TestArtifactName(t *testing.T) {
	assert.Equal(t, "prism-"+testPlat+prism.LibExtension(), ArtifactName("prism", testPlat))
}

// grammarServer serves body for the prism artifact and counts requests.
func grammarServer(t *testing.T, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	want := "/v0.1.0/" + ArtifactName("prism", testPlat)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != want {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func testInstaller(srv *httptest.Server, info GrammarInfo) *Installer {
	info.Name = "prism"
	info.Version = "0.1.0"
	return &Installer{
		Manifest: &Manifest{BaseURL: srv.URL, Grammars: map[string]GrammarInfo{"prism": info}},
		Client:   srv.Client(),
		Platform: testPlat,
	}
}

func TestInstaller_Install(t *testing.T) {
	srv, hits := grammarServer(t, "hello")
	in := testInstaller(srv, GrammarInfo{Sizes: PlatSize{testPlat: 5}, SHA256: PlatHash{testPlat: helloSHA}})
	dir := t.TempDir()

	path, err := in.Install(context.Background(), "prism", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "prism"+prism.LibExtension()), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, int32(1), hits.Load())

	// A verified library is not downloaded again.
	_, err = in.Install(context.Background(), "prism", dir)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestInstaller_ReplacesCorruptInstall(t *testing.T) {
	srv, hits := grammarServer(t, "hello")
	in := testInstaller(srv, GrammarInfo{SHA256: PlatHash{testPlat: helloSHA}})
	dir := t.TempDir()
	dest := filepath.Join(dir, "prism"+prism.LibExtension())
	require.NoError(t, os.WriteFile(dest, []byte("stale"), 0o644))

	_, err := in.Install(context.Background(), "prism", dir)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestInstaller_ChecksumMismatch(t *testing.T) {
	srv, _ := grammarServer(t, "tampered")
	in := testInstaller(srv, GrammarInfo{SHA256: PlatHash{testPlat: helloSHA}})
	dir := t.TempDir()

	_, err := in.Install(context.Background(), "prism", dir)
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestInstaller_SizeMismatch(t *testing.T) {
	srv, _ := grammarServer(t, "hello")
	in := testInstaller(srv, GrammarInfo{Sizes: PlatSize{testPlat: 4}, SHA256: PlatHash{testPlat: helloSHA}})

	_, err := in.Install(context.Background(), "prism", t.TempDir())
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestInstaller_HTTPError(t *testing.T) {
	srv, _ := grammarServer(t, "hello")
	in := testInstaller(srv, GrammarInfo{})
	in.Platform = "plan9-mips"
	in.Insecure = true

	_, err := in.Install(context.Background(), "prism", t.TempDir())
	assert.ErrorContains(t, err, "404")
}

func TestInstaller_RefusesWithoutDigest(t *testing.T) {
	srv, hits := grammarServer(t, "hello")
	in := testInstaller(srv, GrammarInfo{Sizes: PlatSize{testPlat: 5}})
	dir := t.TempDir()

	_, err := in.Install(context.Background(), "prism", dir)
	assert.ErrorIs(t, err, ErrNoDigest)
	assert.Zero(t, hits.Load(), "nothing may be downloaded without a digest")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	in.Insecure = true
	path, err := in.Install(context.Background(), "prism", dir)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
	assert.FileExists(t, path)
}

func TestInstaller_BuiltinManifestRefusesUnverified(t *testing.T) {
	in := NewInstaller(BuiltinManifest())
	in.Platform = testPlat
	_, err := in.Install(context.Background(), "prism", t.TempDir())
	assert.ErrorIs(t, err, ErrNoDigest)
}

func TestInstaller_InstalledLibraryIsFound(t *testing.T) {
	srv, _ := grammarServer(t, "hello")
	in := testInstaller(srv, GrammarInfo{SHA256: PlatHash{testPlat: helloSHA}})
	dir := t.TempDir()

	path, err := in.Install(context.Background(), "prism", dir)
	require.NoError(t, err)
	assert.Equal(t, path, prism.NewLibrary([]string{dir}).Path())
	assert.Equal(t, []string{dir}, prism.InstalledIn([]string{dir}))
}

func TestInstaller_UnknownGrammar(t *testing.T) {
	srv, hits := grammarServer(t, "hello")
	in := testInstaller(srv, GrammarInfo{})

	_, err := in.Install(context.Background(), "ruby", t.TempDir())
	assert.ErrorIs(t, err, ErrUnknownGrammar)
	assert.Zero(t, hits.Load())
}

func TestInstaller_ContextCanceled(t *testing.T) {
	srv, _ := grammarServer(t, "hello")
	in := testInstaller(srv, GrammarInfo{SHA256: PlatHash{testPlat: helloSHA}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := in.Install(ctx, "prism", t.TempDir())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInstaller_URL(t *testing.T) {
	in := NewInstaller(BuiltinManifest())
	info, err := in.Manifest.Grammar("prism")
	require.NoError(t, err)
	assert.Equal(t, PlatformString(), in.Platform)
	assert.Equal(t,
		"https://github.com/corey/tsprism/releases/download/v0.1.0/"+ArtifactName("prism", PlatformString()),
		in.URL(info))
}
