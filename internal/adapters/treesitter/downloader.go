package treesitter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"

	"github.com/corey/tsprism/prism"
)

// PlatformString returns the OS-arch string for the current platform.
// e.g. "linux-amd64", "darwin-arm64"
func PlatformString() string {
	return runtime.GOOS + "-" + runtime.GOARCH
}

// GlobalGrammarDir returns the default global grammar directory: ~/.tsprism/grammars/
func GlobalGrammarDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".tsprism", "grammars")
}

// ArtifactName is the release asset name of a grammar build,
// e.g. "prism-linux-amd64.so".
func ArtifactName(name, platform string) string {
	return name + "-" + platform + prism.LibExtension()
}

// Installer downloads grammar libraries listed in a manifest.
type Installer struct {
	Manifest *Manifest
	Client   *http.Client
	Platform string
	// Insecure allows installing a build the manifest has no digest for.
	// The library is dlopened later, so this runs unverified native code.
	Insecure bool
}

// NewInstaller returns an installer for the current platform.
func NewInstaller(m *Manifest) *Installer {
	return &Installer{
		Manifest: m,
		Client:   http.DefaultClient,
		Platform: PlatformString(),
	}
}

// URL returns the download URL of a grammar build.
func (in *Installer) URL(info GrammarInfo) string {
	return fmt.Sprintf("%s/v%s/%s", in.Manifest.BaseURL, info.Version, ArtifactName(info.Name, in.Platform))
}

// Install fetches a grammar into destDir as <name><ext>, the file
// prism.Library looks for, and returns its path. The download is hashed while
// streaming and only renamed into place once it verifies. An existing library
// that already verifies is left alone. Without a digest for the platform
// Install fails with ErrNoDigest unless Insecure is set.
func (in *Installer) Install(ctx context.Context, name, destDir string) (string, error) {
	info, err := in.Manifest.Grammar(name)
	if err != nil {
		return "", err
	}
	digest := info.SHA256[in.Platform]
	if digest == "" && !in.Insecure {
		return "", fmt.Errorf("%s %s on %s: %w", info.Name, info.Version, in.Platform, ErrNoDigest)
	}
	dest := filepath.Join(destDir, info.Name+prism.LibExtension())
	if _, err := os.Stat(dest); err == nil && digest != "" {
		if VerifyArtifact(dest, info, in.Platform) == nil {
			slog.Debug("grammar already installed", "name", name, "path", dest)
			return dest, nil
		}
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("create grammar dir: %w", err)
	}

	url := in.URL(info)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	client := in.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp(destDir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after rename

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("download %s: %w", url, err)
	}

	if want, ok := info.Sizes[in.Platform]; ok && want != n {
		return "", fmt.Errorf("%s: size %d, want %d: %w", url, n, want, ErrChecksumMismatch)
	}
	if digest != "" {
		if got := hex.EncodeToString(h.Sum(nil)); got != digest {
			return "", fmt.Errorf("%s: sha256 %s, want %s: %w", url, got, digest, ErrChecksumMismatch)
		}
	} else {
		slog.Warn("manifest has no digest for platform, installing unverified", "name", name, "platform", in.Platform)
	}

	if err := os.Chmod(tmpPath, 0o755); err != nil {
		return "", fmt.Errorf("chmod artifact: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return "", fmt.Errorf("install artifact: %w", err)
	}
	slog.Info("grammar installed", "name", name, "path", dest, "bytes", n)
	return dest, nil
}
