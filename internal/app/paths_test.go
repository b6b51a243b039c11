package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPaths(t *testing.T) {
	p := NewPaths("/project")
	assert.Equal(t, filepath.Join("/project", ".tsprism"), p.Root)
	assert.Equal(t, filepath.Join("/project", ".tsprism", "tsprism.db"), p.DB)
	assert.Equal(t, filepath.Join("/project", ".tsprism", "log"), p.LogDir)
	assert.Equal(t, filepath.Join("/project", ".tsprism", "log", "daemon.log"), p.DaemonLog)
	assert.Equal(t, filepath.Join("/project", ".tsprism", "run"), p.RunDir)
	assert.Equal(t, filepath.Join("/project", ".tsprism", "run", "daemon.pid"), p.PIDFile)
	assert.Equal(t, filepath.Join("/project", ".tsprism", "grammars"), p.GrammarsDir)
}

func TestEnsureDirs(t *testing.T) {
	dir := t.TempDir()
	p := NewPaths(dir)

	// First call creates directories.
	require.NoError(t, p.EnsureDirs())
	for _, d := range []string{p.Root, p.LogDir, p.RunDir, p.GrammarsDir} {
		info, err := os.Stat(d)
		require.NoError(t, err, "dir %s should exist", d)
		assert.True(t, info.IsDir())
	}

	// Second call is idempotent.
	require.NoError(t, p.EnsureDirs())
}

func TestCleanEphemeral(t *testing.T) {
	p := NewPaths(t.TempDir())
	require.NoError(t, p.EnsureDirs())
	require.NoError(t, os.WriteFile(p.PIDFile, []byte("123"), 0644))

	p.CleanEphemeral()
	_, err := os.Stat(p.PIDFile)
	assert.True(t, os.IsNotExist(err))

	// Missing files are fine.
	p.CleanEphemeral()
}
