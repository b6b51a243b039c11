package app

import (
	"os"
	"path/filepath"
)

// StateDirName is the per-project state directory.
const StateDirName = ".tsprism"

// Paths holds all resolved filesystem paths for the .tsprism/ project directory.
type Paths struct {
	Root string // .tsprism/
	DB   string // .tsprism/tsprism.db

	LogDir    string // .tsprism/log/
	DaemonLog string // .tsprism/log/daemon.log

	RunDir  string // .tsprism/run/
	PIDFile string // .tsprism/run/daemon.pid

	GrammarsDir string // .tsprism/grammars/
}

// NewPaths constructs all resolved paths from a project root directory.
func NewPaths(projectRoot string) *Paths {
	root := filepath.Join(projectRoot, StateDirName)
	return &Paths{
		Root: root,
		DB:   filepath.Join(root, "tsprism.db"),

		LogDir:    filepath.Join(root, "log"),
		DaemonLog: filepath.Join(root, "log", "daemon.log"),

		RunDir:  filepath.Join(root, "run"),
		PIDFile: filepath.Join(root, "run", "daemon.pid"),

		GrammarsDir: filepath.Join(root, "grammars"),
	}
}

// EnsureDirs creates all subdirectories under .tsprism/. Idempotent.
func (p *Paths) EnsureDirs() error {
	for _, d := range []string{p.Root, p.LogDir, p.RunDir, p.GrammarsDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return err
		}
	}
	return nil
}

// CleanEphemeral removes runtime files left by the daemon.
// Called on clean daemon shutdown.
func (p *Paths) CleanEphemeral() {
	os.Remove(p.PIDFile)
}
