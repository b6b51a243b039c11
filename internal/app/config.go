package app

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
)

// ConfigFileName is the project configuration file looked up from the
// working directory upwards.
const ConfigFileName = "tsprism.toml"

// Log formats accepted in [log] format.
const (
	LogFormatAuto   = "auto"
	LogFormatPretty = "pretty"
	LogFormatText   = "text"
	LogFormatJSON   = "json"
)

// ProjectConfig represents a tsprism.toml file.
//
//	grammar_paths = ["vendor/grammars"]
//
//	[extensions]
//	model = [".mdl"]
//	properties = [".rpatl"]
//
//	[index]
//	workers = 4
//
//	[log]
//	level = "debug"
//	format = "text"
type ProjectConfig struct {
	// GrammarPaths are searched for the grammar library before the default
	// locations. Relative entries are resolved against the config directory.
	GrammarPaths []string `toml:"grammar_paths,omitempty"`

	// Extensions maps a file kind ("model" or "properties") to extra
	// extensions handled as that kind.
	Extensions map[string][]string `toml:"extensions,omitempty"`

	Index IndexConfig `toml:"index"`
	Log   LogConfig   `toml:"log"`
}

// IndexConfig controls the project indexer.
type IndexConfig struct {
	Workers     int   `toml:"workers"`
	MaxFileSize int64 `toml:"max_file_size"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultProjectConfig returns the configuration used when no tsprism.toml exists.
func DefaultProjectConfig() *ProjectConfig {
	cfg := &ProjectConfig{}
	cfg.applyDefaults()
	return cfg
}

func (c *ProjectConfig) applyDefaults() {
	if c.Index.Workers <= 0 {
		c.Index.Workers = runtime.NumCPU()
	}
	if c.Index.MaxFileSize <= 0 {
		c.Index.MaxFileSize = 1 << 20
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = LogFormatAuto
	}
}

// Validate reports the first invalid setting.
func (c *ProjectConfig) Validate() error {
	for kind, exts := range c.Extensions {
		if kind != "model" && kind != "properties" {
			return fmt.Errorf("extensions: unknown kind %q (want model or properties)", kind)
		}
		for _, ext := range exts {
			if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
				return fmt.Errorf("extensions.%s: %q must start with a dot", kind, ext)
			}
		}
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case LogFormatAuto, LogFormatPretty, LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	return nil
}

// SlogLevel parses log.level ("debug", "info", "warn", "error", or an
// offset such as "info+2").
func (c *ProjectConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// Encode writes the configuration as TOML.
func (c *ProjectConfig) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

// LoadProjectConfig loads a tsprism.toml file from the given path, fills in
// defaults and validates it.
func LoadProjectConfig(path string) (*ProjectConfig, error) {
	var config ProjectConfig
	md, err := toml.DecodeFile(path, &config)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	for _, key := range md.Undecoded() {
		slog.Warn("unknown config key", "file", path, "key", key.String())
	}
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	dir := filepath.Dir(path)
	for i, p := range config.GrammarPaths {
		if !filepath.IsAbs(p) {
			config.GrammarPaths[i] = filepath.Join(dir, p)
		}
	}
	return &config, nil
}

// FindProjectConfig searches for a tsprism.toml file starting from dir and
// walking up to parent directories, stopping at a .git boundary. Returns the
// path and the parsed config, or ("", defaults, nil) if not found.
func FindProjectConfig(dir string) (string, *ProjectConfig, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", nil, err
	}
	for {
		path := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(path); err == nil {
			config, err := LoadProjectConfig(path)
			if err != nil {
				return "", nil, err
			}
			return path, config, nil
		}

		// Stop at .git boundary
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return "", DefaultProjectConfig(), nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", DefaultProjectConfig(), nil
		}
		dir = parent
	}
}

// FindProjectRoot returns the directory holding tsprism.toml, .tsprism/ or
// .git, walking up from dir. Falls back to dir itself.
func FindProjectRoot(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for cur := abs; ; {
		for _, marker := range []string{ConfigFileName, StateDirName, ".git"} {
			if _, err := os.Stat(filepath.Join(cur, marker)); err == nil {
				return cur, nil
			}
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return abs, nil
		}
		cur = parent
	}
}
