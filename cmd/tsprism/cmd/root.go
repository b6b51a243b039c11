package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/corey/tsprism/internal/app"
	"github.com/corey/tsprism/prism"
)

// needsGrammar marks commands whose PersistentPreRunE loads the grammar.
const needsGrammar = "needs-grammar"

var (
	grammarPaths []string
	verbose      bool

	// Resolved in PersistentPreRunE.
	root       string
	config     *app.ProjectConfig
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "tsprism",
	Short: "tsprism: PRISM model tooling on the prism tree-sitter grammar",
	Long: "Parse, outline, check and index PRISM-games models and property files.\n" +
		"The grammar is loaded from a prism shared library or linked statically.",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringArrayVar(&grammarPaths, "grammar-path", nil,
		"directory containing the prism grammar library (repeatable, searched first)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(grammarCmd)
	rootCmd.AddCommand(parseCmd)
	rootCmd.AddCommand(outlineCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(findCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(configCmd)
}

// setup resolves the project, loads tsprism.toml, configures logging and,
// for commands that parse, loads the grammar so load errors surface here.
func setup(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	if root, err = app.FindProjectRoot(cwd); err != nil {
		return err
	}
	if configPath, config, err = app.FindProjectConfig(cwd); err != nil {
		return err
	}

	level, err := config.SlogLevel()
	if err != nil {
		return err
	}
	if verbose {
		level = slog.LevelDebug
	}
	if err := app.SetupLogging(cmd.ErrOrStderr(), level, config.Log.Format); err != nil {
		return err
	}

	if cmd.Annotations[needsGrammar] != "" {
		if _, err := loadGrammar(); err != nil {
			return err
		}
	}
	return nil
}

// grammarSearchPaths returns --grammar-path entries, then config
// grammar_paths, then the default locations.
func grammarSearchPaths() []string {
	var paths []string
	paths = append(paths, grammarPaths...)
	if config != nil {
		paths = append(paths, config.GrammarPaths...)
	}
	return append(paths, prism.DefaultSearchPaths(root)...)
}

// grammarSource is the default source for the project root unless extra
// directories were given.
func grammarSource() prism.Source {
	if len(grammarPaths) == 0 && (config == nil || len(config.GrammarPaths) == 0) {
		return prism.SourceFor(root)
	}
	return prism.NewLibrary(grammarSearchPaths())
}

// loadGrammar installs the process-wide grammar.
func loadGrammar() (*prism.Provider, error) {
	p, err := prism.Init(grammarSource())
	if errors.Is(err, prism.ErrAlreadyInitialized) {
		return p, nil
	}
	if errors.Is(err, prism.ErrNotFound) {
		return nil, fmt.Errorf("%w\n  → install it:  tsprism grammar install\n  → or point at it:  --grammar-path <dir>", err)
	}
	return p, err
}

// withGrammar marks a command as needing the grammar.
func withGrammar(cmd *cobra.Command) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations[needsGrammar] = "true"
	return cmd
}
