package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/corey/tsprism/internal/adapters/treesitter"
	"github.com/corey/tsprism/internal/app"
	"github.com/corey/tsprism/prism"
)

var (
	manifestPath  string
	installGlobal   bool
	installDir      string
	installInsecure bool
)

var grammarCmd = &cobra.Command{
	Use:   "grammar",
	Short: "Inspect, verify and install the prism grammar",
}

var grammarInfoCmd = withGrammar(&cobra.Command{
	Use:   "info",
	Short: "Load the grammar and show where it came from",
	Args:  cobra.NoArgs,
	RunE:  runGrammarInfo,
})

var grammarPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the grammar library that would be loaded",
	Args:  cobra.NoArgs,
	RunE:  runGrammarPath,
}

var grammarListCmd = &cobra.Command{
	Use:   "list",
	Short: "List search paths and installed grammar libraries",
	Args:  cobra.NoArgs,
	RunE:  runGrammarList,
}

var grammarVerifyCmd = &cobra.Command{
	Use:   "verify [library]",
	Short: "Check a grammar library against the manifest checksums",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runGrammarVerify,
}

var grammarInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Download the grammar library for this platform",
	Long: "Downloads the prism grammar listed in the manifest, verifies its sha256\n" +
		"and installs it into .tsprism/grammars (or ~/.tsprism/grammars with --global).",
	Args: cobra.NoArgs,
	RunE: runGrammarInstall,
}

func init() {
	grammarCmd.PersistentFlags().StringVar(&manifestPath, "manifest", "", "grammar manifest JSON (default: built-in)")
	grammarInstallCmd.Flags().BoolVar(&installGlobal, "global", false, "install into ~/.tsprism/grammars")
	grammarInstallCmd.Flags().StringVar(&installDir, "dir", "", "install into this directory")
	grammarInstallCmd.Flags().BoolVar(&installInsecure, "insecure", false, "install even if the manifest has no sha256 for this platform")

	grammarCmd.AddCommand(grammarInfoCmd)
	grammarCmd.AddCommand(grammarPathCmd)
	grammarCmd.AddCommand(grammarListCmd)
	grammarCmd.AddCommand(grammarVerifyCmd)
	grammarCmd.AddCommand(grammarInstallCmd)
}

func loadManifest() (*treesitter.Manifest, error) {
	if manifestPath == "" {
		return treesitter.BuiltinManifest(), nil
	}
	return treesitter.LoadManifest(manifestPath)
}

func runGrammarInfo(cmd *cobra.Command, args []string) error {
	p, err := loadGrammar()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	c := colorsFor(out)
	parser := treesitter.NewParser(p)

	fmt.Fprintf(out, "%s⚡ prism grammar%s\n", c.bold, c.reset)
	fmt.Fprintf(out, "  Source:      %s\n", p.Source())
	fmt.Fprintf(out, "  ABI:         %d\n", p.ABIVersion())
	fmt.Fprintf(out, "  Symbol:      %s\n", prism.CSymbolName(prism.Name))
	fmt.Fprintf(out, "  Extensions:  %s\n", strings.Join(parser.SupportedExtensions(), " "))
	return nil
}

func runGrammarPath(cmd *cobra.Command, args []string) error {
	src := grammarSource()
	lib, ok := src.(*prism.Library)
	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), src.String())
		return nil
	}
	path := lib.Path()
	if path == "" {
		return fmt.Errorf("%s%s not in [%s]: %w", prism.Name, prism.LibExtension(),
			strings.Join(lib.SearchPaths, ", "), prism.ErrNotFound)
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

func runGrammarList(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	c := colorsFor(out)

	installed := make(map[string]bool)
	for _, dir := range prism.InstalledIn(grammarSearchPaths()) {
		installed[dir] = true
	}

	fmt.Fprintf(out, "%s⚡ grammar search paths%s\n", c.bold, c.reset)
	for _, dir := range grammarSearchPaths() {
		mark := c.gray + "·" + c.reset
		if installed[dir] {
			mark = c.green + "✓" + c.reset
		}
		fmt.Fprintf(out, "  %s %s\n", mark, dir)
	}

	m, err := loadManifest()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s⚡ manifest v%d%s\n", c.bold, m.Version, c.reset)
	platform := treesitter.PlatformString()
	for _, name := range m.Names() {
		info, _ := m.Grammar(name)
		avail := "no build for " + platform
		if info.SHA256[platform] != "" {
			avail = platform
		}
		fmt.Fprintf(out, "  %s %s (ABI %d, %s)  %s%s%s\n", name, info.Version, info.ABI, avail,
			c.gray, strings.Join(info.Extensions, " "), c.reset)
	}
	return nil
}

func runGrammarVerify(cmd *cobra.Command, args []string) error {
	var path string
	if len(args) == 1 {
		path = args[0]
	} else if lib, ok := grammarSource().(*prism.Library); ok {
		path = lib.Path()
	}
	if path == "" {
		return fmt.Errorf("no grammar library to verify: %w", prism.ErrNotFound)
	}

	m, err := loadManifest()
	if err != nil {
		return err
	}
	info, err := m.Grammar(prism.Name)
	if err != nil {
		return err
	}
	platform := treesitter.PlatformString()
	if err := treesitter.VerifyArtifact(path, info, platform); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	c := colorsFor(out)
	if info.SHA256[platform] == "" {
		fmt.Fprintf(out, "%s⚠ %s: manifest has no checksum for %s%s\n", c.yellow, path, platform, c.reset)
		return nil
	}
	fmt.Fprintf(out, "%s✓%s %s matches %s %s\n", c.green, c.reset, path, prism.Name, info.Version)
	return nil
}

func runGrammarInstall(cmd *cobra.Command, args []string) error {
	dest := installDir
	switch {
	case dest != "":
	case installGlobal:
		dest = treesitter.GlobalGrammarDir()
		if dest == "" {
			return errors.New("cannot determine home directory; use --dir")
		}
	default:
		dest = app.NewPaths(root).GrammarsDir
	}

	m, err := loadManifest()
	if err != nil {
		return err
	}
	installer := treesitter.NewInstaller(m)
	installer.Insecure = installInsecure
	path, err := installer.Install(cmd.Context(), prism.Name, dest)
	if err != nil {
		switch {
		case errors.Is(err, treesitter.ErrChecksumMismatch):
			return fmt.Errorf("%w\n  → the download was discarded; retry or check the manifest", err)
		case errors.Is(err, treesitter.ErrNoDigest):
			return fmt.Errorf("%w\n  → use a release manifest:  --manifest manifest.json\n  → or accept an unverified build:  --insecure", err)
		}
		return err
	}

	abs, _ := filepath.Abs(path)
	c := colorsFor(cmd.OutOrStdout())
	fmt.Fprintf(cmd.OutOrStdout(), "%s✓%s installed %s\n", c.green, c.reset, abs)
	return nil
}
