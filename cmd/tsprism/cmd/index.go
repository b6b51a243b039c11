package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/corey/tsprism/internal/adapters/socket"
	"github.com/corey/tsprism/internal/app"
)

var indexWatch bool

var indexCmd = withGrammar(&cobra.Command{
	Use:   "index",
	Short: "Index all PRISM files of the project",
	Long: "Parses every model and property file under the project root and stores\n" +
		"their outlines in .tsprism/tsprism.db. Uses the daemon when it is running.",
	Args: cobra.NoArgs,
	RunE: runIndex,
})

var findCmd = &cobra.Command{
	Use:   "find <name>",
	Short: "Find declarations by name (a trailing * matches a prefix)",
	Args:  cobra.ExactArgs(1),
	RunE:  runFind,
}

func init() {
	indexCmd.Flags().BoolVarP(&indexWatch, "watch", "w", false, "keep running and re-index changed files")
}

func runIndex(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	c := colorsFor(out)

	client := socket.NewClient(socket.SocketPath(root))
	if client.Ping() {
		if indexWatch {
			return errors.New("the daemon is already watching this project; see: tsprism daemon status")
		}
		result, err := client.Reindex()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s⚡ indexed%s %d files, %d symbols, %d errors │ %dms (daemon)\n",
			c.bold, c.reset, result.FileCount, result.SymbolCount, result.ErrorCount, result.ElapsedMs)
		return nil
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Stop()

	result, err := a.Reindex(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s⚡ indexed%s %d files, %d symbols, %d errors │ %dms\n",
		c.bold, c.reset, result.FileCount, result.SymbolCount, result.ErrorCount, result.ElapsedMs)
	if !indexWatch {
		return nil
	}

	err = a.Watcher.Watch(a.ProjectRoot, func(path string) {
		rel, _ := filepath.Rel(a.ProjectRoot, path)
		if err := a.Indexer.IndexPath(path); err != nil {
			slog.Warn("reindex file", "path", rel, "err", err)
			return
		}
		if _, err := os.Stat(path); err != nil {
			fmt.Fprintf(out, "  %s-%s %s\n", c.red, c.reset, rel)
			return
		}
		fmt.Fprintf(out, "  %s↻%s %s\n", c.green, c.reset, rel)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%swatching %s (Ctrl-C to stop)%s\n", c.gray, a.ProjectRoot, c.reset)
	<-cmd.Context().Done()
	return nil
}

func runFind(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	c := colorsFor(out)

	client := socket.NewClient(socket.SocketPath(root))
	if client.Ping() {
		result, err := client.Find(args[0])
		if err != nil {
			return err
		}
		fmt.Fprint(out, formatHits(result.Hits, c))
		return nil
	}

	paths := app.NewPaths(root)
	if _, err := os.Stat(paths.DB); err != nil {
		return fmt.Errorf("no index at %s\n  → build it:  tsprism index", paths.DB)
	}
	store, err := openStore(root)
	if err != nil {
		return err
	}
	defer store.Close()

	hits, err := store.Find(filepath.Base(root), args[0])
	if err != nil {
		return err
	}
	fmt.Fprint(out, formatHits(hits, c))
	return nil
}
