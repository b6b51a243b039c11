package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corey/tsprism/internal/adapters/socket"
	"github.com/corey/tsprism/internal/app"
	"github.com/corey/tsprism/prism"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration",
	Long:  "Shows project root, config file, DB path, socket path, grammar search paths and the effective settings. No daemon required.",
	Args:  cobra.NoArgs,
	RunE:  runConfig,
}

func runConfig(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	c := colorsFor(out)
	paths := app.NewPaths(root)
	sockPath := socket.SocketPath(root)

	daemonStatus := fmt.Sprintf("%s✗ not running%s", c.yellow, c.reset)
	if socket.NewClient(sockPath).Ping() {
		daemonStatus = fmt.Sprintf("%s✓ running%s", c.green, c.reset)
	}
	file := configPath
	if file == "" {
		file = "(none, using defaults)"
	}

	fmt.Fprintf(out, "%s⚡ tsprism config%s\n", c.bold, c.reset)
	fmt.Fprintf(out, "  Root:     %s\n", root)
	fmt.Fprintf(out, "  Config:   %s\n", file)
	fmt.Fprintf(out, "  DB:       %s\n", paths.DB)
	fmt.Fprintf(out, "  Socket:   %s\n", sockPath)
	fmt.Fprintf(out, "  Daemon:   %s\n", daemonStatus)
	fmt.Fprintf(out, "  Grammar:  %s (env %s)\n", prism.CSymbolName(prism.Name), prism.EnvGrammarPath)
	for _, dir := range grammarSearchPaths() {
		fmt.Fprintf(out, "    %s\n", dir)
	}

	fmt.Fprintf(out, "\n%s# effective %s%s\n", c.gray, app.ConfigFileName, c.reset)
	return config.Encode(out)
}
