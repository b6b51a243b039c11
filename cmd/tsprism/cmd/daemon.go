package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/corey/tsprism/internal/adapters/socket"
	"github.com/corey/tsprism/internal/app"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the tsprism daemon",
}

var daemonStartCmd = withGrammar(&cobra.Command{
	Use:   "start",
	Short: "Index the project and serve queries until stopped",
	Long: "Runs in the foreground: indexes the project, watches it for changes and\n" +
		"answers outline/check/find requests on a Unix socket. Logs go to .tsprism/log/daemon.log.",
	Args: cobra.NoArgs,
	RunE: runDaemonStart,
})

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon health",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStatus,
}

func init() {
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
}

// newApp wires the app on the loaded grammar, explaining lock contention.
func newApp() (*app.App, error) {
	p, err := loadGrammar()
	if err != nil {
		return nil, err
	}
	a, err := app.New(app.Config{ProjectRoot: root, Provider: p, Project: config})
	if err != nil {
		if isDBLockError(err) {
			return nil, errors.New(diagnoseDBLock(root))
		}
		return nil, fmt.Errorf("init: %w", err)
	}
	return a, nil
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	c := colorsFor(out)
	sockPath := socket.SocketPath(root)

	if socket.NewClient(sockPath).Ping() {
		fmt.Fprintf(out, "%s⚡ daemon already running%s\n", c.yellow, c.reset)
		return nil
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Stop()

	logFile, err := os.OpenFile(a.Paths.DaemonLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open daemon log: %w", err)
	}
	defer logFile.Close()
	level, _ := config.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	if err := app.SetupLogging(logFile, level, app.LogFormatText); err != nil {
		return err
	}

	result, err := a.Reindex(cmd.Context())
	if err != nil {
		return err
	}
	if err := a.Start(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s⚡ tsprism daemon started%s at %s (%d files, %d symbols, %dms)\n",
		c.bold, c.reset, sockPath, result.FileCount, result.SymbolCount, result.ElapsedMs)

	select {
	case <-cmd.Context().Done():
	case <-a.Server.ShutdownCh():
	}

	fmt.Fprintln(out, "\n⚡ shutting down...")
	return a.Stop()
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	client := socket.NewClient(socket.SocketPath(root))

	if !client.Ping() {
		fmt.Fprintln(out, "⚡ daemon is not running")
		return nil
	}
	if err := client.Shutdown(); err != nil {
		return err
	}
	fmt.Fprintln(out, "⚡ daemon stopped")
	return nil
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	c := colorsFor(out)
	sockPath := socket.SocketPath(root)
	client := socket.NewClient(sockPath)

	if !client.Ping() {
		fmt.Fprintf(out, "%s✗ daemon is not running%s\n", c.yellow, c.reset)
		return nil
	}
	health, err := client.Health()
	if err != nil {
		return err
	}

	paths := app.NewPaths(root)
	pid := "?"
	if data, err := os.ReadFile(paths.PIDFile); err == nil {
		pid = strings.TrimSpace(string(data))
	}

	fmt.Fprintf(out, "%s✓ daemon %s%s\n", c.green, health.Status, c.reset)
	fmt.Fprintf(out, "  PID:      %s\n", pid)
	fmt.Fprintf(out, "  Uptime:   %s\n", health.Uptime)
	fmt.Fprintf(out, "  Root:     %s\n", health.Root)
	fmt.Fprintf(out, "  Socket:   %s\n", sockPath)
	fmt.Fprintf(out, "  Grammar:  %s (ABI %d)\n", health.Grammar, health.ABI)
	fmt.Fprintf(out, "  Files:    %d\n", health.FileCount)
	fmt.Fprintf(out, "  Log:      %s\n", paths.DaemonLog)
	return nil
}
