package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/corey/tsprism/internal/adapters/bbolt"
	"github.com/corey/tsprism/internal/adapters/socket"
	"github.com/corey/tsprism/internal/app"
)

// exitError ends the process with code after the command printed its own report.
type exitError struct{ code int }

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// ExitCode extracts the exit code from an exitError.
// Returns -1 if the error is not an exitError.
func ExitCode(err error) int {
	var ee exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return -1
}

// isDBLockError returns true if the error chain contains a bbolt lock timeout.
// bbolt returns the string "timeout" when it cannot acquire the file lock
// within the configured deadline.
func isDBLockError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "timeout")
}

// diagnoseDBLock checks the daemon state and returns actionable guidance
// when a bbolt open fails due to lock contention. It distinguishes three
// scenarios: daemon running, stale socket, and unknown lock holder.
func diagnoseDBLock(root string) string {
	sockPath := socket.SocketPath(root)
	client := socket.NewClient(sockPath)

	if client.Ping() {
		return "database is locked by the running daemon\n" +
			"  → stop it first:  tsprism daemon stop\n" +
			"  → or query it:    tsprism find <name>"
	}

	if _, err := os.Stat(sockPath); err == nil {
		return fmt.Sprintf("database is locked; daemon socket exists but is not responding\n"+
			"  → a previous daemon may have crashed\n"+
			"  → find the process:  ps aux | grep 'tsprism daemon'\n"+
			"  → kill it:           kill <PID>\n"+
			"  → clean up socket:   rm %s", sockPath)
	}

	return "database is locked by another process\n" +
		"  → find the process:  ps aux | grep 'tsprism'\n" +
		"  → kill it:           kill <PID>\n" +
		"  → then retry your command"
}

// openStore opens the project database, explaining lock contention.
func openStore(root string) (*bbolt.Store, error) {
	paths := app.NewPaths(root)
	if err := paths.EnsureDirs(); err != nil {
		return nil, err
	}
	store, err := bbolt.NewStore(paths.DB)
	if err != nil {
		if isDBLockError(err) {
			return nil, errors.New(diagnoseDBLock(root))
		}
		return nil, err
	}
	return store, nil
}
