// tsprism parses, checks and indexes PRISM models with the prism tree-sitter
// grammar.
package main

import (
	"fmt"
	"os"

	"github.com/corey/tsprism/cmd/tsprism/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		if code := cmd.ExitCode(err); code >= 0 {
			os.Exit(code)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
