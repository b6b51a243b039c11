package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/corey/tsprism/internal/ports"
)

// palette holds ANSI codes, all empty when output is not a terminal.
type palette struct {
	reset, bold, cyan, green, yellow, red, gray string
}

var ansi = palette{
	reset:  "\033[0m",
	bold:   "\033[1m",
	cyan:   "\033[36m",
	green:  "\033[32m",
	yellow: "\033[33m",
	red:    "\033[31m",
	gray:   "\033[90m",
}

// colorsFor returns the ANSI palette when w is a terminal and NO_COLOR is unset.
func colorsFor(w io.Writer) palette {
	if os.Getenv("NO_COLOR") != "" {
		return palette{}
	}
	f, ok := w.(*os.File)
	if !ok || !isatty.IsTerminal(f.Fd()) {
		return palette{}
	}
	return ansi
}

// formatOutline renders symbols one per line, children indented under
// their module.
//
//	   1  model     dtmc
//	   5  module    module coin
//	   6    variable  s : [0..2] init 0
func formatOutline(symbols []ports.SymbolMeta, c palette) string {
	var sb strings.Builder
	for _, s := range symbols {
		indent := ""
		if s.Parent != "" {
			indent = "  "
		}
		fmt.Fprintf(&sb, "%s%4d%s  %s%s%-9s%s %s\n",
			c.gray, s.StartLine, c.reset, indent, c.cyan, s.Kind, c.reset, s.Signature)
	}
	return sb.String()
}

// formatDiagnostic renders one diagnostic in file:line:col form.
func formatDiagnostic(path string, d ports.Diagnostic, c palette) string {
	color := c.yellow
	if d.Severity == ports.SeverityError {
		color = c.red
	}
	return fmt.Sprintf("%s:%d:%d: %s%s%s: %s %s[%s]%s\n",
		path, d.Line, d.Column, color, d.Severity, c.reset, d.Message, c.gray, d.Code, c.reset)
}

// formatHits renders find results grouped as path:line.
func formatHits(hits []ports.SymbolHit, c palette) string {
	var sb strings.Builder
	files := make(map[string]struct{})
	for _, h := range hits {
		files[h.Path] = struct{}{}
	}
	fmt.Fprintf(&sb, "%s⚡ %d hits%s │ %d files\n", c.bold, len(hits), c.reset, len(files))
	for _, h := range hits {
		s := h.Symbol
		where := ""
		if s.Parent != "" {
			where = " in " + s.Parent
		}
		fmt.Fprintf(&sb, "  %s%s%s:%d  %s%s%s%s  %s\n",
			c.cyan, h.Path, c.reset, s.StartLine, c.gray, s.Kind, where, c.reset, s.Signature)
	}
	return sb.String()
}
