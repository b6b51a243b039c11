package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/corey/tsprism/internal/adapters/treesitter"
	"github.com/corey/tsprism/internal/app"
	"github.com/corey/tsprism/internal/ports"
)

var (
	parseSExpr  bool
	outlineJSON bool
	checkJSON   bool
)

var parseCmd = withGrammar(&cobra.Command{
	Use:   "parse <file>",
	Short: "Parse a PRISM file and report its outline size and errors",
	Long:  "Parses one file (\"-\" reads a model from stdin). With --sexp prints the syntax tree.",
	Args:  cobra.ExactArgs(1),
	RunE:  runParse,
})

var outlineCmd = withGrammar(&cobra.Command{
	Use:   "outline <file>",
	Short: "List the declarations of a PRISM file",
	Args:  cobra.ExactArgs(1),
	RunE:  runOutline,
})

var checkCmd = withGrammar(&cobra.Command{
	Use:   "check <file>...",
	Short: "Report syntax and declaration errors (exit 1 on errors)",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCheck,
})

func init() {
	parseCmd.Flags().BoolVar(&parseSExpr, "sexp", false, "print the syntax tree as an s-expression")
	outlineCmd.Flags().BoolVar(&outlineJSON, "json", false, "print symbols as JSON")
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "print diagnostics as JSON")
}

// newParser builds a parser on the loaded grammar with the configured
// extra extensions.
func newParser() (*treesitter.Parser, error) {
	p, err := loadGrammar()
	if err != nil {
		return nil, err
	}
	parser := treesitter.NewParser(p)
	if config != nil {
		for kind, exts := range config.Extensions {
			parser.AddExtensions(kind, exts...)
		}
	}
	return parser, nil
}

// readSource reads a PRISM file; "-" reads stdin and is treated as a model.
func readSource(cmd *cobra.Command, parser *treesitter.Parser, path string) (string, []byte, error) {
	if path == "-" {
		src, err := io.ReadAll(cmd.InOrStdin())
		return "stdin.prism", src, err
	}
	if parser.FileKind(path) == "" {
		return "", nil, fmt.Errorf("%s: %w", path, app.ErrUnsupportedFile)
	}
	src, err := os.ReadFile(path)
	return path, src, err
}

func runParse(cmd *cobra.Command, args []string) error {
	parser, err := newParser()
	if err != nil {
		return err
	}
	path, src, err := readSource(cmd, parser, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if parseSExpr {
		sexp, err := parser.SExpr(src)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, sexp)
		return nil
	}

	analysis, err := parser.Analyze(path, src)
	if err != nil {
		return err
	}
	c := colorsFor(out)
	mark, color := "✓", c.green
	if analysis.ErrorCount() > 0 {
		mark, color = "✗", c.red
	}
	fmt.Fprintf(out, "%s%s%s %s  %s  %d symbols  %d errors\n", color, mark, c.reset,
		args[0], analysis.Kind, len(analysis.Symbols), analysis.ErrorCount())
	return nil
}

func runOutline(cmd *cobra.Command, args []string) error {
	parser, err := newParser()
	if err != nil {
		return err
	}
	path, src, err := readSource(cmd, parser, args[0])
	if err != nil {
		return err
	}
	metas, err := parser.ParseFileToMeta(path, src)
	if err != nil {
		return err
	}

	symbols := make([]ports.SymbolMeta, 0, len(metas))
	for _, m := range metas {
		symbols = append(symbols, *m)
	}
	out := cmd.OutOrStdout()
	if outlineJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(symbols)
	}
	fmt.Fprint(out, formatOutline(symbols, colorsFor(out)))
	return nil
}

// fileDiagnostics is the --json form of one checked file.
type fileDiagnostics struct {
	Path        string             `json:"path"`
	Diagnostics []ports.Diagnostic `json:"diagnostics"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	parser, err := newParser()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	c := colorsFor(out)

	var (
		reports    []fileDiagnostics
		errorCount int
		badFiles   int
	)
	for _, arg := range args {
		path, src, err := readSource(cmd, parser, arg)
		if err != nil {
			return err
		}
		diags, err := parser.Check(path, src)
		if err != nil {
			return err
		}
		fileErrors := 0
		for _, d := range diags {
			if d.Severity == ports.SeverityError {
				fileErrors++
			}
		}
		if fileErrors > 0 {
			badFiles++
			errorCount += fileErrors
		}
		if diags == nil {
			diags = []ports.Diagnostic{}
		}
		reports = append(reports, fileDiagnostics{Path: arg, Diagnostics: diags})
	}

	if checkJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			return err
		}
	} else {
		for _, r := range reports {
			for _, d := range r.Diagnostics {
				fmt.Fprint(out, formatDiagnostic(r.Path, d, c))
			}
		}
		if errorCount == 0 {
			fmt.Fprintf(out, "%s✓%s %d files ok\n", c.green, c.reset, len(args))
		} else {
			fmt.Fprintf(out, "%s✗%s %d errors in %d of %d files\n", c.red, c.reset, errorCount, badFiles, len(args))
		}
	}

	if errorCount > 0 {
		return exitError{code: 1}
	}
	return nil
}
