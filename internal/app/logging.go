package app

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// NewLogHandler builds the slog handler for the given format. "auto" picks
// the colored tint handler when w is a terminal and plain text otherwise.
func NewLogHandler(w io.Writer, level slog.Leveler, format string) (slog.Handler, error) {
	switch format {
	case LogFormatAuto, "":
		if isTerminal(w) {
			return newPrettyHandler(w, level, false), nil
		}
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}), nil
	case LogFormatPretty:
		return newPrettyHandler(w, level, !isTerminal(w)), nil
	case LogFormatText:
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}), nil
	case LogFormatJSON:
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// SetupLogging installs the default logger.
func SetupLogging(w io.Writer, level slog.Leveler, format string) error {
	h, err := NewLogHandler(w, level, format)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(h))
	return nil
}

func newPrettyHandler(w io.Writer, level slog.Leveler, noColor bool) slog.Handler {
	return tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		NoColor:    noColor,
	})
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
