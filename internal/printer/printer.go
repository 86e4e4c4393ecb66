// Package printer renders colored CLI output.
package printer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

func init() {
	// Users can disable with NO_COLOR.
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

// Success prints msg in green with a checkmark prefix.
func Success(w io.Writer, format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Fprint(w, msg)
}

// Info prints an uncolored message.
func Info(w io.Writer, format string, a ...any) {
	fmt.Fprintf(w, format, a...)
}

// Warning prints msg in yellow with a warning prefix.
func Warning(w io.Writer, format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		msg = "⚠️  " + msg
	}
	yellow.Fprint(w, msg)
}

// Highlight prints msg in cyan.
func Highlight(w io.Writer, format string, a ...any) {
	cyan.Fprintf(w, format, a...)
}

// Dim prints msg faint.
func Dim(w io.Writer, format string, a ...any) {
	faint.Fprintf(w, format, a...)
}

// reportedError is an error whose details were already printed.
type reportedError struct {
	title string
}

func (e *reportedError) Error() string { return e.title }

// IsReported reports whether err came from Error and needs no further
// printing.
func IsReported(err error) bool {
	var r *reportedError
	return errors.As(err, &r)
}

// Error prints a title, an explanation and numbered suggestions to w and
// returns a short error for cobra, which runs with SilenceErrors.
func Error(w io.Writer, title, explanation string, suggestions []string) error {
	red.Fprintf(w, "%s\n\n", title)
	fmt.Fprintf(w, "%s\n", explanation)

	if len(suggestions) > 0 {
		fmt.Fprintln(w)
		if len(suggestions) == 1 {
			fmt.Fprintf(w, "%s\n", suggestions[0])
		} else {
			fmt.Fprintf(w, "Either:\n")
			for i, s := range suggestions {
				fmt.Fprintf(w, "  %d. %s\n", i+1, s)
			}
		}
	}
	return &reportedError{title: title}
}

// Fields prints aligned key/value pairs, one per line.
func Fields(w io.Writer, pairs ...string) {
	width := 0
	for i := 0; i < len(pairs); i += 2 {
		if n := len(pairs[i]); n > width {
			width = n
		}
	}
	for i := 0; i+1 < len(pairs); i += 2 {
		cyan.Fprintf(w, "  %-*s", width+1, pairs[i]+":")
		fmt.Fprintf(w, " %s\n", pairs[i+1])
	}
}
