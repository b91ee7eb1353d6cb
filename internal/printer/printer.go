// Package printer formats operator-facing CLI output.
package printer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
)

func init() {
	// Force color output even when not connected to TTY
	// Users can disable with NO_COLOR environment variable
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

// Out and ErrOut are where messages go. Tests swap them for buffers.
var (
	Out    io.Writer = os.Stdout
	ErrOut io.Writer = os.Stderr
)

// Success prints a success message in green with a checkmark prefix
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Fprint(Out, msg)
}

// Info prints an informational message in the default color
func Info(format string, a ...any) {
	fmt.Fprintf(Out, format, a...)
}

// Warning prints a warning message in yellow with a warning emoji prefix
func Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		msg = "⚠️  " + msg
	}
	yellow.Fprint(Out, msg)
}

// Step prints a step message with emphasis (used in multi-step operations)
func Step(format string, a ...any) {
	cyan.Fprintf(Out, "→ %s", fmt.Sprintf(format, a...))
}

// Status colors a submission status word: reviewed green, pending yellow,
// missing faint.
func Status(status string) string {
	switch status {
	case "reviewed":
		return green.Sprint(status)
	case "pending":
		return yellow.Sprint(status)
	case "missing":
		return faint.Sprint(status)
	}
	return status
}

// Error prints a formatted error (title, explanation, suggestions) to ErrOut
// and returns an error carrying only the title, for cobra with SilenceErrors.
func Error(title string, explanation string, suggestions []string) error {
	return ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext is Error with key/value details, printed in key order.
func ErrorWithContext(title string, explanation string, context map[string]string, suggestions []string) error {
	red.Fprintf(ErrOut, "%s\n\n", title)

	if explanation != "" {
		fmt.Fprintf(ErrOut, "%s\n", explanation)
	}

	if len(context) > 0 {
		keys := make([]string, 0, len(context))
		for k := range context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Fprintf(ErrOut, "\n")
		for _, k := range keys {
			fmt.Fprintf(ErrOut, "  %s: %s\n", k, context[k])
		}
	}

	switch len(suggestions) {
	case 0:
	case 1:
		fmt.Fprintf(ErrOut, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(ErrOut, "\nEither:\n")
		for i, suggestion := range suggestions {
			fmt.Fprintf(ErrOut, "  %d. %s\n", i+1, suggestion)
		}
	}

	return fmt.Errorf("%s", title)
}

// Println prints a plain message (for output that doesn't need coloring)
func Println(a ...any) {
	fmt.Fprintln(Out, a...)
}

// Printf prints a plain formatted message (for output that doesn't need coloring)
func Printf(format string, a ...any) {
	fmt.Fprintf(Out, format, a...)
}
