package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
)

// ansi is an SGR parameter.
type ansi string

const (
	bold   ansi = "1"
	red    ansi = "31"
	green  ansi = "32"
	yellow ansi = "33"
	cyan   ansi = "36"
)

// stderrIsTerminal is checked once; piping replyd into a file or another
// program turns escapes off even without --no-color.
var stderrIsTerminal = sync.OnceValue(func() bool {
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
})

func paint(a ansi, text string) string {
	if noColor || !stderrIsTerminal() {
		return text
	}
	return "\033[" + string(a) + "m" + text + "\033[0m"
}

func notice(a ansi, mark, format string, args []any) {
	fmt.Fprintln(os.Stderr, paint(a, mark+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { notice(green, "✓", format, args) }
func printError(format string, args ...any)   { notice(red, "✗", format, args) }
func printWarning(format string, args ...any) { notice(yellow, "!", format, args) }
func printStep(format string, args ...any)    { notice(cyan, "→", format, args) }

// printStatus writes an indented "label: value" line.
func printStatus(label, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", paint(bold, label+":"), fmt.Sprintf(format, args...))
}
