package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// Console is the REPL's user-facing output writer: ANSI-aware on real
// terminals (via go-colorable, which also fixes up ANSI escapes on
// Windows consoles), plain when stdout is redirected or --no-color is set.
type Console struct {
	out     io.Writer
	colored bool
}

func NewConsole(noColor bool) *Console {
	enabled := !noColor && isatty.IsTerminal(os.Stdout.Fd())
	return &Console{out: colorable.NewColorableStdout(), colored: enabled}
}

func (c *Console) color(code, s string) string {
	if !c.colored {
		return s
	}
	return code + s + colorReset
}

func (c *Console) Printf(format string, a ...interface{}) {
	fmt.Fprintf(c.out, format, a...)
}

func (c *Console) Info(format string, a ...interface{}) {
	fmt.Fprintf(c.out, "%s\n", c.color(colorGreen, fmt.Sprintf(format, a...)))
}

func (c *Console) Error(format string, a ...interface{}) {
	fmt.Fprintf(c.out, "%s %s\n", c.color(colorRed, "error:"), fmt.Sprintf(format, a...))
}

func (c *Console) Address(addr uint64) string {
	return c.color(colorCyan, fmt.Sprintf("0x%016x", addr))
}

func (c *Console) SourceLine(n int, text string, current bool) string {
	marker := "  "
	if current {
		marker = c.color(colorBold+colorYellow, "> ")
	}
	return fmt.Sprintf("%s%4d\t%s", marker, n, text)
}

// Rule prints a horizontal divider labeled with msg, sized to the terminal
// width when stdout is a tty and falling back to a bracketed label when it
// isn't.
func (c *Console) Rule(msg string) {
	if isatty.IsTerminal(os.Stdout.Fd()) {
		if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > len(msg)+2 {
			side := (w - len(msg) - 2) / 2
			fmt.Fprintf(c.out, "%s[%s]%s\n", strings.Repeat("-", side), msg, strings.Repeat("-", side))
			return
		}
	}
	fmt.Fprintf(c.out, "[%s]\n", msg)
}
