// Package display prints command-line results with optional colour.
package display

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Printer writes status lines to a terminal, colouring them when the output
// supports it.
type Printer struct {
	out     io.Writer
	success *color.Color
	warning *color.Color
	failure *color.Color
	info    *color.Color
	muted   *color.Color
}

// NewPrinter creates a printer for out. Colour is used only when out is a
// terminal, NO_COLOR is unset and noColor is false.
func NewPrinter(out io.Writer, noColor bool) *Printer {
	p := &Printer{
		out:     out,
		success: color.New(color.FgHiGreen, color.Bold),
		warning: color.New(color.FgHiYellow),
		failure: color.New(color.FgHiRed, color.Bold),
		info:    color.New(color.FgCyan),
		muted:   color.New(color.FgWhite, color.Faint),
	}

	if noColor || !ColorSupported(out) {
		for _, c := range []*color.Color{p.success, p.warning, p.failure, p.info, p.muted} {
			c.DisableColor()
		}
	}
	return p
}

// ColorSupported reports whether w is a colour-capable terminal
func ColorSupported(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *Printer) Success(format string, args ...interface{}) {
	p.line(p.success, "✓", format, args...)
}

func (p *Printer) Warning(format string, args ...interface{}) {
	p.line(p.warning, "!", format, args...)
}

func (p *Printer) Error(format string, args ...interface{}) {
	p.line(p.failure, "✗", format, args...)
}

func (p *Printer) Info(format string, args ...interface{}) {
	p.line(p.info, "•", format, args...)
}

// Detail prints an indented, de-emphasised line
func (p *Printer) Detail(format string, args ...interface{}) {
	fmt.Fprintln(p.out, "  "+p.muted.Sprintf(format, args...))
}

func (p *Printer) line(c *color.Color, icon, format string, args ...interface{}) {
	fmt.Fprintf(p.out, "%s %s\n", c.Sprint(icon), fmt.Sprintf(format, args...))
}

// FormatBytes renders n using binary units
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
