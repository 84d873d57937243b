package output

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/agentstation/fleethold/internal/runner"
)

// Printer writes colored status lines for humans. Colors are off when
// disabled, when NO_COLOR is set, or when w is not a terminal.
type Printer struct {
	w       io.Writer
	success *color.Color
	warning *color.Color
	failure *color.Color
	step    *color.Color
}

// NewPrinter creates a printer writing to w.
func NewPrinter(w io.Writer, noColor bool) *Printer {
	p := &Printer{
		w:       w,
		success: color.New(color.FgGreen),
		warning: color.New(color.FgYellow),
		failure: color.New(color.FgRed, color.Bold),
		step:    color.New(color.FgCyan),
	}
	if noColor || os.Getenv("NO_COLOR") != "" || !isTerminal(w) {
		for _, c := range []*color.Color{p.success, p.warning, p.failure, p.step} {
			c.DisableColor()
		}
	}
	return p
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Success prints a line prefixed with a check mark.
func (p *Printer) Success(format string, a ...any) {
	_, _ = p.success.Fprintf(p.w, "✓ %s\n", fmt.Sprintf(format, a...))
}

// Warning prints a warning line.
func (p *Printer) Warning(format string, a ...any) {
	_, _ = p.warning.Fprintf(p.w, "! %s\n", fmt.Sprintf(format, a...))
}

// Error prints an error line.
func (p *Printer) Error(format string, a ...any) {
	_, _ = p.failure.Fprintf(p.w, "✗ %s\n", fmt.Sprintf(format, a...))
}

// Step prints a progress line.
func (p *Printer) Step(format string, a ...any) {
	_, _ = p.step.Fprintf(p.w, "→ %s\n", fmt.Sprintf(format, a...))
}

// Reports prints one status line per company run.
func (p *Printer) Reports(reports []*runner.Report) {
	for _, r := range reports {
		switch {
		case r.Err != nil:
			p.Error("%s", r.Summary())
		case len(r.Warnings) > 0:
			p.Warning("%s (%d warnings)", r.Summary(), len(r.Warnings))
		default:
			p.Success("%s", r.Summary())
		}
	}
}
