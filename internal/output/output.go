// Package output prints leveled, colored status messages.
package output

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"avocado/internal/tui"
)

// Printer writes [INFO]/[SUCCESS]/[WARNING] to out and [ERROR]/[DEBUG] to
// errOut. Debug lines are emitted only when verbose.
type Printer struct {
	out     io.Writer
	errOut  io.Writer
	verbose bool

	outRenderer *lipgloss.Renderer
	errRenderer *lipgloss.Renderer
	mu          sync.Mutex
}

// New returns a Printer. Color is used only when the writer is a terminal
// and NO_COLOR is unset.
func New(out, errOut io.Writer, verbose bool) *Printer {
	return &Printer{
		out:         out,
		errOut:      errOut,
		verbose:     verbose,
		outRenderer: renderer(out),
		errRenderer: renderer(errOut),
	}
}

// Discard returns a Printer that drops everything.
func Discard() *Printer {
	return New(io.Discard, io.Discard, false)
}

// Stdio returns a Printer on the process streams.
func Stdio(verbose bool) *Printer {
	return New(os.Stdout, os.Stderr, verbose)
}

func renderer(w io.Writer) *lipgloss.Renderer {
	r := lipgloss.NewRenderer(w)
	if !tui.IsTerminal(w) || os.Getenv("NO_COLOR") != "" {
		r.SetColorProfile(termenv.Ascii)
	}
	return r
}

// Verbose reports whether debug output is enabled.
func (p *Printer) Verbose() bool { return p.verbose }

// Out is the writer used for normal messages.
func (p *Printer) Out() io.Writer { return p.out }

func (p *Printer) Info(format string, args ...any) {
	p.emit(p.out, p.outRenderer, "info", "[INFO]", format, args...)
}

func (p *Printer) Success(format string, args ...any) {
	p.emit(p.out, p.outRenderer, "success", "[SUCCESS]", format, args...)
}

func (p *Printer) Warning(format string, args ...any) {
	p.emit(p.out, p.outRenderer, "warning", "[WARNING]", format, args...)
}

func (p *Printer) Error(format string, args ...any) {
	p.emit(p.errOut, p.errRenderer, "error", "[ERROR]", format, args...)
}

func (p *Printer) Debug(format string, args ...any) {
	if !p.verbose {
		return
	}
	p.emit(p.errOut, p.errRenderer, "debug", "[DEBUG]", format, args...)
}

// Printf satisfies the Logger interfaces used across packages and routes
// to Debug.
func (p *Printer) Printf(format string, args ...any) {
	p.Debug(format, args...)
}

// Plain prints an unstyled line to out.
func (p *Printer) Plain(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *Printer) emit(w io.Writer, r *lipgloss.Renderer, level, tag, format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(w, "%s %s\n", tui.LevelStyle(r, level).Render(tag), fmt.Sprintf(format, args...))
}
