package tui

import (
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/mattn/go-isatty"
)

// OutputMode describes how status output should be rendered.
type OutputMode int

const (
	// ModeInteractive animates status lines in place.
	ModeInteractive OutputMode = iota
	// ModePlain prints one line per event.
	ModePlain
)

// IsTerminal reports whether w is a terminal device.
func IsTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(file.Fd()) || isatty.IsCygwinTerminal(file.Fd())
}

// DetectMode determines the appropriate output mode for the given writer.
func DetectMode(out io.Writer, verbose bool) OutputMode {
	// Verbose runs interleave debug lines, which would fight with a spinner.
	if verbose {
		return ModePlain
	}
	if !IsTerminal(out) {
		return ModePlain
	}
	if runtime.GOOS != "windows" {
		term := os.Getenv("TERM")
		if term == "" || strings.EqualFold(term, "dumb") {
			return ModePlain
		}
	}
	return ModeInteractive
}
