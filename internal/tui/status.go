package tui

import (
	"fmt"
	"io"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Status reports progress of a silent wait such as a batch stamp read.
type Status interface {
	Update(msg string)
	Stop()
}

// NewStatus returns a spinner for interactive output and a no-op otherwise.
func NewStatus(w io.Writer, mode OutputMode) Status {
	if mode != ModeInteractive {
		return noopStatus{}
	}
	return NewStatusWriter(w)
}

type noopStatus struct{}

func (noopStatus) Update(string) {}
func (noopStatus) Stop()         {}

// StatusWriter prints a spinning status line to a writer. It runs in
// the background and updates the current phase text in-place.
type StatusWriter struct {
	w          io.Writer
	mu         sync.Mutex
	message    string
	phaseStart time.Time
	done       chan struct{}
	stopped    bool
}

// NewStatusWriter starts a background spinner that renders the current
// status message to w every 100ms.
func NewStatusWriter(w io.Writer) *StatusWriter {
	sw := &StatusWriter{
		w:          w,
		phaseStart: time.Now(),
		done:       make(chan struct{}),
	}
	go sw.loop()
	return sw
}

// Update changes the status message shown next to the spinner and resets
// the phase timer.
func (sw *StatusWriter) Update(msg string) {
	sw.mu.Lock()
	sw.message = msg
	sw.phaseStart = time.Now()
	sw.mu.Unlock()
}

// Stop clears the status line and stops the spinner. The line must be
// cleared before any container output reaches the terminal.
func (sw *StatusWriter) Stop() {
	sw.mu.Lock()
	if sw.stopped {
		sw.mu.Unlock()
		return
	}
	sw.stopped = true
	close(sw.done)
	fmt.Fprintf(sw.w, "\r\033[K")
	sw.mu.Unlock()
}

func (sw *StatusWriter) loop() {
	tick := 0
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-sw.done:
			return
		case <-ticker.C:
			sw.mu.Lock()
			if sw.stopped {
				sw.mu.Unlock()
				return
			}
			spinner := spinnerFrames[tick%len(spinnerFrames)]
			tick++
			fmt.Fprintf(sw.w, "\r\033[K%s %s (%s)", spinner, sw.message, formatElapsed(time.Since(sw.phaseStart)))
			sw.mu.Unlock()
		}
	}
}

// formatElapsed formats a duration for display in the status line.
func formatElapsed(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < 10*time.Second {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
}
