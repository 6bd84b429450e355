package tui

import (
	"io"

	tea "github.com/charmbracelet/bubbletea"
)

// RunWithWork starts a bubbletea program for model, runs workFn in a
// goroutine with a callback that forwards messages to the program, and
// blocks until the program exits. workFn's error is returned after the
// table has been drawn in its final state.
func RunWithWork(out io.Writer, model TableModel, workFn func(send func(tea.Msg)) error) error {
	p := tea.NewProgram(model, tea.WithOutput(out), tea.WithInput(nil))

	var workErr error
	go func() {
		workErr = workFn(p.Send)
		p.Send(WorkDoneMsg{})
	}()

	finalModel, err := p.Run()
	if err != nil {
		return err
	}
	if m, ok := finalModel.(TableModel); ok && m.Err() != nil {
		return m.Err()
	}
	return workErr
}
