// Package runnertest provides a recording Runner for tests.
package runnertest

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"avocado/internal/runner"
)

// Call records one invocation seen by Fake.
type Call struct {
	Command string
	Args    []string
	Opts    runner.RunOptions
}

// Line joins the command base name and args with spaces.
func (c Call) Line() string {
	return strings.TrimSpace(filepath.Base(c.Command) + " " + strings.Join(c.Args, " "))
}

// Fake answers Run calls with Handler and records every call. A nil Handler
// succeeds with empty output.
type Fake struct {
	Handler func(call Call) (runner.RunResult, error)

	mu    sync.Mutex
	calls []Call
}

func (f *Fake) Run(_ context.Context, command string, args []string, opts runner.RunOptions) (runner.RunResult, error) {
	call := Call{Command: command, Args: append([]string(nil), args...), Opts: opts}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()

	if f.Handler == nil {
		return runner.RunResult{}, nil
	}
	res, err := f.Handler(call)
	if opts.Stdout != nil && len(res.Stdout) > 0 {
		_, _ = opts.Stdout.Write(res.Stdout)
	}
	return res, err
}

// Calls returns a copy of the recorded calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Lines returns Line() for every recorded call.
func (f *Fake) Lines() []string {
	calls := f.Calls()
	lines := make([]string, len(calls))
	for i, c := range calls {
		lines[i] = c.Line()
	}
	return lines
}

// Find returns the first call whose Line contains substr.
func (f *Fake) Find(substr string) (Call, bool) {
	for _, c := range f.Calls() {
		if strings.Contains(c.Line(), substr) {
			return c, true
		}
	}
	return Call{}, false
}

// Failed builds a result for a command that exited with status code.
func Failed(code int, stderr string) (runner.RunResult, error) {
	return runner.RunResult{Stderr: []byte(stderr), ExitCode: code}, &ExitError{Code: code}
}

// ExitError mimics a non-zero exit status.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return "exit status " + strconv.Itoa(e.Code)
}

// ExitCode lets runner.IsExitError recognize the fake failure.
func (e *ExitError) ExitCode() int {
	return e.Code
}

var _ runner.Runner = (*Fake)(nil)
