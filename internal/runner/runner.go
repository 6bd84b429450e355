package runner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
)

// RunOptions controls how a subprocess is wired to the caller.
type RunOptions struct {
	Dir    string
	Env    []string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// Passthrough hands the process the caller's terminal directly. Output is
	// not captured so that the child keeps seeing a TTY.
	Passthrough bool
}

type RunResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Success reports whether the process exited with status zero.
func (r RunResult) Success() bool {
	return r.ExitCode == 0
}

type Runner interface {
	Run(ctx context.Context, command string, args []string, opts RunOptions) (RunResult, error)
}

type CmdRunner struct{}

func (CmdRunner) Run(ctx context.Context, command string, args []string, opts RunOptions) (RunResult, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}

	if opts.Passthrough {
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		err := cmd.Run()
		return RunResult{ExitCode: exitCode(err)}, err
	}

	var stdoutBuf, stderrBuf bytes.Buffer

	stdoutWriter := io.Writer(&stdoutBuf)
	if opts.Stdout != nil {
		stdoutWriter = io.MultiWriter(&stdoutBuf, opts.Stdout)
	}
	stderrWriter := io.Writer(&stderrBuf)
	if opts.Stderr != nil {
		stderrWriter = io.MultiWriter(&stderrBuf, opts.Stderr)
	}

	cmd.Stdin = opts.Stdin
	cmd.Stdout = stdoutWriter
	cmd.Stderr = stderrWriter

	err := cmd.Run()
	return RunResult{Stdout: stdoutBuf.Bytes(), Stderr: stderrBuf.Bytes(), ExitCode: exitCode(err)}, err
}

var _ Runner = CmdRunner{}

type exitCoder interface {
	ExitCode() int
}

// IsExitError reports whether err only carries a non-zero exit status, as
// opposed to a failure to start the process.
func IsExitError(err error) bool {
	var coded exitCoder
	return errors.As(err, &coded)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var coded exitCoder
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	return -1
}

// CommandLine renders a command and its arguments for log output.
func CommandLine(command string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, command)
	for _, arg := range args {
		if arg == "" || strings.ContainsAny(arg, " \t\n\"'$") {
			parts = append(parts, "'"+strings.ReplaceAll(arg, "'", `'\''`)+"'")
			continue
		}
		parts = append(parts, arg)
	}
	return strings.Join(parts, " ")
}
