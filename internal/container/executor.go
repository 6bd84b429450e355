// Package container runs commands in the SDK container against the
// project's persistent volume.
package container

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/mattn/go-isatty"

	"avocado/internal/runner"
	"avocado/internal/volume"
)

// RunConfig describes one SDK container invocation.
type RunConfig struct {
	Image   string
	Target  string
	Command string

	Verbose           bool
	SourceEnvironment bool
	Interactive       bool
	Detach            bool
	Rm                bool

	RepoURL       string
	RepoRelease   string
	ContainerArgs []string
	DNFArgs       []string
	Env           map[string]string
	ContainerName string

	// At most one of the sysroots is set; the command starts there.
	ExtensionSysroot string
	RuntimeSysroot   string

	// SDKArch requests a foreign-architecture SDK image via --platform.
	SDKArch string
}

// Logger receives diagnostic messages.
type Logger interface {
	Printf(format string, v ...any)
}

// Executor composes and runs container invocations.
type Executor struct {
	Tool    string
	Runner  runner.Runner
	Volumes *volume.Manager
	SrcDir  string
	// PathMounts maps path-source extensions to host directories.
	PathMounts map[string]string
	Logger     Logger
	Stdout     io.Writer
	Stderr     io.Writer
	// Terminal reports whether stdin is a TTY; nil checks os.Stdin.
	Terminal func() bool

	state *volume.State
}

// NewExecutor returns an Executor using the real command runner.
func NewExecutor(tool, srcDir string, logger Logger) *Executor {
	r := runner.CmdRunner{}
	return &Executor{
		Tool:    tool,
		Runner:  r,
		Volumes: volume.NewManager(tool, r, logger),
		SrcDir:  srcDir,
		Logger:  logger,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
}

func (e *Executor) logf(format string, v ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, v...)
	}
}

func (e *Executor) stdout() io.Writer {
	if e.Stdout != nil {
		return e.Stdout
	}
	return os.Stdout
}

func (e *Executor) stderr() io.Writer {
	if e.Stderr != nil {
		return e.Stderr
	}
	return os.Stderr
}

func (e *Executor) terminal() bool {
	if e.Terminal != nil {
		return e.Terminal()
	}
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Volume returns the project's volume state, provisioning the volume on
// first use.
func (e *Executor) Volume(ctx context.Context) (volume.State, error) {
	if e.state != nil {
		return *e.state, nil
	}
	st, err := e.Volumes.Ensure(ctx, e.SrcDir)
	if err != nil {
		return volume.State{}, fmt.Errorf("prepare project volume: %w", err)
	}
	e.state = &st
	return st, nil
}

func (e *Executor) pathExtNames() []string {
	names := make([]string, 0, len(e.PathMounts))
	for name := range e.PathMounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Script returns the full bash body for cfg: the entrypoint prologue
// followed by the command.
func (e *Executor) Script(cfg RunConfig) string {
	return Entrypoint(cfg, e.pathExtNames()) + "\n" + cfg.Command
}

// Args builds the container tool arguments for cfg against volumeName.
func (e *Executor) Args(cfg RunConfig, volumeName string) []string {
	args := []string{"run"}
	if cfg.Rm {
		args = append(args, "--rm")
	}
	if cfg.ContainerName != "" {
		args = append(args, "--name", cfg.ContainerName)
	}
	if cfg.Detach {
		args = append(args, "-d")
	}
	if cfg.Interactive {
		args = append(args, "-i")
		if e.terminal() {
			args = append(args, "-t")
		}
	}
	if cfg.SDKArch != "" {
		args = append(args, "--platform", Platform(cfg.SDKArch))
	}

	args = append(args,
		"-v", e.SrcDir+":"+SrcMount+":rw",
		"-v", volumeName+":"+VolumeMount+":rw",
	)
	for _, name := range e.pathExtNames() {
		args = append(args, "-v", e.PathMounts[name]+":"+ExtMountRoot+"/"+name+":ro")
	}

	for _, kv := range e.envPairs(cfg) {
		args = append(args, "-e", kv)
	}
	args = append(args, cfg.ContainerArgs...)
	args = append(args, cfg.Image, "bash", "-c", e.Script(cfg))
	return args
}

func (e *Executor) envPairs(cfg RunConfig) []string {
	pairs := []string{
		"AVOCADO_TARGET=" + cfg.Target,
		"AVOCADO_HOST_PLATFORM=" + HostPlatform(),
	}
	if cfg.RepoURL != "" {
		pairs = append(pairs, "AVOCADO_SDK_REPO_URL="+cfg.RepoURL)
	}
	if cfg.RepoRelease != "" {
		pairs = append(pairs, "AVOCADO_SDK_REPO_RELEASE="+cfg.RepoRelease)
	}
	if len(cfg.DNFArgs) > 0 {
		pairs = append(pairs, "AVOCADO_DNF_ARGS="+strings.Join(cfg.DNFArgs, " "))
	}
	if cfg.Verbose {
		pairs = append(pairs, "AVOCADO_VERBOSE=1")
	}
	keys := make([]string, 0, len(cfg.Env))
	for k := range cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		pairs = append(pairs, k+"="+cfg.Env[k])
	}
	return pairs
}

// Run executes cfg. Foreground runs stream output and report whether the
// container exited zero. Detached runs print the new container id.
func (e *Executor) Run(ctx context.Context, cfg RunConfig) (bool, error) {
	if cfg.Detach {
		out, ok, err := e.run(ctx, cfg, true)
		if err != nil || !ok {
			return ok, err
		}
		fmt.Fprintf(e.stdout(), "Container started in detached mode with ID: %s\n", strings.TrimSpace(out))
		return true, nil
	}
	_, ok, err := e.run(ctx, cfg, false)
	return ok, err
}

// RunWithOutput executes cfg and returns its captured stdout.
func (e *Executor) RunWithOutput(ctx context.Context, cfg RunConfig) (string, bool, error) {
	return e.run(ctx, cfg, true)
}

func (e *Executor) run(ctx context.Context, cfg RunConfig, capture bool) (string, bool, error) {
	if cfg.Image == "" {
		return "", false, fmt.Errorf("no SDK image configured (set sdk.image)")
	}
	if cfg.Target == "" {
		return "", false, fmt.Errorf("no target resolved for container run")
	}
	st, err := e.Volume(ctx)
	if err != nil {
		return "", false, err
	}

	args := e.Args(cfg, st.VolumeName)
	e.logf("%s", runner.CommandLine(e.Tool, args))

	opts := runner.RunOptions{}
	switch {
	case capture:
		opts.Stderr = e.stderr()
	case cfg.Interactive:
		opts.Passthrough = true
	default:
		opts.Stdout = e.stdout()
		opts.Stderr = e.stderr()
	}

	res, err := e.Runner.Run(ctx, e.Tool, args, opts)
	if err != nil && !runner.IsExitError(err) {
		return "", false, fmt.Errorf("run %s: %w", e.Tool, err)
	}
	return string(res.Stdout), err == nil && res.Success(), nil
}
