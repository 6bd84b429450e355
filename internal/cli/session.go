package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/spf13/cobra"

	"avocado/internal/config"
	"avocado/internal/container"
	"avocado/internal/extsrc"
	"avocado/internal/lock"
	"avocado/internal/logx"
	"avocado/internal/output"
	"avocado/internal/paths"
	"avocado/internal/runner"
	"avocado/internal/stamps"
	"avocado/internal/tools"
	"avocado/internal/tui"
	"avocado/internal/volume"
)

// Overridden in tests.
var (
	newRunner           = func() runner.Runner { return runner.CmdRunner{} }
	selectContainerTool = func() (string, error) { return tools.Prober{}.SelectContainerTool() }
)

type sessionOptions struct {
	// needTarget fails the command when no target resolves.
	needTarget bool
	// lock takes the project lock for commands that mutate the volume.
	lock bool
}

// session is the state shared by every project command: the composed
// manifest, the resolved target and the container executor.
type session struct {
	paths    paths.ProjectPaths
	target   string
	printer  *output.Printer
	logger   *log.Logger
	exec     *container.Executor
	composed *config.Composed

	closers []io.Closer
	lock    *lock.Lock
}

func openSession(cmd *cobra.Command, opts sessionOptions) (*session, error) {
	pp, err := paths.Resolve(configPath)
	if err != nil {
		return nil, err
	}
	manifest, err := config.LoadManifest(pp.ConfigFile)
	if err != nil {
		return nil, err
	}

	target, err := config.ResolveTarget(targetFlag, manifest.Raw)
	if err != nil && (opts.needTarget || !errors.Is(err, config.ErrNoTarget)) {
		return nil, err
	}

	pp = paths.WithRoot(pp, manifest.SrcDir())
	if err := pp.EnsureMetaDirs(); err != nil {
		return nil, err
	}
	logger, closer, err := logx.New(pp)
	if err != nil {
		return nil, err
	}
	s := &session{
		paths:   pp,
		target:  target,
		printer: output.New(cmd.OutOrStdout(), cmd.ErrOrStderr(), verbose),
		logger:  logger,
		closers: []io.Closer{closer},
	}
	logger.Printf("avocado %s: config=%s target=%s", cmd.CommandPath(), pp.ConfigFile, target)

	if err := s.init(cmd.Context(), opts); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) init(ctx context.Context, opts sessionOptions) error {
	tool, err := selectContainerTool()
	if err != nil {
		return err
	}
	r := newRunner()
	s.exec = container.NewExecutor(tool, s.paths.Root, s.logger)
	s.exec.Runner = r
	s.exec.Volumes = volume.NewManager(tool, r, s.logger)
	s.exec.Stdout = s.printer.Out()

	state, err := extsrc.LoadPathState(s.paths.ExtPathsFile)
	if err != nil {
		return err
	}
	if names := state.Names(); len(names) > 0 {
		s.exec.PathMounts = make(map[string]string, len(names))
		for _, name := range names {
			dir, _ := state.Lookup(name)
			s.exec.PathMounts[name] = dir
		}
	}

	// Composition may read the volume, so the lock comes first.
	if opts.lock {
		l, err := lock.Acquire(s.paths.LockFile, s.paths.Root)
		if err != nil {
			return err
		}
		s.lock = l
	}

	if err := s.reload(ctx); err != nil {
		return err
	}
	if s.target != "" {
		if err := config.CheckTarget(s.composed.Raw, s.target); err != nil {
			return err
		}
	}
	return nil
}

// reload recomposes the manifest, picking up remote extensions fetched
// since the session opened.
func (s *session) reload(ctx context.Context) error {
	composer := config.NewComposer(s.printer)
	composer.Strict = strict
	composer.Installed = extsrc.NewInstalledReader(ctx, s.exec, s.paths.ExtPathsFile, s.target, s.paths.Root)
	composed, err := composer.Load(s.paths.ConfigFile, s.target)
	if err != nil {
		return err
	}
	s.composed = composed
	s.logger.Printf("composed %s: %d extensions, %d runtimes", composed.Path, len(composed.ExtNames()), len(composed.RuntimeNames()))
	return nil
}

// Close releases the project lock and the log file.
func (s *session) Close() {
	if s.lock != nil {
		if err := s.lock.Release(); err != nil {
			s.logger.Printf("release lock: %v", err)
		}
	}
	for _, c := range s.closers {
		_ = c.Close()
	}
}

func (s *session) config() config.Config { return s.composed.Config }

// runConfig returns the default SDK container invocation for command.
func (s *session) runConfig(command string) container.RunConfig {
	sdk := s.config().SDK
	return container.RunConfig{
		Image:             sdk.Image,
		Target:            s.target,
		Command:           command,
		Verbose:           verbose,
		SourceEnvironment: true,
		Rm:                true,
		RepoURL:           sdk.RepoURL,
		RepoRelease:       sdk.RepoRelease,
		ContainerArgs:     s.config().ContainerArgsFor(containerArgs),
		DNFArgs:           dnfArgs,
		SDKArch:           sdkArch,
	}
}

// run executes cfg and turns a failed container into an error carrying
// failure.
func (s *session) run(ctx context.Context, cfg container.RunConfig, failure string) error {
	ok, err := s.exec.Run(ctx, cfg)
	if err != nil {
		return fmt.Errorf("%s: %w", failure, err)
	}
	if !ok {
		return errors.New(failure)
	}
	return nil
}

// RunScript implements extsrc.ScriptRunner.
func (s *session) RunScript(ctx context.Context, script string) error {
	return s.run(ctx, s.runConfig(script), "container command failed")
}

// ScriptOutput implements extsrc.ScriptRunner.
func (s *session) ScriptOutput(ctx context.Context, script string) (string, error) {
	cfg := s.runConfig(script)
	cfg.SourceEnvironment = false
	out, ok, err := s.exec.RunWithOutput(ctx, cfg)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.New("container command failed")
	}
	return out, nil
}

var _ extsrc.ScriptRunner = (*session)(nil)

// requireStamps validates reqs for operation with a single batch read of
// the volume. Missing and stale predecessors come back together as a
// *stamps.ValidationError.
func (s *session) requireStamps(ctx context.Context, operation string, reqs []stamps.Requirement) error {
	if noStamps || len(reqs) == 0 {
		return nil
	}

	status := tui.NewStatus(s.printer.Out(), tui.DetectMode(s.printer.Out(), verbose))
	status.Update("Checking prerequisites for " + operation)
	out, err := s.ScriptOutput(ctx, stamps.BatchReadScript(reqs))
	status.Stop()
	if err != nil {
		return fmt.Errorf("read stamps: %w", err)
	}

	current, err := stamps.CurrentInputs(s.composed, reqs)
	if err != nil {
		return err
	}
	result := stamps.Validate(reqs, stamps.ParseBatchOutput(out), current)
	s.logger.Printf("stamps for %s: %d satisfied, %d missing, %d stale", operation, len(result.Satisfied), len(result.Missing), len(result.Stale))
	return result.Err(operation)
}

// withStamp appends the stamp write for req to command so the stamp is
// only recorded when command succeeds in the same container.
func (s *session) withStamp(command string, req stamps.Requirement) (string, error) {
	if noStamps {
		return command, nil
	}
	inputs, err := stamps.InputsFor(s.composed, req)
	if err != nil {
		return "", err
	}
	script, err := stamps.WriteScript(stamps.New(req, s.target, inputs, version))
	if err != nil {
		return "", err
	}
	return command + "\n" + script, nil
}

// fetcher returns the remote extension fetcher bound to this session.
func (s *session) fetcher() *extsrc.Fetcher {
	return &extsrc.Fetcher{Scripts: s, StateFile: s.paths.ExtPathsFile, Logger: s.logger}
}

func (s *session) requireExt(name string) error {
	if name == "" {
		return errors.New("an extension is required (-e/--extension)")
	}
	if !s.composed.HasExt(name) {
		return fmt.Errorf("extension '%s' not found in configuration", name)
	}
	return nil
}

func (s *session) requireRuntime(name string) error {
	if name == "" {
		return errors.New("a runtime is required (-r/--runtime)")
	}
	for _, rt := range s.composed.RuntimeNames() {
		if rt == name {
			return nil
		}
	}
	return fmt.Errorf("runtime '%s' not found in configuration", name)
}
