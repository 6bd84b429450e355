package volume

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"avocado/internal/runner"
)

// ErrNotFound is returned when a volume is not known to the container tool.
var ErrNotFound = errors.New("volume not found")

// Logger receives diagnostic messages.
type Logger interface {
	Printf(format string, v ...any)
}

type noopLogger struct{}

func (noopLogger) Printf(string, ...any) {}

// Manager drives volume operations through the container tool CLI.
type Manager struct {
	Tool   string
	Runner runner.Runner
	Logger Logger
}

// NewManager returns a Manager; nil collaborators get defaults.
func NewManager(tool string, r runner.Runner, logger Logger) *Manager {
	if r == nil {
		r = runner.CmdRunner{}
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Manager{Tool: tool, Runner: r, Logger: logger}
}

func (m *Manager) logf(format string, v ...any) {
	if m.Logger != nil {
		m.Logger.Printf(format, v...)
	}
}

func (m *Manager) run(ctx context.Context, args ...string) (runner.RunResult, error) {
	m.logf("%s", runner.CommandLine(m.Tool, args))
	res, err := m.Runner.Run(ctx, m.Tool, args, runner.RunOptions{})
	if err != nil && !runner.IsExitError(err) {
		return res, fmt.Errorf("run %s: %w", m.Tool, err)
	}
	if res.ExitCode == 0 && err != nil {
		res.ExitCode = -1
	}
	return res, nil
}

// Exists reports whether the named volume is present.
func (m *Manager) Exists(ctx context.Context, name string) (bool, error) {
	res, err := m.run(ctx, "volume", "inspect", name)
	if err != nil {
		return false, fmt.Errorf("check volume %s: %w", name, err)
	}
	return res.Success(), nil
}

// Create creates the volume named by st, labeled with its source path.
func (m *Manager) Create(ctx context.Context, st State) error {
	res, err := m.run(ctx, "volume", "create", "--label", LabelSourcePath+"="+st.SourcePath, st.VolumeName)
	if err != nil {
		return fmt.Errorf("create volume %s: %w", st.VolumeName, err)
	}
	if !res.Success() {
		return fmt.Errorf("create volume %s: %s", st.VolumeName, strings.TrimSpace(string(res.Stderr)))
	}
	return nil
}

// Ensure returns the volume pinned by sourceDir's state file, provisioning a
// new volume and overwriting the state when the recorded one is gone.
func (m *Manager) Ensure(ctx context.Context, sourceDir string) (State, error) {
	existing, err := LoadFromDir(sourceDir)
	if err != nil {
		return State{}, err
	}
	if existing != nil {
		ok, err := m.Exists(ctx, existing.VolumeName)
		if err != nil {
			return State{}, err
		}
		if ok {
			m.logf("using existing volume %s", existing.VolumeName)
			return *existing, nil
		}
		m.logf("volume %s no longer exists, creating a new one", existing.VolumeName)
	}

	st := New(sourceDir, m.Tool)
	if err := m.Create(ctx, st); err != nil {
		return State{}, err
	}
	if err := SaveToDir(sourceDir, st); err != nil {
		return State{}, err
	}
	m.logf("created volume %s", st.VolumeName)
	return st, nil
}

// Remove deletes the named volume.
func (m *Manager) Remove(ctx context.Context, name string) error {
	res, err := m.run(ctx, "volume", "rm", name)
	if err != nil {
		return fmt.Errorf("remove volume %s: %w", name, err)
	}
	if !res.Success() {
		return fmt.Errorf("remove volume %s: %s", name, strings.TrimSpace(string(res.Stderr)))
	}
	return nil
}

// ForceRemove kills and removes every container using the volume, then the
// volume itself.
func (m *Manager) ForceRemove(ctx context.Context, name string) error {
	containers, err := m.Containers(ctx, name, false)
	if err != nil {
		return err
	}
	for _, id := range containers {
		_, _ = m.run(ctx, "kill", id)
		res, err := m.run(ctx, "rm", "-f", id)
		if err != nil {
			return fmt.Errorf("remove container %s: %w", id, err)
		}
		if res.Success() {
			m.logf("removed container %s", shortID(id))
		}
	}
	return m.Remove(ctx, name)
}

// Containers lists container IDs attached to the volume. With runningOnly
// stopped containers are omitted.
func (m *Manager) Containers(ctx context.Context, name string, runningOnly bool) ([]string, error) {
	args := []string{"ps"}
	if !runningOnly {
		args = append(args, "-a")
	}
	args = append(args, "--filter", "volume="+name, "--format", "{{.ID}}")
	res, err := m.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("list containers for %s: %w", name, err)
	}
	if !res.Success() {
		return nil, nil
	}
	return nonEmptyLines(string(res.Stdout)), nil
}

// List returns the names of all volumes known to the container tool.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	res, err := m.run(ctx, "volume", "ls", "--format", "{{.Name}}")
	if err != nil {
		return nil, fmt.Errorf("list volumes: %w", err)
	}
	if !res.Success() {
		return nil, fmt.Errorf("list volumes: %s", strings.TrimSpace(string(res.Stderr)))
	}
	return nonEmptyLines(string(res.Stdout)), nil
}

// Info is the subset of `volume inspect` output avocado reads.
type Info struct {
	Name       string            `json:"Name"`
	Driver     string            `json:"Driver"`
	Mountpoint string            `json:"Mountpoint"`
	Labels     map[string]string `json:"Labels"`
}

// Inspect returns volume metadata, or ErrNotFound.
func (m *Manager) Inspect(ctx context.Context, name string) (Info, error) {
	res, err := m.run(ctx, "volume", "inspect", name)
	if err != nil {
		return Info{}, fmt.Errorf("inspect volume %s: %w", name, err)
	}
	if !res.Success() {
		return Info{}, fmt.Errorf("inspect volume %s: %w", name, ErrNotFound)
	}
	var infos []Info
	if err := json.Unmarshal(res.Stdout, &infos); err != nil {
		return Info{}, fmt.Errorf("parse volume inspect output: %w", err)
	}
	if len(infos) == 0 {
		return Info{}, fmt.Errorf("inspect volume %s: %w", name, ErrNotFound)
	}
	return infos[0], nil
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
