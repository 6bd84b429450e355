// Package tools locates the external programs avocado shells out to.
package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"avocado/internal/runner"
)

// ToolInfo captures availability and version details for an external tool.
type ToolInfo struct {
	Name      string   `json:"name"`
	Path      string   `json:"path,omitempty"`
	Version   string   `json:"version,omitempty"`
	Available bool     `json:"available"`
	Error     string   `json:"error,omitempty"`
	Hints     []string `json:"hints,omitempty"`
}

// Prober resolves tools on PATH and reads their versions.
type Prober struct {
	Runner runner.Runner
	// LookPath defaults to exec.LookPath.
	LookPath func(string) (string, error)
}

func (p Prober) lookPath(name string) (string, error) {
	if p.LookPath != nil {
		return p.LookPath(name)
	}
	return exec.LookPath(name)
}

func (p Prober) runner() runner.Runner {
	if p.Runner != nil {
		return p.Runner
	}
	return runner.CmdRunner{}
}

// Probe discovers every known tool.
func (p Prober) Probe(ctx context.Context) map[string]ToolInfo {
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}

	names := KnownTools()
	result := make(map[string]ToolInfo, len(names))
	for _, name := range names {
		result[name] = p.ProbeOne(ctx, name)
	}
	return result
}

// ProbeOne discovers a single tool.
func (p Prober) ProbeOne(ctx context.Context, name string) ToolInfo {
	def, ok := Lookup(name)
	if !ok {
		return ToolInfo{Name: name, Error: "unknown tool"}
	}
	path, err := p.lookPath(executableName(name))
	if err != nil {
		info := ToolInfo{Name: name, Error: err.Error(), Hints: InstallHints(name)}
		if errors.Is(err, exec.ErrNotFound) {
			info.Error = "not found"
		}
		return info
	}

	res, err := p.runner().Run(ctx, path, def.VersionSwitch, runner.RunOptions{})
	if err != nil {
		return ToolInfo{Name: name, Path: path, Available: true, Error: fmt.Sprintf("read version: %v", err)}
	}
	out := string(res.Stdout)
	if out == "" {
		out = string(res.Stderr)
	}
	return ToolInfo{Name: name, Path: path, Version: normalizeVersion(out), Available: true}
}

// ContainerToolEnv overrides container tool selection.
const ContainerToolEnv = "AVOCADO_CONTAINER_TOOL"

// SelectContainerTool returns AVOCADO_CONTAINER_TOOL when set, else docker,
// else podman when only podman is installed.
func (p Prober) SelectContainerTool() (string, error) {
	if tool := os.Getenv(ContainerToolEnv); tool != "" {
		return tool, nil
	}
	for _, name := range []string{"docker", "podman"} {
		if _, err := p.lookPath(executableName(name)); err == nil {
			return name, nil
		}
	}
	return "", errors.New("no container tool found: install docker or podman, or set " + ContainerToolEnv)
}
