package extsrc

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"avocado/internal/config"
)

// VolumePrefix is where the project volume is mounted in containers.
const VolumePrefix = "/opt/_avocado"

// ScriptRunner executes shell bodies inside the SDK container.
type ScriptRunner interface {
	RunScript(ctx context.Context, script string) error
	ScriptOutput(ctx context.Context, script string) (string, error)
}

// Logger receives diagnostic messages.
type Logger interface {
	Printf(format string, v ...any)
}

// Fetcher materializes remote extension definitions.
type Fetcher struct {
	Scripts   ScriptRunner
	StateFile string
	Logger    Logger
}

func (f *Fetcher) logf(format string, v ...any) {
	if f.Logger != nil {
		f.Logger.Printf(format, v...)
	}
}

// Installed reports which of locs already have a definition available.
// Path sources count as installed once registered with an existing
// directory; package and git sources are checked inside the volume with a
// single container invocation.
func (f *Fetcher) Installed(ctx context.Context, locs []Location) (map[string]bool, error) {
	state, err := LoadPathState(f.StateFile)
	if err != nil {
		return nil, err
	}

	out := make(map[string]bool, len(locs))
	var pending []string
	for _, loc := range locs {
		if loc.Source == nil {
			continue
		}
		if loc.Source.Type == TypePath {
			if dir, ok := state.Lookup(loc.Name); ok && ManifestIn(dir) != "" {
				out[loc.Name] = true
			}
			continue
		}
		pending = append(pending, loc.Name)
	}
	if len(pending) == 0 {
		return out, nil
	}

	stdout, err := f.Scripts.ScriptOutput(ctx, InstalledCheckScript(pending))
	if err != nil {
		return nil, fmt.Errorf("check installed extensions: %w", err)
	}
	wanted := make(map[string]bool, len(pending))
	for _, name := range pending {
		wanted[name] = true
	}
	for _, line := range strings.Split(stdout, "\n") {
		name := strings.TrimSpace(line)
		if wanted[name] {
			out[name] = true
		}
	}
	return out, nil
}

// Fetch installs one remote extension. Path sources resolve against
// loc.SrcDir.
func (f *Fetcher) Fetch(ctx context.Context, loc Location) error {
	if loc.Source == nil {
		return fmt.Errorf("extension '%s' has no remote source", loc.Name)
	}
	intent, err := loc.Source.Resolve(loc.Name, loc.SrcDir)
	if err != nil {
		return err
	}

	if intent.HostPath != "" {
		state, err := LoadPathState(f.StateFile)
		if err != nil {
			return err
		}
		state.Register(loc.Name, intent.HostPath)
		if err := state.Save(f.StateFile); err != nil {
			return err
		}
		f.logf("registered path extension %s -> %s", loc.Name, intent.HostPath)
		return nil
	}

	f.logf("fetching extension %s from %s source", loc.Name, loc.Source.Type)
	if err := f.Scripts.RunScript(ctx, intent.Script); err != nil {
		return fmt.Errorf("failed to fetch extension '%s': %w", loc.Name, err)
	}
	return nil
}

// FetchAll fetches every location not yet installed, or all of them when
// force is set. It returns the names that were fetched.
func (f *Fetcher) FetchAll(ctx context.Context, locs []Location, force bool) ([]string, error) {
	installed := map[string]bool{}
	if !force {
		var err error
		installed, err = f.Installed(ctx, locs)
		if err != nil {
			return nil, err
		}
	}
	var fetched []string
	for _, loc := range locs {
		if installed[loc.Name] {
			f.logf("extension %s already installed", loc.Name)
			continue
		}
		if err := f.Fetch(ctx, loc); err != nil {
			return fetched, err
		}
		fetched = append(fetched, loc.Name)
	}
	return fetched, nil
}

// Forget drops a path-source registration, if any.
func (f *Fetcher) Forget(name string) error {
	state, err := LoadPathState(f.StateFile)
	if err != nil {
		return err
	}
	if !state.Remove(name) {
		return nil
	}
	return state.Save(f.StateFile)
}

// CleanScript removes a fetched definition from the volume.
func CleanScript(name string) string {
	return fmt.Sprintf("rm -rf \"%s\"\n", installPath(name))
}

// VolumeReader reads a file from the project volume. A missing file
// returns ok=false without error.
type VolumeReader interface {
	ReadVolumeFile(ctx context.Context, path string) (data []byte, ok bool, err error)
}

// NewInstalledReader returns the hook the config composer uses to merge
// installed remote manifests. Package and git definitions are read from the
// volume, falling back to a host copy under <rootDir>/.avocado/<target>/includes.
// Path definitions are read from the registered or declared host directory.
func NewInstalledReader(ctx context.Context, vr VolumeReader, stateFile, target, rootDir string) config.InstalledReader {
	return func(name string, ext config.Map, srcDir string) (*config.InstalledManifest, error) {
		src, err := ParseSource(name, ext)
		if err != nil || src == nil {
			return nil, err
		}

		if src.Type == TypePath {
			return readPathManifest(name, src, stateFile, srcDir)
		}

		if vr != nil && target != "" {
			base := path.Join(VolumePrefix, target, IncludesDir, name)
			for _, file := range []string{"avocado.yaml", "avocado.yml"} {
				p := path.Join(base, file)
				data, ok, err := vr.ReadVolumeFile(ctx, p)
				if err != nil {
					return nil, err
				}
				if ok {
					return &config.InstalledManifest{Path: p, Data: data, Include: src.Include}, nil
				}
			}
		}

		hostDir := filepath.Join(rootDir, ".avocado", target, IncludesDir, name)
		return readHostManifest(hostDir, src.Include)
	}
}

func readPathManifest(name string, src *Source, stateFile, srcDir string) (*config.InstalledManifest, error) {
	dir := ""
	if stateFile != "" {
		state, err := LoadPathState(stateFile)
		if err != nil {
			return nil, err
		}
		dir, _ = state.Lookup(name)
	}
	if dir == "" {
		resolved, err := ResolvePath(src.Path, srcDir)
		if err != nil {
			return nil, nil
		}
		dir = resolved
	}
	return readHostManifest(dir, src.Include)
}

func readHostManifest(dir string, include []string) (*config.InstalledManifest, error) {
	file := ManifestIn(dir)
	if file == "" {
		return nil, nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}
	return &config.InstalledManifest{Path: file, Data: data, Include: include}, nil
}
