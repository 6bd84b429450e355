package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigName is the manifest looked up when -C is not given.
const DefaultConfigName = "avocado.yaml"

// ProjectPaths captures canonical host-side locations for an avocado project.
type ProjectPaths struct {
	ConfigFile   string
	ConfigDir    string
	Root         string
	StateFile    string
	MetaDir      string
	ExtPathsFile string
	LogsDir      string
	LockFile     string
}

// Resolve determines the manifest location from the optional -C flag. A
// directory argument selects the default manifest inside it; an empty flag
// uses the current working directory.
func Resolve(configFlag string) (ProjectPaths, error) {
	var (
		file string
		err  error
	)

	if configFlag == "" {
		var cwd string
		cwd, err = os.Getwd()
		if err != nil {
			return ProjectPaths{}, fmt.Errorf("resolve working directory: %w", err)
		}
		file = filepath.Join(cwd, DefaultConfigName)
	} else {
		file, err = filepath.Abs(configFlag)
		if err != nil {
			return ProjectPaths{}, fmt.Errorf("resolve config path: %w", err)
		}
		if isDir, _ := DirExists(file); isDir {
			file = findManifest(file)
		}
	}

	dir := filepath.Dir(file)
	return WithRoot(ProjectPaths{ConfigFile: file, ConfigDir: dir}, dir), nil
}

// WithRoot points the project-local state files at root, the resolved
// src_dir of the manifest.
func WithRoot(pp ProjectPaths, root string) ProjectPaths {
	meta := filepath.Join(root, ".avocado")
	pp.Root = root
	pp.StateFile = filepath.Join(root, ".avocado-state")
	pp.MetaDir = meta
	pp.ExtPathsFile = filepath.Join(meta, "ext-paths.json")
	pp.LogsDir = filepath.Join(meta, "logs")
	pp.LockFile = filepath.Join(meta, "lock")
	return pp
}

func findManifest(dir string) string {
	for _, name := range []string{DefaultConfigName, "avocado.yml"} {
		candidate := filepath.Join(dir, name)
		if ok, _ := FileExists(candidate); ok {
			return candidate
		}
	}
	return filepath.Join(dir, DefaultConfigName)
}

// ResolveRelative joins value onto base unless value is already absolute.
func ResolveRelative(base, value string) string {
	if filepath.IsAbs(value) {
		return filepath.Clean(value)
	}
	return filepath.Join(base, value)
}

// EnsureMetaDirs creates the hidden .avocado metadata hierarchy.
func (p ProjectPaths) EnsureMetaDirs() error {
	for _, dir := range []string{p.MetaDir, p.LogsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// FileExists reports whether a path exists and is a regular file.
func FileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// DirExists reports whether a path exists and is a directory.
func DirExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}
