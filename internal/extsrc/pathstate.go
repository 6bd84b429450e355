package extsrc

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// PathState maps path-source extensions to the host directories that get
// bind-mounted into the SDK container. It is stored as
// .avocado/ext-paths.json under the project src_dir.
type PathState struct {
	PathMounts map[string]string `json:"path_mounts"`
}

// LoadPathState reads the state file at path. A missing file yields an
// empty state.
func LoadPathState(path string) (*PathState, error) {
	st := &PathState{PathMounts: map[string]string{}}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return st, nil
		}
		return nil, fmt.Errorf("read extension path state %s: %w", path, err)
	}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("parse extension path state %s: %w", path, err)
	}
	if st.PathMounts == nil {
		st.PathMounts = map[string]string{}
	}
	return st, nil
}

// Save writes the state to path, creating parent directories.
func (s *PathState) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode extension path state: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write extension path state %s: %w", path, err)
	}
	return nil
}

// Register records hostPath as the mount source for name.
func (s *PathState) Register(name, hostPath string) {
	if s.PathMounts == nil {
		s.PathMounts = map[string]string{}
	}
	s.PathMounts[name] = hostPath
}

// Remove forgets name and reports whether it was present.
func (s *PathState) Remove(name string) bool {
	if _, ok := s.PathMounts[name]; !ok {
		return false
	}
	delete(s.PathMounts, name)
	return true
}

// Lookup returns the registered host path for name.
func (s *PathState) Lookup(name string) (string, bool) {
	p, ok := s.PathMounts[name]
	return p, ok
}

// Names returns the registered extension names in order.
func (s *PathState) Names() []string {
	names := make([]string, 0, len(s.PathMounts))
	for name := range s.PathMounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
