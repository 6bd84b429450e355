// Package volume pins a project to a persistent container volume.
package volume

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const (
	// StateFileName is written at the root of the project's src_dir.
	StateFileName = ".avocado-state"
	// LabelSourcePath names the label every avocado volume carries.
	LabelSourcePath = "avocado.source_path"
	// NamePrefix prefixes generated volume names.
	NamePrefix = "avo-"
)

// State records which volume belongs to a source directory.
type State struct {
	VolumeName    string `json:"volume_name"`
	SourcePath    string `json:"source_path"`
	ContainerTool string `json:"container_tool"`
}

// New builds a state with a freshly generated volume name.
func New(sourcePath, containerTool string) State {
	return State{
		VolumeName:    NamePrefix + uuid.NewString(),
		SourcePath:    sourcePath,
		ContainerTool: containerTool,
	}
}

// LoadFromDir reads dir/.avocado-state. A missing file returns nil without
// error; a malformed one is an error.
func LoadFromDir(dir string) (*State, error) {
	path := filepath.Join(dir, StateFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read volume state %s: %w", path, err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse volume state %s: %w", path, err)
	}
	if st.VolumeName == "" {
		return nil, fmt.Errorf("parse volume state %s: missing volume_name", path)
	}
	return &st, nil
}

// SaveToDir writes the state atomically to dir/.avocado-state.
func SaveToDir(dir string, st State) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure state directory: %w", err)
	}

	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode volume state: %w", err)
	}

	path := filepath.Join(dir, StateFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write volume state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace volume state: %w", err)
	}
	return nil
}

// RemoveFromDir deletes dir/.avocado-state if present.
func RemoveFromDir(dir string) error {
	err := os.Remove(filepath.Join(dir, StateFileName))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove volume state: %w", err)
	}
	return nil
}
