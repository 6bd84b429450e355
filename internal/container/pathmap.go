package container

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// ContainerPath maps a host path into the container. Paths under src_dir
// land under /opt/src; paths inside a mounted path-source extension land
// under its /mnt/ext mount. Relative paths are taken as relative to
// src_dir.
func (e *Executor) ContainerPath(hostPath string) (string, error) {
	if !filepath.IsAbs(hostPath) {
		hostPath = filepath.Join(e.SrcDir, hostPath)
	}
	hostPath = filepath.Clean(hostPath)

	if rel, ok := within(e.SrcDir, hostPath); ok {
		return path.Join(SrcMount, rel), nil
	}
	for _, name := range e.pathExtNames() {
		if rel, ok := within(e.PathMounts[name], hostPath); ok {
			return path.Join(ExtMountRoot, name, rel), nil
		}
	}
	return "", fmt.Errorf("path %s is not visible inside the SDK container", hostPath)
}

func within(root, p string) (string, bool) {
	if root == "" {
		return "", false
	}
	rel, err := filepath.Rel(filepath.Clean(root), p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
