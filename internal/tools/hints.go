package tools

import "runtime"

// InstallHints suggests how to obtain a missing tool on this host.
func InstallHints(tool string) []string {
	switch tool {
	case "docker", "podman":
		switch runtime.GOOS {
		case "darwin", "windows":
			return []string{"Install Docker Desktop or Podman Desktop and make sure the CLI is on PATH"}
		default:
			return []string{"Install docker or podman with your distro package manager, or set AVOCADO_CONTAINER_TOOL"}
		}
	case "ganesha.nfsd":
		if runtime.GOOS != "linux" {
			return []string{"Run `avocado hitl server` without --host; the SDK container ships NFS-Ganesha"}
		}
		return []string{"Install nfs-ganesha and nfs-ganesha-vfs, e.g. sudo dnf install nfs-ganesha nfs-ganesha-vfs"}
	default:
		return nil
	}
}
