package container

import (
	"context"
	"runtime"
	"strings"
)

// HostPlatform names the host OS as exported in AVOCADO_HOST_PLATFORM.
func HostPlatform() string {
	switch runtime.GOOS {
	case "linux":
		return "linux"
	case "darwin":
		return "macos"
	case "windows":
		return "windows"
	default:
		return "unknown"
	}
}

// Platform maps an SDK architecture to a container --platform value.
func Platform(arch string) string {
	switch arch {
	case "x86_64", "amd64":
		return "linux/amd64"
	case "aarch64", "arm64":
		return "linux/arm64"
	case "armv7", "armv7l", "arm":
		return "linux/arm/v7"
	case "riscv64":
		return "linux/riscv64"
	default:
		if strings.Contains(arch, "/") {
			return arch
		}
		return "linux/" + arch
	}
}

// IsDockerDesktop reports whether containers run inside a VM where
// --net=host does not reach the host network. Non-Linux hosts always do;
// on Linux the engine is asked for its operating system.
func (e *Executor) IsDockerDesktop(ctx context.Context) bool {
	if runtime.GOOS != "linux" {
		return true
	}
	res, err := e.Runner.Run(ctx, e.Tool, []string{"info", "--format", "{{.OperatingSystem}}"}, runnerOpts())
	if err != nil {
		return false
	}
	return strings.Contains(string(res.Stdout), "Docker Desktop")
}
