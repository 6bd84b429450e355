package container

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"avocado/internal/runner"
	"avocado/internal/volume"
)

// HelperImage backs throwaway containers that only touch the volume.
const HelperImage = "busybox:latest"

func runnerOpts() runner.RunOptions { return runner.RunOptions{} }

func (e *Executor) tool(ctx context.Context, args ...string) (runner.RunResult, error) {
	e.logf("%s", runner.CommandLine(e.Tool, args))
	res, err := e.Runner.Run(ctx, e.Tool, args, runnerOpts())
	if err != nil && !runner.IsExitError(err) {
		return res, fmt.Errorf("run %s: %w", e.Tool, err)
	}
	if err != nil {
		return res, fmt.Errorf("%s %s: %s", e.Tool, args[0], strings.TrimSpace(string(res.Stderr)))
	}
	return res, nil
}

// throwaway creates a stopped container with the volume mounted and
// returns its name and a cleanup func.
func (e *Executor) throwaway(ctx context.Context, image string, readOnly bool) (string, func(), error) {
	st, err := e.Volume(ctx)
	if err != nil {
		return "", nil, err
	}
	mode := "rw"
	if readOnly {
		mode = "ro"
	}
	name := "avocado-copy-" + uuid.NewString()[:8]
	if _, err := e.tool(ctx, "create", "--name", name, "-v", st.VolumeName+":"+VolumeMount+":"+mode, image, "true"); err != nil {
		return "", nil, fmt.Errorf("create helper container: %w", err)
	}
	cleanup := func() {
		_, _ = e.tool(context.WithoutCancel(ctx), "rm", "-f", name)
	}
	return name, cleanup, nil
}

// CopyOut copies containerPath (inside /opt/_avocado) to hostDest. When
// owner is non-nil the copy is chowned to it afterwards.
func (e *Executor) CopyOut(ctx context.Context, image, containerPath, hostDest string, owner *Owner) error {
	name, cleanup, err := e.throwaway(ctx, image, true)
	if err != nil {
		return err
	}
	defer cleanup()

	if _, err := e.tool(ctx, "cp", name+":"+containerPath, hostDest); err != nil {
		return fmt.Errorf("copy %s to %s: %w", containerPath, hostDest, err)
	}
	if owner != nil {
		return e.Chown(ctx, hostDest, *owner)
	}
	return nil
}

// CopyIn copies hostSrc into the volume at containerPath.
func (e *Executor) CopyIn(ctx context.Context, image, hostSrc, containerPath string) error {
	name, cleanup, err := e.throwaway(ctx, image, false)
	if err != nil {
		return err
	}
	defer cleanup()

	if _, err := e.tool(ctx, "cp", hostSrc, name+":"+containerPath); err != nil {
		return fmt.Errorf("copy %s into the volume: %w", hostSrc, err)
	}
	return nil
}

// ReadVolumeFile returns the contents of p inside the volume. A missing
// project volume or file reports ok=false.
func (e *Executor) ReadVolumeFile(ctx context.Context, p string) ([]byte, bool, error) {
	if !strings.HasPrefix(path.Clean(p), VolumeMount+"/") {
		return nil, false, fmt.Errorf("path %s is outside the volume", p)
	}
	st, err := volume.LoadFromDir(e.SrcDir)
	if err != nil || st == nil {
		return nil, false, err
	}
	exists, err := e.Volumes.Exists(ctx, st.VolumeName)
	if err != nil || !exists {
		return nil, false, err
	}

	args := []string{"run", "--rm", "-v", st.VolumeName + ":" + VolumeMount + ":ro", HelperImage, "cat", p}
	e.logf("%s", runner.CommandLine(e.Tool, args))
	res, err := e.Runner.Run(ctx, e.Tool, args, runnerOpts())
	if err != nil {
		if runner.IsExitError(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("run %s: %w", e.Tool, err)
	}
	return res.Stdout, true, nil
}
