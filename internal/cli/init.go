package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"avocado/internal/config"
	"avocado/internal/paths"
)

const manifestTemplate = `default_target: "{target}"
supported_targets:
  - "{target}"

sdk:
  image: docker.io/avocadolinux/sdk:apollo-edge
  dependencies:
    avocado-sdk-toolchain: "*"

runtime:
  dev:
    dependencies:
      avocado-img-bootfiles: "*"
      avocado-img-rootfs: "*"
      avocado-img-initramfs: "*"
      app:
        ext: app
      config:
        ext: config
      avocado-ext-dev:
        ext: avocado-ext-dev
        vsn: "*"

ext:
  app:
    types: [sysext, confext]
    version: "0.1.0"
  config:
    types: [confext]
    version: "0.1.0"
`

var targetName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [directory]",
		Short: "Write a starter avocado.yaml",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runInit,
	}
}

// hostTarget maps the host architecture to its QEMU target.
func hostTarget() string {
	if runtime.GOARCH == "arm64" {
		return "qemuarm64"
	}
	return "qemux86-64"
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	target, err := config.ResolveTarget(targetFlag, nil)
	if errors.Is(err, config.ErrNoTarget) {
		target = hostTarget()
	} else if err != nil {
		return err
	}
	if !targetName.MatchString(target) {
		return fmt.Errorf("invalid target name '%s'", target)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	for _, name := range []string{paths.DefaultConfigName, "avocado.yml"} {
		existing := filepath.Join(dir, name)
		if ok, _ := paths.FileExists(existing); ok {
			return fmt.Errorf("configuration file %s already exists", existing)
		}
	}

	file, err := filepath.Abs(filepath.Join(dir, paths.DefaultConfigName))
	if err != nil {
		return err
	}
	doc := strings.ReplaceAll(manifestTemplate, "{target}", target)
	if err := os.WriteFile(file, []byte(doc), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", file, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created %s for target '%s'.\n", file, target)
	return nil
}
