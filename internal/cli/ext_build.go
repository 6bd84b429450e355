package cli

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"avocado/internal/config"
	"avocado/internal/container"
	"avocado/internal/deps"
	"avocado/internal/extsrc"
	"avocado/internal/paths"
	"avocado/internal/scripts"
	"avocado/internal/stamps"
)

var (
	packageOut    string
	packageSource bool
	checkoutExt   string
	checkoutDest  string
)

func newExtBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build -e <name>",
		Short: "Build the sysext and/or confext sysroot of an extension",
		Args:  cobra.NoArgs,
		RunE:  runExtBuild,
	}
	cmd.Flags().StringVarP(&extName, "extension", "e", "", "Extension name")
	return cmd
}

func newExtImageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "image -e <name>",
		Short: "Pack a built extension into a squashfs image",
		Args:  cobra.NoArgs,
		RunE:  runExtImage,
	}
	cmd.Flags().StringVarP(&extName, "extension", "e", "", "Extension name")
	return cmd
}

func newExtPackageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "package -e <name>",
		Short: "Package an extension as an RPM",
		Args:  cobra.NoArgs,
		RunE:  runExtPackage,
	}
	cmd.Flags().StringVarP(&extName, "extension", "e", "", "Extension name")
	cmd.Flags().StringVar(&packageOut, "out", "", "Copy the produced RPMs to this host directory")
	cmd.Flags().BoolVar(&packageSource, "source", false, "Package the extension's source tree instead of its sysroot")
	return cmd
}

func newExtCheckoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkout -e <name> --ext-path <path>",
		Short: "Copy files out of an extension sysroot to the host",
		Args:  cobra.NoArgs,
		RunE:  runExtCheckout,
	}
	cmd.Flags().StringVarP(&extName, "extension", "e", "", "Extension name")
	cmd.Flags().StringVar(&checkoutExt, "ext-path", "", "Path inside the extension sysroot")
	cmd.Flags().StringVar(&checkoutDest, "src-path", ".", "Host destination directory")
	return cmd
}

// extBuildScript renders the build of every type of ext. Users and groups
// are provisioned in the confext pass when there is one; on-merge entries
// attach to the sysext release file when there is one.
func extBuildScript(s *session, ext config.Extension) (string, error) {
	overlay := ""
	if ext.Overlay != nil {
		host := s.composed.ResolveExtPath(ext.Name, ext.Overlay.Dir)
		if ok, _ := paths.DirExists(host); !ok {
			return "", fmt.Errorf("ext.%s.overlay: directory %s does not exist", ext.Name, host)
		}
		p, err := s.exec.ContainerPath(host)
		if err != nil {
			return "", fmt.Errorf("ext.%s.overlay: %w", ext.Name, err)
		}
		overlay = p
	}

	bl := scripts.NewBuilder()
	for _, kind := range ext.Types {
		opts := scripts.ExtBuildOptions{
			OverlayDir: overlay,
			Users:      kind == config.Confext || !ext.Has(config.Confext),
			OnMerge:    kind == config.Sysext || !ext.Has(config.Sysext),
		}
		body, err := scripts.ExtBuild(ext, kind, opts)
		if err != nil {
			return "", err
		}
		bl.Section(kind)
		bl.Raw(body)
	}
	return bl.String(), nil
}

func runExtBuild(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd, sessionOptions{needTarget: true, lock: true})
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := cmd.Context()

	if err := s.requireExt(extName); err != nil {
		return err
	}
	reqs, err := deps.For(deps.ExtBuild, extName)
	if err != nil {
		return err
	}
	if err := s.requireStamps(ctx, string(deps.ExtBuild), reqs); err != nil {
		return err
	}
	return buildExt(ctx, s, extName)
}

func buildExt(ctx context.Context, s *session, name string) error {
	ext, err := s.composed.Extension(name)
	if err != nil {
		return err
	}
	s.printer.Info("Building extension '%s' (%s).", ext.Name, strings.Join(ext.Types, ", "))
	script, err := extBuildScript(s, ext)
	if err != nil {
		return err
	}
	if script, err = s.withStamp(script, stamps.ExtBuild(ext.Name)); err != nil {
		return err
	}
	if err := s.run(ctx, s.runConfig(script), fmt.Sprintf("Failed to build extension '%s'", ext.Name)); err != nil {
		return err
	}
	s.printer.Success("Built extension '%s' version %s.", ext.Name, ext.Version)
	return nil
}

func runExtImage(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd, sessionOptions{needTarget: true, lock: true})
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := cmd.Context()

	if err := s.requireExt(extName); err != nil {
		return err
	}
	reqs, err := deps.For(deps.ExtImage, extName)
	if err != nil {
		return err
	}
	if err := s.requireStamps(ctx, string(deps.ExtImage), reqs); err != nil {
		return err
	}
	return imageExt(ctx, s, extName)
}

func imageExt(ctx context.Context, s *session, name string) error {
	ext, err := s.composed.Extension(name)
	if err != nil {
		return err
	}
	script, err := s.withStamp(scripts.ExtImage(ext.Name, ext.Version), stamps.ExtImage(ext.Name))
	if err != nil {
		return err
	}
	if err := s.run(ctx, s.runConfig(script), fmt.Sprintf("Failed to create image for extension '%s'", ext.Name)); err != nil {
		return err
	}
	s.printer.Success("Created image for extension '%s'.", ext.Name)
	return nil
}

// extPackages returns the main package of ext and, when the extension
// declares SDK dependencies, its dependency-only nativesdk package.
func extPackages(s *session, ext config.Extension) ([]scripts.RPMPackage, error) {
	if err := config.ValidateSemver(ext.Version); err != nil {
		return nil, fmt.Errorf("ext.%s.version: %w", ext.Name, err)
	}
	pkg := scripts.RPMPackage{
		Name:    ext.Name,
		Version: ext.Version,
		Arch:    scripts.RPMArch(s.target),
		Meta:    ext.Package,
		Payload: scripts.PayloadSysroot,
	}
	if packageSource {
		dir := s.composed.ExtManifest(ext.Name).Dir()
		if extsrc.ManifestIn(dir) == "" {
			return nil, fmt.Errorf("no avocado.yaml found in %s; source packages must carry their manifest", dir)
		}
		p, err := s.exec.ContainerPath(dir)
		if err != nil {
			return nil, err
		}
		pkg.Payload = scripts.PayloadSource
		pkg.SourceDir = p
	}
	pkgs := []scripts.RPMPackage{pkg}

	if requires := scripts.Requires(s.composed.ExtSDKDependencies(ext.Name)); len(requires) > 0 {
		pkgs = append(pkgs, scripts.RPMPackage{
			Name:     "nativesdk-" + ext.Name,
			Version:  ext.Version,
			Arch:     scripts.SDKPackageArch,
			Meta:     ext.Package,
			Payload:  scripts.PayloadNone,
			Requires: requires,
		})
	}
	return pkgs, nil
}

func runExtPackage(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd, sessionOptions{needTarget: true, lock: true})
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := cmd.Context()

	if err := s.requireExt(extName); err != nil {
		return err
	}
	if !packageSource {
		reqs, err := deps.For(deps.ExtPackage, extName)
		if err != nil {
			return err
		}
		if err := s.requireStamps(ctx, string(deps.ExtPackage), reqs); err != nil {
			return err
		}
	}

	ext, err := s.composed.Extension(extName)
	if err != nil {
		return err
	}
	pkgs, err := extPackages(s, ext)
	if err != nil {
		return err
	}
	bl := scripts.NewBuilder()
	for _, p := range pkgs {
		bl.Section("rpm: " + p.Name)
		bl.Raw(p.Build())
	}
	if err := s.run(ctx, s.runConfig(bl.String()), fmt.Sprintf("Failed to package extension '%s'", ext.Name)); err != nil {
		return err
	}

	if packageOut != "" {
		if err := copyPackagesOut(cmd, s, pkgs); err != nil {
			return err
		}
	}
	for _, p := range pkgs {
		s.printer.Success("Created package %s.", p.FileName())
	}
	return nil
}

func copyPackagesOut(cmd *cobra.Command, s *session, pkgs []scripts.RPMPackage) error {
	dest, err := filepath.Abs(packageOut)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	sdk := s.config().SDK
	owner := container.ResolveOwner(sdk.HostUID, sdk.HostGID)
	for _, p := range pkgs {
		src := path.Join(container.VolumeMount, s.target, "output", "extensions", p.FileName())
		if err := s.exec.CopyOut(cmd.Context(), sdk.Image, src, filepath.Join(dest, p.FileName()), owner); err != nil {
			return err
		}
	}
	s.printer.Info("Copied %d package(s) to %s.", len(pkgs), dest)
	return nil
}

func runExtCheckout(cmd *cobra.Command, _ []string) error {
	if checkoutExt == "" {
		return fmt.Errorf("--ext-path is required")
	}
	s, err := openSession(cmd, sessionOptions{needTarget: true, lock: true})
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := cmd.Context()

	if err := s.requireExt(extName); err != nil {
		return err
	}
	reqs, err := deps.For(deps.ExtCheckout, extName)
	if err != nil {
		return err
	}
	if err := s.requireStamps(ctx, string(deps.ExtCheckout), reqs); err != nil {
		return err
	}

	src := path.Join(container.VolumeMount, s.target, "extensions", extName, path.Clean("/"+checkoutExt))
	dest, err := filepath.Abs(checkoutDest)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	sdk := s.config().SDK
	owner := container.ResolveOwner(sdk.HostUID, sdk.HostGID)
	if err := s.exec.CopyOut(ctx, sdk.Image, src, dest, owner); err != nil {
		return fmt.Errorf("check out %s from extension '%s': %w", checkoutExt, extName, err)
	}
	s.printer.Success("Checked out %s from extension '%s' to %s.", checkoutExt, extName, dest)
	return nil
}
