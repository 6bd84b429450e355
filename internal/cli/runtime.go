package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"avocado/internal/deps"
	"avocado/internal/paths"
	"avocado/internal/scripts"
	"avocado/internal/stamps"
)

var (
	runtimeName      string
	provisionProfile string
)

func newRuntimeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runtime",
		Short: "Install, build, sign and provision runtimes",
	}

	subs := []*cobra.Command{
		{
			Use:   "install -r <name>",
			Short: "Install runtime dependencies",
			Args:  cobra.NoArgs,
			RunE:  runRuntimeInstall,
		},
		{
			Use:   "build -r <name>",
			Short: "Assemble a runtime from its extension images",
			Args:  cobra.NoArgs,
			RunE:  runRuntimeBuild,
		},
		{
			Use:   "sign -r <name>",
			Short: "Write checksum manifests for a runtime's images",
			Args:  cobra.NoArgs,
			RunE:  runRuntimeSign,
		},
		{
			Use:   "provision -r <name>",
			Short: "Run the SDK provision hook for a runtime",
			Args:  cobra.NoArgs,
			RunE:  runRuntimeProvision,
		},
		{
			Use:   "dnf -r <name> -- <args>",
			Short: "Run DNF against a runtime sysroot",
			Args:  cobra.MinimumNArgs(1),
			RunE:  runRuntimeDNF,
		},
		{
			Use:   "clean -r <name>",
			Short: "Remove a runtime's sysroot, output and stamps",
			Args:  cobra.NoArgs,
			RunE:  runRuntimeClean,
		},
		{
			Use:   "deps -r <name>",
			Short: "List a runtime's extension and package dependencies",
			Args:  cobra.NoArgs,
			RunE:  runRuntimeDeps,
		},
	}
	for _, sub := range subs {
		sub.Flags().StringVarP(&runtimeName, "runtime", "r", "", "Runtime name")
		cmd.AddCommand(sub)
	}
	subs[3].Flags().StringVar(&provisionProfile, "profile", "", "Provision profile from the provision section")
	return cmd
}

// openRuntime opens a locked session and checks that the -r runtime exists.
func openRuntime(cmd *cobra.Command) (*session, error) {
	s, err := openSession(cmd, sessionOptions{needTarget: true, lock: true})
	if err != nil {
		return nil, err
	}
	if err := s.requireRuntime(runtimeName); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func runtimeInstallScript(s *session, name string) string {
	pkgs := scripts.PackageList(s.composed.RuntimeDependencies(name))
	versioned := map[string]string{}
	for _, d := range deps.RuntimeExtDeps(s.composed, name) {
		if !d.Built() {
			versioned[d.Name] = d.Version
		}
	}
	pkgs = append(pkgs, scripts.VersionedPackages(versioned)...)
	return scripts.RuntimeInstall(name, pkgs, installOptions(s))
}

func runRuntimeInstall(cmd *cobra.Command, _ []string) error {
	s, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := cmd.Context()

	reqs, err := deps.For(deps.RuntimeInstall, runtimeName)
	if err != nil {
		return err
	}
	if err := s.requireStamps(ctx, string(deps.RuntimeInstall), reqs); err != nil {
		return err
	}
	return installRuntime(ctx, s, runtimeName)
}

func installRuntime(ctx context.Context, s *session, name string) error {
	script, err := s.withStamp(runtimeInstallScript(s, name), stamps.RuntimeInstall(name))
	if err != nil {
		return err
	}
	if err := s.run(ctx, s.runConfig(script), fmt.Sprintf("Failed to install dependencies for runtime '%s'", name)); err != nil {
		return err
	}
	s.printer.Success("Installed dependencies for runtime '%s'.", name)
	return nil
}

// runtimeImages lists the extension images placed into a runtime.
func runtimeImages(s *session, ds []deps.RuntimeExtDep) ([]scripts.RuntimeImage, error) {
	images := make([]scripts.RuntimeImage, 0, len(ds))
	for _, d := range ds {
		if !d.Built() {
			images = append(images, scripts.RuntimeImage{Name: d.Name, Version: d.Version, Installed: true})
			continue
		}
		ext, err := s.composed.Extension(d.Name)
		if err != nil {
			return nil, err
		}
		images = append(images, scripts.RuntimeImage{Name: ext.Name, Version: ext.Version})
	}
	return images, nil
}

func runRuntimeBuild(cmd *cobra.Command, _ []string) error {
	s, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := cmd.Context()

	ds := deps.RuntimeExtDeps(s.composed, runtimeName)
	if err := s.requireStamps(ctx, "runtime build", deps.ForRuntimeBuild(runtimeName, ds)); err != nil {
		return err
	}
	return buildRuntime(ctx, s, runtimeName)
}

func buildRuntime(ctx context.Context, s *session, name string) error {
	images, err := runtimeImages(s, deps.RuntimeExtDeps(s.composed, name))
	if err != nil {
		return err
	}

	in := scripts.RuntimeBuildInput{
		Runtime:       name,
		Target:        s.target,
		BuildID:       uuid.NewString(),
		BuiltAt:       time.Now().UTC().Format(time.RFC3339),
		DistroVersion: s.config().Distro.Version,
		Images:        images,
	}
	s.logger.Printf("runtime %s build id %s with %d image(s)", name, in.BuildID, len(images))
	script, err := s.withStamp(scripts.RuntimeBuild(in), stamps.RuntimeBuild(name))
	if err != nil {
		return err
	}
	if err := s.run(ctx, s.runConfig(script), fmt.Sprintf("Failed to build runtime '%s'", name)); err != nil {
		return err
	}
	s.printer.Success("Built runtime '%s'.", name)
	return nil
}

func runRuntimeSign(cmd *cobra.Command, _ []string) error {
	s, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := cmd.Context()

	signing := s.config().Runtimes[runtimeName].Signing
	if signing == nil {
		return fmt.Errorf("runtime '%s' has no signing configuration", runtimeName)
	}
	reqs, err := deps.For(deps.RuntimeSign, runtimeName)
	if err != nil {
		return err
	}
	if err := s.requireStamps(ctx, string(deps.RuntimeSign), reqs); err != nil {
		return err
	}

	images, err := runtimeImages(s, deps.RuntimeExtDeps(s.composed, runtimeName))
	if err != nil {
		return err
	}
	keyID := ""
	if signing.Key != "" {
		keyID = s.config().SigningKeyID(signing.Key)
	}
	body, err := scripts.RuntimeSign(runtimeName, images, signing.ChecksumAlgorithm, keyID)
	if err != nil {
		return err
	}
	script, err := s.withStamp(body, stamps.RuntimeSign(runtimeName))
	if err != nil {
		return err
	}
	if err := s.run(ctx, s.runConfig(script), fmt.Sprintf("Failed to sign runtime '%s'", runtimeName)); err != nil {
		return err
	}
	s.printer.Success("Signed %d image(s) of runtime '%s' with %s.", len(images), runtimeName, signing.ChecksumAlgorithm)
	return nil
}

// provisionStateFile returns the profile's state file relative to src_dir.
func provisionStateFile(s *session, profile string) (string, error) {
	file := s.config().Provision[profile].StateFile
	if file == "" {
		file = filepath.Join(".avocado", "provision-"+profile+".state")
	}
	abs := paths.ResolveRelative(s.paths.Root, file)
	rel, err := filepath.Rel(s.paths.Root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("provision.%s.state_file: %s is outside %s", profile, file, s.paths.Root)
	}
	return filepath.ToSlash(rel), nil
}

func runRuntimeProvision(cmd *cobra.Command, _ []string) error {
	s, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := cmd.Context()

	reqs, err := deps.For(deps.RuntimeProvision, runtimeName)
	if err != nil {
		return err
	}
	if err := s.requireStamps(ctx, string(deps.RuntimeProvision), reqs); err != nil {
		return err
	}

	in := scripts.ProvisionInput{Runtime: runtimeName, Target: s.target}
	var extraArgs []string
	if provisionProfile != "" {
		profile, ok := s.config().Provision[provisionProfile]
		if !ok {
			return fmt.Errorf("provision profile '%s' not found in configuration", provisionProfile)
		}
		extraArgs = profile.ContainerArgs
		if in.StateFile, err = provisionStateFile(s, provisionProfile); err != nil {
			return err
		}
		if in.StateExists, err = paths.FileExists(filepath.Join(s.paths.Root, filepath.FromSlash(in.StateFile))); err != nil {
			return err
		}
	}

	script, err := s.withStamp(scripts.RuntimeProvision(in), stamps.RuntimeProvision(runtimeName))
	if err != nil {
		return err
	}
	cfg := s.runConfig(script)
	cfg.ContainerArgs = append(cfg.ContainerArgs, extraArgs...)
	cfg.Interactive = true
	if err := s.run(ctx, cfg, fmt.Sprintf("Failed to provision runtime '%s'", runtimeName)); err != nil {
		return err
	}
	s.printer.Success("Provisioned runtime '%s'.", runtimeName)
	return nil
}

func runRuntimeDNF(cmd *cobra.Command, args []string) error {
	s, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := cmd.Context()

	if err := s.requireStamps(ctx, "runtime dnf", []stamps.Requirement{stamps.SDKInstall()}); err != nil {
		return err
	}
	cfg := s.runConfig(scripts.DNF(scripts.ScopeRuntime, runtimeName, args))
	cfg.Interactive = true
	return s.run(ctx, cfg, fmt.Sprintf("Failed to run DNF for runtime '%s'", runtimeName))
}

func runRuntimeClean(cmd *cobra.Command, _ []string) error {
	s, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	script := scripts.RuntimeClean(runtimeName) + stamps.CleanScript(stamps.RuntimeInstall(runtimeName))
	if err := s.run(cmd.Context(), s.runConfig(script), fmt.Sprintf("Failed to clean runtime '%s'", runtimeName)); err != nil {
		return err
	}
	s.printer.Success("Cleaned runtime '%s'.", runtimeName)
	return nil
}
