package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"avocado/internal/deps"
	"avocado/internal/scripts"
	"avocado/internal/stamps"
)

var sdkRunInteractive bool

func newSDKCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sdk",
		Short: "Manage the SDK inside the project volume",
	}

	install := &cobra.Command{
		Use:   "install",
		Short: "Install SDK and compile-section dependencies",
		Args:  cobra.NoArgs,
		RunE:  runSDKInstall,
	}
	compile := &cobra.Command{
		Use:   "compile [section...]",
		Short: "Run sdk.compile scripts (all sections when none are named)",
		RunE:  runSDKCompile,
	}
	clean := &cobra.Command{
		Use:   "clean",
		Short: "Remove the SDK directory and its stamps",
		Args:  cobra.NoArgs,
		RunE:  runSDKClean,
	}
	dnf := &cobra.Command{
		Use:   "dnf -- <args>",
		Short: "Run DNF against the SDK",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSDKDNF,
	}
	run := &cobra.Command{
		Use:   "run [command...]",
		Short: "Run a command (or a shell with -i) in the SDK container",
		RunE:  runSDKRun,
	}
	run.Flags().BoolVarP(&sdkRunInteractive, "interactive", "i", false, "Attach stdin and allocate a TTY")

	cmd.AddCommand(install, compile, clean, dnf, run, newSDKDepsCmd())
	return cmd
}

func installOptions(s *session) scripts.InstallOptions {
	return scripts.InstallOptions{Yes: true, NoWeakDeps: s.config().SDK.DisableWeakDependencies}
}

// sdkInstallScript installs sdk.dependencies into the SDK and every compile
// section's dependencies into the target sysroot.
func sdkInstallScript(s *session) string {
	bl := scripts.NewBuilder()
	opts := installOptions(s)
	if pkgs := scripts.PackageList(s.composed.SDKDependencies()); len(pkgs) > 0 {
		bl.Section("sdk dependencies")
		bl.Raw(scripts.Install(scripts.ScopeSDK, "", pkgs, opts))
	}
	sdk := s.config().SDK
	for _, name := range sdk.CompileSectionNames() {
		pkgs := scripts.PackageList(sdk.Compile[name].Dependencies)
		if len(pkgs) == 0 {
			continue
		}
		bl.Section("compile dependencies: " + name)
		bl.Raw(scripts.Install(scripts.ScopeTargetSysroot, "", pkgs, opts))
	}
	bl.Line(`echo "[INFO] SDK dependencies installed."`)
	return bl.String()
}

func runSDKInstall(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd, sessionOptions{needTarget: true, lock: true})
	if err != nil {
		return err
	}
	defer s.Close()
	return installSDK(cmd.Context(), s)
}

func installSDK(ctx context.Context, s *session) error {
	s.printer.Info("Installing SDK for target '%s'.", s.target)
	script, err := s.withStamp(sdkInstallScript(s), stamps.SDKInstall())
	if err != nil {
		return err
	}
	if err := s.run(ctx, s.runConfig(script), "Failed to install SDK"); err != nil {
		return err
	}
	s.printer.Success("Installed SDK for target '%s'.", s.target)
	return nil
}

// sdkCompileScript installs and compiles the named sections in order.
func sdkCompileScript(s *session, sections []string) (string, error) {
	sdk := s.config().SDK
	bl := scripts.NewBuilder()
	for _, name := range sections {
		section, ok := sdk.Compile[name]
		if !ok {
			return "", fmt.Errorf("compile section '%s' not found in sdk.compile", name)
		}
		if pkgs := scripts.PackageList(section.Dependencies); len(pkgs) > 0 {
			bl.Section("dependencies: " + name)
			bl.Raw(scripts.Install(scripts.ScopeTargetSysroot, "", pkgs, installOptions(s)))
		}
		if section.Script == "" {
			s.printer.Warning("Compile section '%s' has no compile script; skipping.", name)
			continue
		}
		body, err := scripts.CompileCommand(name, "compile", section.Script)
		if err != nil {
			return "", err
		}
		bl.Section("compile: " + name)
		bl.Raw(body)
	}
	return bl.String(), nil
}

func runSDKCompile(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, sessionOptions{needTarget: true, lock: true})
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := cmd.Context()

	reqs, err := deps.For(deps.SDKCompile, "")
	if err != nil {
		return err
	}
	if err := s.requireStamps(ctx, string(deps.SDKCompile), reqs); err != nil {
		return err
	}

	sections := args
	if len(sections) == 0 {
		sections = s.config().SDK.CompileSectionNames()
	}
	if len(sections) == 0 {
		s.printer.Info("No sdk.compile sections defined.")
		return nil
	}
	script, err := sdkCompileScript(s, sections)
	if err != nil {
		return err
	}
	if err := s.run(ctx, s.runConfig(script), "Failed to compile SDK sections"); err != nil {
		return err
	}
	s.printer.Success("Compiled %d SDK section(s): %s.", len(sections), strings.Join(sections, ", "))
	return nil
}

func runSDKClean(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd, sessionOptions{needTarget: true, lock: true})
	if err != nil {
		return err
	}
	defer s.Close()

	script := scripts.SDKClean() + stamps.CleanScript(stamps.SDKInstall())
	if err := s.run(cmd.Context(), s.runConfig(script), "Failed to clean SDK"); err != nil {
		return err
	}
	s.printer.Success("Cleaned SDK for target '%s'.", s.target)
	return nil
}

func runSDKDNF(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, sessionOptions{needTarget: true, lock: true})
	if err != nil {
		return err
	}
	defer s.Close()

	cfg := s.runConfig(scripts.DNF(scripts.ScopeSDK, "", args))
	cfg.Interactive = true
	return s.run(cmd.Context(), cfg, "Failed to run DNF in the SDK")
}

func runSDKRun(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !sdkRunInteractive {
		return fmt.Errorf("a command is required unless --interactive is set")
	}
	s, err := openSession(cmd, sessionOptions{needTarget: true, lock: true})
	if err != nil {
		return err
	}
	defer s.Close()

	command := strings.Join(args, " ")
	if command == "" {
		command = "bash"
	}
	cfg := s.runConfig(command)
	cfg.Interactive = sdkRunInteractive
	return s.run(cmd.Context(), cfg, "SDK command failed")
}
