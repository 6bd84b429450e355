package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"avocado/internal/config"
	"avocado/internal/deps"
	"avocado/internal/extsrc"
	"avocado/internal/scripts"
	"avocado/internal/stamps"
	"avocado/internal/tui"
)

var (
	extName     string
	extNames    []string
	extForce    bool
	extListJSON bool
)

func newExtCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ext",
		Short: "Install, build and package extensions",
	}

	install := &cobra.Command{
		Use:   "install",
		Short: "Install extension dependencies (all extensions when -e is omitted)",
		Args:  cobra.NoArgs,
		RunE:  runExtInstall,
	}
	install.Flags().StringArrayVarP(&extNames, "extension", "e", nil, "Extension to install (repeatable)")

	fetch := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch remote extension definitions",
		Args:  cobra.NoArgs,
		RunE:  runExtFetch,
	}
	fetch.Flags().StringArrayVarP(&extNames, "extension", "e", nil, "Extension to fetch (repeatable)")
	fetch.Flags().BoolVar(&extForce, "force", false, "Fetch again even when already installed")

	list := &cobra.Command{
		Use:   "list",
		Short: "List extensions and where they are defined",
		Args:  cobra.NoArgs,
		RunE:  runExtList,
	}
	list.Flags().BoolVar(&extListJSON, "json", false, "Output machine-readable JSON")

	dnf := &cobra.Command{
		Use:   "dnf -e <name> -- <args>",
		Short: "Run DNF against an extension sysroot",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runExtDNF,
	}
	clean := &cobra.Command{
		Use:   "clean -e <name>",
		Short: "Remove an extension's sysroot, outputs and stamps",
		Args:  cobra.NoArgs,
		RunE:  runExtClean,
	}
	for _, c := range []*cobra.Command{dnf, clean} {
		c.Flags().StringVarP(&extName, "extension", "e", "", "Extension name")
	}

	cmd.AddCommand(install, fetch, list, dnf, clean, newExtDepsCmd())
	cmd.AddCommand(newExtBuildCmd(), newExtImageCmd(), newExtPackageCmd(), newExtCheckoutCmd())
	return cmd
}

// compileDeps returns the sdk.compile sections an extension depends on.
func compileDeps(s *session, name string) []string {
	dependencies := s.composed.ExtDependencies(name)
	var sections []string
	for _, key := range config.SortedKeys(dependencies) {
		entry, ok := dependencies[key].(config.Map)
		if !ok {
			continue
		}
		if section := config.ScalarString(entry["compile"]); section != "" {
			sections = append(sections, section)
		}
	}
	return sections
}

// extInstallScript installs an extension's packages, versioned extension
// packages and compile-section outputs into its sysroot, and its SDK
// dependencies into the SDK.
func extInstallScript(s *session, name string) (string, error) {
	opts := installOptions(s)
	dependencies := s.composed.ExtDependencies(name)
	bl := scripts.NewBuilder()
	bl.Line(`mkdir -p "%s"`, scripts.InstallRoot(scripts.ScopeExtension, name))

	pkgs := scripts.PackageList(dependencies)
	versioned := map[string]string{}
	for _, d := range deps.ExtDepsOf(dependencies, s.composed.ExtManifest(name)) {
		if d.Kind == deps.VersionedDep {
			versioned[d.Name] = d.Version
		}
	}
	pkgs = append(pkgs, scripts.VersionedPackages(versioned)...)
	if len(pkgs) > 0 {
		bl.Section("packages")
		bl.Raw(scripts.Install(scripts.ScopeExtension, name, pkgs, opts))
	}

	if sdkPkgs := scripts.PackageList(s.composed.ExtSDKDependencies(name)); len(sdkPkgs) > 0 {
		bl.Section("sdk packages")
		bl.Raw(scripts.Install(scripts.ScopeSDK, "", sdkPkgs, opts))
	}

	if sections := compileDeps(s, name); len(sections) > 0 {
		body, err := sdkCompileScript(s, sections)
		if err != nil {
			return "", fmt.Errorf("ext.%s.dependencies: %w", name, err)
		}
		bl.Raw(body)
	}
	bl.Line(`echo "[INFO] Installed dependencies for extension '%s'."`, name)
	return bl.String(), nil
}

// fetchRemotes fetches the missing remote definitions among names (all
// extensions when empty) and recomposes the manifest when anything new
// arrived.
func fetchRemotes(ctx context.Context, s *session, names []string, force bool) ([]string, error) {
	remotes, err := extsrc.RemoteSources(s.composed, names)
	if err != nil {
		return nil, err
	}
	if len(remotes) == 0 {
		return nil, nil
	}

	status := tui.NewStatus(s.printer.Out(), tui.DetectMode(s.printer.Out(), verbose))
	status.Update(fmt.Sprintf("Fetching %d remote extension(s)", len(remotes)))
	fetched, err := s.fetcher().FetchAll(ctx, remotes, force)
	status.Stop()
	if err != nil {
		return fetched, err
	}
	if len(fetched) == 0 {
		return nil, nil
	}
	if err := s.reload(ctx); err != nil {
		return fetched, err
	}
	if err := s.reloadPathMounts(); err != nil {
		return fetched, err
	}
	return fetched, nil
}

func (s *session) reloadPathMounts() error {
	state, err := extsrc.LoadPathState(s.paths.ExtPathsFile)
	if err != nil {
		return err
	}
	mounts := map[string]string{}
	for _, name := range state.Names() {
		dir, _ := state.Lookup(name)
		mounts[name] = dir
	}
	s.exec.PathMounts = mounts
	return nil
}

func runExtInstall(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd, sessionOptions{needTarget: true, lock: true})
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := cmd.Context()

	for _, name := range extNames {
		if err := s.requireExt(name); err != nil {
			return err
		}
	}
	fetched, err := fetchRemotes(ctx, s, extNames, false)
	if err != nil {
		return err
	}
	if len(fetched) > 0 {
		s.printer.Info("Fetched remote extension(s): %s.", strings.Join(fetched, ", "))
	}

	reqs, err := deps.For(deps.ExtInstall, "")
	if err != nil {
		return err
	}
	if err := s.requireStamps(ctx, string(deps.ExtInstall), reqs); err != nil {
		return err
	}

	names := extNames
	if len(names) == 0 {
		names = s.composed.ExtNames()
	}
	for _, name := range names {
		if err := installExt(ctx, s, name); err != nil {
			return err
		}
	}
	s.printer.Success("Installed %d extension(s).", len(names))
	return nil
}

func installExt(ctx context.Context, s *session, name string) error {
	s.printer.Info("Installing dependencies for extension '%s'.", name)
	script, err := extInstallScript(s, name)
	if err != nil {
		return err
	}
	if script, err = s.withStamp(script, stamps.ExtInstall(name)); err != nil {
		return err
	}
	return s.run(ctx, s.runConfig(script), fmt.Sprintf("Failed to install dependencies for extension '%s'", name))
}

func runExtFetch(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd, sessionOptions{needTarget: true, lock: true})
	if err != nil {
		return err
	}
	defer s.Close()

	for _, name := range extNames {
		if err := s.requireExt(name); err != nil {
			return err
		}
	}
	fetched, err := fetchRemotes(cmd.Context(), s, extNames, extForce)
	if err != nil {
		return err
	}
	if len(fetched) == 0 {
		s.printer.Info("All remote extensions are already installed.")
		return nil
	}
	s.printer.Success("Fetched %d remote extension(s): %s.", len(fetched), strings.Join(fetched, ", "))
	return nil
}

type extListEntry struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Config   string `json:"config"`
}

func runExtList(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd, sessionOptions{})
	if err != nil {
		return err
	}
	defer s.Close()

	locs, err := extsrc.LocateAll(s.composed)
	if err != nil {
		return err
	}
	entries := make([]extListEntry, 0, len(locs))
	for _, loc := range locs {
		entries = append(entries, extListEntry{Name: loc.Name, Location: loc.Label(), Config: loc.ConfigPath})
	}

	if extListJSON {
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	printExtList(cmd, entries)
	return nil
}

func printExtList(cmd *cobra.Command, entries []extListEntry) {
	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "No extensions defined.")
		return
	}
	nameWidth := len("NAME")
	for _, e := range entries {
		if len(e.Name) > nameWidth {
			nameWidth = len(e.Name)
		}
	}
	fmt.Fprintln(out, tui.HeaderStyle.Render(fmt.Sprintf("%-*s  %-10s  %s", nameWidth, "NAME", "LOCATION", "CONFIG")))
	for _, e := range entries {
		location := tui.StatusStyle(e.Location).Render(fmt.Sprintf("%-10s", e.Location))
		fmt.Fprintf(out, "%-*s  %s  %s\n", nameWidth, e.Name, location, e.Config)
	}
}

func runExtDNF(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, sessionOptions{needTarget: true, lock: true})
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := cmd.Context()

	if err := s.requireExt(extName); err != nil {
		return err
	}
	reqs, err := deps.For(deps.ExtDNF, extName)
	if err != nil {
		return err
	}
	if err := s.requireStamps(ctx, string(deps.ExtDNF), reqs); err != nil {
		return err
	}
	cfg := s.runConfig(scripts.DNF(scripts.ScopeExtension, extName, args))
	cfg.Interactive = true
	return s.run(ctx, cfg, fmt.Sprintf("Failed to run DNF for extension '%s'", extName))
}

// extCleanScript runs the clean scripts of the extension's compile
// sections, then removes its sysroot, outputs, stamps and fetched
// definition.
func extCleanScript(s *session, name string) (string, error) {
	sdk := s.config().SDK
	bl := scripts.NewBuilder()
	for _, section := range compileDeps(s, name) {
		cs, ok := sdk.Compile[section]
		if !ok || cs.Clean == "" {
			continue
		}
		body, err := scripts.CompileCommand(section, "clean", cs.Clean)
		if err != nil {
			return "", err
		}
		bl.Section("clean: " + section)
		bl.Raw(body)
	}
	bl.Section("sysroot")
	bl.Raw(scripts.ExtClean(name))
	bl.Raw(stamps.CleanScript(stamps.ExtInstall(name)))
	loc, err := extsrc.Locate(s.composed, name)
	if err != nil {
		return "", err
	}
	if loc.Kind == extsrc.Remote {
		bl.Raw(extsrc.CleanScript(name))
	}
	return bl.String(), nil
}

func hasCleanScripts(s *session, name string) bool {
	for _, section := range compileDeps(s, name) {
		if s.config().SDK.Compile[section].Clean != "" {
			return true
		}
	}
	return false
}

func runExtClean(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd, sessionOptions{needTarget: true, lock: true})
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := cmd.Context()

	if err := s.requireExt(extName); err != nil {
		return err
	}
	if hasCleanScripts(s, extName) {
		if err := s.requireStamps(ctx, "ext clean", []stamps.Requirement{stamps.SDKInstall()}); err != nil {
			return err
		}
	}
	script, err := extCleanScript(s, extName)
	if err != nil {
		return err
	}
	if err := s.run(ctx, s.runConfig(script), fmt.Sprintf("Failed to clean extension '%s'", extName)); err != nil {
		return err
	}
	if err := s.fetcher().Forget(extName); err != nil {
		return err
	}
	s.printer.Success("Cleaned extension '%s'.", extName)
	return nil
}
