package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"avocado/internal/config"
	"avocado/internal/deps"
	"avocado/internal/tui"
)

func newExtDepsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deps",
		Short: "List extension dependencies (all extensions when -e is omitted)",
		Args:  cobra.NoArgs,
		RunE:  runExtDeps,
	}
	cmd.Flags().StringVarP(&extName, "extension", "e", "", "Extension name")
	return cmd
}

func newSDKDepsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deps",
		Short: "List SDK, compile-section and extension SDK dependencies",
		Args:  cobra.NoArgs,
		RunE:  runSDKDeps,
	}
}

func (s *session) depLister() deps.Lister {
	return deps.Lister{
		ExtVersion: func(name string) string {
			if !s.composed.HasExt(name) {
				return ""
			}
			ext, err := s.composed.Extension(name)
			if err != nil {
				return ""
			}
			return ext.Version
		},
		Compile: func(section string) config.Map {
			return s.config().SDK.Compile[section].Dependencies
		},
	}
}

func runExtDeps(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd, sessionOptions{})
	if err != nil {
		return err
	}
	defer s.Close()

	names := s.composed.ExtNames()
	if extName != "" {
		if err := s.requireExt(extName); err != nil {
			return err
		}
		names = []string{extName}
	}
	out := cmd.OutOrStdout()
	if len(names) == 0 {
		fmt.Fprintln(out, "No extensions defined.")
		return nil
	}
	l := s.depLister()
	for _, name := range names {
		fmt.Fprintln(out, tui.HeaderStyle.Render("Extension: "+name))
		entries := l.List(s.composed.ExtDependencies(name), s.composed.ExtManifest(name))
		if len(entries) == 0 {
			fmt.Fprintln(out, "  No dependencies")
		}
		for _, e := range entries {
			fmt.Fprintf(out, "  %s:%s = %s\n", e.Kind, e.Name, e.Version)
		}
		fmt.Fprintln(out)
	}
	return nil
}

func runRuntimeDeps(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd, sessionOptions{})
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.requireRuntime(runtimeName); err != nil {
		return err
	}

	entries := s.depLister().List(s.composed.RuntimeDependencies(runtimeName), s.composed.Root())
	printEntries(cmd.OutOrStdout(), entries)
	s.printer.Success("Listed %d dependency(s).", len(entries))
	return nil
}

func runSDKDeps(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd, sessionOptions{})
	if err != nil {
		return err
	}
	defer s.Close()

	type section struct {
		label   string
		entries []deps.Entry
	}
	l := s.depLister()
	sections := []section{{label: "sdk", entries: l.List(s.composed.SDKDependencies(), s.composed.Root())}}
	for _, name := range s.composed.ExtNames() {
		sections = append(sections, section{
			label:   "ext." + name + ".sdk",
			entries: l.List(s.composed.ExtSDKDependencies(name), s.composed.ExtManifest(name)),
		})
	}
	sdk := s.config().SDK
	for _, name := range sdk.CompileSectionNames() {
		sections = append(sections, section{
			label:   "sdk.compile." + name,
			entries: l.List(sdk.Compile[name].Dependencies, s.composed.Root()),
		})
	}

	out := cmd.OutOrStdout()
	total, printed := 0, 0
	for _, sec := range sections {
		if len(sec.entries) == 0 {
			continue
		}
		if printed > 0 {
			fmt.Fprintln(out)
		}
		printed++
		fmt.Fprintln(out, tui.HeaderStyle.Render(sec.label))
		printEntries(out, sec.entries)
		total += len(sec.entries)
	}
	s.printer.Success("Listed %d dependency(s).", total)
	return nil
}

func printEntries(w io.Writer, entries []deps.Entry) {
	for _, e := range entries {
		fmt.Fprintf(w, "(%s) %s (%s)\n", e.Kind, e.Name, e.Version)
	}
}
