package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"avocado/internal/deps"
	"avocado/internal/stamps"
)

func newInstallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install the SDK, extension and runtime dependencies (all runtimes when -r is omitted)",
		Args:  cobra.NoArgs,
		RunE:  runInstall,
	}
	cmd.Flags().StringVarP(&runtimeName, "runtime", "r", "", "Runtime name")
	return cmd
}

func newBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build and image every extension a runtime needs, then the runtime (all runtimes when -r is omitted)",
		Args:  cobra.NoArgs,
		RunE:  runBuild,
	}
	cmd.Flags().StringVarP(&runtimeName, "runtime", "r", "", "Runtime name")
	return cmd
}

// pipelineRuntimes returns the -r runtime, or every runtime whose target is
// unset or matches the session target.
func pipelineRuntimes(s *session) ([]string, error) {
	if runtimeName == "" {
		var names []string
		for _, name := range s.composed.RuntimeNames() {
			if t := s.config().Runtimes[name].Target; t == "" || t == s.target {
				names = append(names, name)
			}
		}
		return names, nil
	}
	if err := s.requireRuntime(runtimeName); err != nil {
		return nil, err
	}
	return []string{runtimeName}, nil
}

var componentOrder = map[stamps.Component]int{stamps.SDK: 0, stamps.Extension: 1, stamps.Runtime: 2}

// pipelineSteps lists the install steps (install true) or the build steps of
// runtimes, deduplicated and ordered SDK, extensions, runtimes. Without
// runtimes every extension in the manifest is covered.
func pipelineSteps(s *session, runtimes []string, install bool) []stamps.Requirement {
	var all []stamps.Requirement
	if len(runtimes) == 0 {
		all = append(all, stamps.SDKInstall())
		for _, name := range s.composed.ExtNames() {
			all = append(all, stamps.ExtInstall(name), stamps.ExtBuild(name), stamps.ExtImage(name))
		}
	}
	for _, rt := range runtimes {
		all = append(all, deps.ForRuntimeBuild(rt, deps.RuntimeExtDeps(s.composed, rt))...)
		all = append(all, stamps.RuntimeBuild(rt))
	}

	seen := map[stamps.Requirement]bool{}
	var steps []stamps.Requirement
	for _, r := range all {
		if (r.Command == stamps.Install) != install || seen[r] {
			continue
		}
		seen[r] = true
		steps = append(steps, r)
	}
	sort.SliceStable(steps, func(i, j int) bool {
		return componentOrder[steps[i].Component] < componentOrder[steps[j].Component]
	})
	return steps
}

// runStep performs the command that records r.
func runStep(ctx context.Context, s *session, r stamps.Requirement) error {
	switch {
	case r.Component == stamps.SDK && r.Command == stamps.Install:
		return installSDK(ctx, s)
	case r.Component == stamps.Extension && r.Command == stamps.Install:
		return installExt(ctx, s, r.Name)
	case r.Component == stamps.Extension && r.Command == stamps.Build:
		return buildExt(ctx, s, r.Name)
	case r.Component == stamps.Extension && r.Command == stamps.Image:
		return imageExt(ctx, s, r.Name)
	case r.Component == stamps.Runtime && r.Command == stamps.Install:
		return installRuntime(ctx, s, r.Name)
	case r.Component == stamps.Runtime && r.Command == stamps.Build:
		return buildRuntime(ctx, s, r.Name)
	default:
		return fmt.Errorf("no command records %s", r)
	}
}

func runSteps(ctx context.Context, s *session, steps []stamps.Requirement) error {
	for i, r := range steps {
		s.logger.Printf("step %d/%d: %s", i+1, len(steps), r)
		if err := runStep(ctx, s, r); err != nil {
			return err
		}
	}
	return nil
}

func runInstall(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd, sessionOptions{needTarget: true, lock: true})
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := cmd.Context()

	fetched, err := fetchRemotes(ctx, s, nil, false)
	if err != nil {
		return err
	}
	if len(fetched) > 0 {
		s.printer.Info("Fetched remote extension(s): %s.", strings.Join(fetched, ", "))
	}
	runtimes, err := pipelineRuntimes(s)
	if err != nil {
		return err
	}

	steps := pipelineSteps(s, runtimes, true)
	if err := runSteps(ctx, s, steps); err != nil {
		return err
	}
	s.printer.Success("Installed %d component(s) for target '%s'.", len(steps), s.target)
	return nil
}

func runBuild(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd, sessionOptions{needTarget: true, lock: true})
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := cmd.Context()

	runtimes, err := pipelineRuntimes(s)
	if err != nil {
		return err
	}
	if err := s.requireStamps(ctx, "build", pipelineSteps(s, runtimes, true)); err != nil {
		return err
	}

	steps := pipelineSteps(s, runtimes, false)
	if err := runSteps(ctx, s, steps); err != nil {
		return err
	}
	s.printer.Success("Built %d component(s) for target '%s'.", len(steps), s.target)
	return nil
}
