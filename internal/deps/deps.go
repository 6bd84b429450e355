// Package deps derives the stamps a command needs before it may run.
package deps

import (
	"fmt"
	"sort"

	"avocado/internal/config"
	"avocado/internal/stamps"
)

// ExtDepKind tags how a runtime refers to an extension.
type ExtDepKind int

const (
	// LocalDep names an extension built from this project.
	LocalDep ExtDepKind = iota
	// ExternalDep names an extension from another manifest.
	ExternalDep
	// VersionedDep names a prebuilt extension package installed by DNF.
	VersionedDep
)

func (k ExtDepKind) String() string {
	switch k {
	case LocalDep:
		return "local"
	case ExternalDep:
		return "external"
	case VersionedDep:
		return "versioned"
	default:
		return "unknown"
	}
}

// RuntimeExtDep is one extension referenced by a runtime.
type RuntimeExtDep struct {
	Kind ExtDepKind
	Name string
	// ConfigPath is the referenced manifest for ExternalDep.
	ConfigPath string
	// Version is set for VersionedDep.
	Version string
}

// Built reports whether the dependency is produced by this project's
// install, build and image steps.
func (d RuntimeExtDep) Built() bool {
	return d.Kind != VersionedDep
}

// RuntimeExtDeps classifies the extension entries of runtime.<name>
// dependencies, sorted by extension name. Package entries are skipped.
func RuntimeExtDeps(c *config.Composed, runtime string) []RuntimeExtDep {
	return ExtDepsOf(c.RuntimeDependencies(runtime), c.Root())
}

// ExtDepsOf classifies the extension entries of a dependency mapping
// declared in manifest m.
func ExtDepsOf(dependencies config.Map, m *config.Manifest) []RuntimeExtDep {
	byName := map[string]RuntimeExtDep{}
	for _, key := range config.SortedKeys(dependencies) {
		spec, ok := dependencies[key].(config.Map)
		if !ok {
			continue
		}
		name := config.ScalarString(spec["ext"])
		if name == "" {
			continue
		}
		dep := RuntimeExtDep{Kind: LocalDep, Name: name}
		switch {
		case spec["vsn"] != nil:
			dep.Kind = VersionedDep
			dep.Version = config.ScalarString(spec["vsn"])
		case spec["config"] != nil:
			dep.Kind = ExternalDep
			dep.ConfigPath = m.ResolvePath(config.ScalarString(spec["config"]))
		}
		if _, dup := byName[name]; !dup {
			byName[name] = dep
		}
	}

	out := make([]RuntimeExtDep, 0, len(byName))
	for _, dep := range byName {
		out = append(out, dep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// BuiltExtNames returns the names of local and external dependencies.
func BuiltExtNames(ds []RuntimeExtDep) []string {
	var names []string
	for _, d := range ds {
		if d.Built() {
			names = append(names, d.Name)
		}
	}
	return names
}

// ForRuntimeBuild lists the stamps runtime build requires: the SDK and
// runtime installs plus install, build and image of every extension built
// by the project. Versioned extensions add nothing.
func ForRuntimeBuild(runtime string, ds []RuntimeExtDep) []stamps.Requirement {
	reqs := []stamps.Requirement{stamps.SDKInstall(), stamps.RuntimeInstall(runtime)}
	for _, d := range ds {
		if !d.Built() {
			continue
		}
		reqs = append(reqs, stamps.ExtInstall(d.Name), stamps.ExtBuild(d.Name), stamps.ExtImage(d.Name))
	}
	return reqs
}

// Op is a stamp-gated command.
type Op string

const (
	SDKInstall       Op = "sdk install"
	SDKCompile       Op = "sdk compile"
	ExtInstall       Op = "ext install"
	ExtBuild         Op = "ext build"
	ExtImage         Op = "ext image"
	ExtPackage       Op = "ext package"
	ExtCheckout      Op = "ext checkout"
	ExtDNF           Op = "ext dnf"
	RuntimeInstall   Op = "runtime install"
	RuntimeSign      Op = "runtime sign"
	RuntimeProvision Op = "runtime provision"
)

// For returns the requirements of op applied to subject (an extension or
// runtime name; ignored for SDK operations). Runtime build and hitl server
// depend on more than their subject and use ForRuntimeBuild and ForHITL.
func For(op Op, subject string) ([]stamps.Requirement, error) {
	switch op {
	case SDKInstall:
		return nil, nil
	case SDKCompile, ExtInstall, ExtDNF, RuntimeInstall:
		return []stamps.Requirement{stamps.SDKInstall()}, nil
	case ExtBuild, ExtCheckout:
		return []stamps.Requirement{stamps.SDKInstall(), stamps.ExtInstall(subject)}, nil
	case ExtImage, ExtPackage:
		return []stamps.Requirement{stamps.SDKInstall(), stamps.ExtInstall(subject), stamps.ExtBuild(subject)}, nil
	case RuntimeSign, RuntimeProvision:
		return []stamps.Requirement{stamps.RuntimeBuild(subject)}, nil
	default:
		return nil, fmt.Errorf("no stamp requirements defined for %q", op)
	}
}

// ForHITL lists the stamps hitl server needs for the exported extensions.
func ForHITL(exts []string) []stamps.Requirement {
	reqs := []stamps.Requirement{stamps.SDKInstall()}
	for _, ext := range exts {
		reqs = append(reqs, stamps.ExtInstall(ext), stamps.ExtBuild(ext))
	}
	return reqs
}
