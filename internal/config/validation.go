package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/mattn/go-shellwords"
)

// ValidationResult captures a single validation finding.
type ValidationResult struct {
	Level   string `json:"level"` // "error" or "warning"
	Message string `json:"message"`
}

// Validate checks a composed manifest for problems that would only surface
// later inside the SDK container.
func (c *Composed) Validate() []ValidationResult {
	var results []ValidationResult
	results = append(results, c.validateSDK()...)
	results = append(results, c.validateTargets()...)
	results = append(results, c.validateExtensions()...)
	results = append(results, c.validateDependencyRefs()...)
	results = append(results, c.validateProvision()...)
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Level == "error" && results[j].Level != "error"
	})
	return results
}

// HasErrors reports whether any result is an error.
func HasErrors(results []ValidationResult) bool {
	for _, r := range results {
		if r.Level == "error" {
			return true
		}
	}
	return false
}

func errorf(format string, args ...any) ValidationResult {
	return ValidationResult{Level: "error", Message: fmt.Sprintf(format, args...)}
}

func warnf(format string, args ...any) ValidationResult {
	return ValidationResult{Level: "warning", Message: fmt.Sprintf(format, args...)}
}

func (c *Composed) validateSDK() []ValidationResult {
	var results []ValidationResult
	if c.Config.SDK.Image == "" {
		results = append(results, errorf("sdk.image is required in %s", c.Path))
	}
	for _, name := range c.Config.SDK.CompileSectionNames() {
		if c.Config.SDK.Compile[name].Script == "" {
			results = append(results, warnf("sdk.compile.%s has no compile script", name))
		}
	}
	return results
}

func (c *Composed) validateTargets() []ValidationResult {
	var results []ValidationResult
	targets := c.Config.SupportedTargets
	if dt := c.Config.DefaultTarget; dt != "" && !targets.Supports(dt) {
		results = append(results, errorf("default_target '%s' is not listed in supported_targets", dt))
	}
	if !targets.All && len(targets.List) == 0 {
		results = append(results, errorf("supported_targets must be \"*\" or a list of targets"))
	}
	for _, name := range c.RuntimeNames() {
		rt := c.Config.Runtimes[name]
		if rt.Target != "" && !HasTemplate(rt.Target) && !targets.Supports(rt.Target) {
			results = append(results, errorf("runtime.%s.target '%s' is not a supported target", name, rt.Target))
		}
		if rt.Signing != nil && rt.Signing.Key == "" {
			results = append(results, errorf("runtime.%s.signing.key is required", name))
		}
	}
	return results
}

func (c *Composed) validateExtensions() []ValidationResult {
	var results []ValidationResult
	for _, name := range c.ExtNames() {
		ext, err := c.Extension(name)
		if err != nil {
			results = append(results, errorf("%v", err))
			continue
		}
		if err := ValidateSemver(ext.Version); err != nil {
			results = append(results, warnf("ext.%s: %v; ext package will refuse it", name, err))
		}
		if ext.Overlay != nil {
			dir := c.ResolveExtPath(name, ext.Overlay.Dir)
			if info, err := os.Stat(dir); err != nil || !info.IsDir() {
				results = append(results, errorf("ext.%s.overlay: directory %q not found", name, dir))
			}
		}
		for i, cmd := range ext.OnMerge {
			words, err := shellwords.Parse(cmd)
			if err != nil {
				results = append(results, errorf("ext.%s.on_merge[%d]: %v", name, i, err))
				continue
			}
			if len(words) == 0 {
				results = append(results, errorf("ext.%s.on_merge[%d] is empty", name, i))
			}
		}
		for _, u := range ext.Users {
			if u.Password != nil && *u.Password == "" {
				results = append(results, warnf("ext.%s.users.%s has an empty password", name, u.Name))
			}
		}
		if ext.Source != nil {
			if _, err := sourceKind(ext.Source); err != nil {
				results = append(results, errorf("ext.%s.source: %v", name, err))
			}
		}
	}
	return results
}

// sourceKind performs the structural checks on a source block that do not
// need the extsrc package.
func sourceKind(src Map) (string, error) {
	kind := ScalarString(src["type"])
	switch kind {
	case "repo", "package":
		return kind, nil
	case "git":
		if ScalarString(src["url"]) == "" {
			return "", fmt.Errorf("git sources require url")
		}
		return kind, nil
	case "path":
		if ScalarString(src["path"]) == "" {
			return "", fmt.Errorf("path sources require path")
		}
		return kind, nil
	case "":
		return "", fmt.Errorf("type is required")
	default:
		return "", fmt.Errorf("unknown source type '%s'", kind)
	}
}

func (c *Composed) validateDependencyRefs() []ValidationResult {
	var results []ValidationResult
	check := func(owner string, deps Map) {
		for _, key := range SortedKeys(deps) {
			spec, ok := deps[key].(Map)
			if !ok {
				continue
			}
			ext, ok := spec["ext"].(string)
			if !ok {
				continue
			}
			if _, hasCfg := spec["config"]; hasCfg {
				if !c.HasExt(ext) {
					results = append(results, warnf("%s.dependencies.%s: external extension '%s' could not be loaded", owner, key, ext))
				}
				continue
			}
			if _, versioned := spec["vsn"]; versioned {
				continue
			}
			if !c.HasExt(ext) {
				results = append(results, errorf("%s.dependencies.%s references undefined extension '%s'", owner, key, ext))
			}
		}
	}
	for _, name := range c.RuntimeNames() {
		check("runtime."+name, c.RuntimeDependencies(name))
	}
	for _, name := range c.ExtNames() {
		check("ext."+name, c.ExtDependencies(name))
	}
	return results
}

func (c *Composed) validateProvision() []ValidationResult {
	var results []ValidationResult
	for _, name := range SortedKeys(MapAt(c.Raw, "provision")) {
		profile := c.Config.Provision[name]
		if filepath.IsAbs(profile.StateFile) {
			results = append(results, warnf("provision.%s.state_file %q is absolute; it is normally relative to src_dir", name, profile.StateFile))
		}
	}
	return results
}
