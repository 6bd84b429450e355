package config

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"avocado/internal/shellargs"
)

// ErrNoTarget is returned when no target can be resolved for a command
// that needs one.
var ErrNoTarget = errors.New("no target architecture specified")

// DefaultChecksumAlgorithm is used by runtime signing when the manifest does
// not pick one.
const DefaultChecksumAlgorithm = "sha256"

// Config is the typed view over a composed manifest. It is always derived
// from the raw tree and never parsed separately.
type Config struct {
	DefaultTarget    string
	SupportedTargets Targets
	SrcDir           string
	Distro           Distro
	SDK              SDK
	Runtimes         map[string]Runtime
	Provision        map[string]ProvisionProfile
	SigningKeys      map[string]string
}

// Targets describes supported_targets. All is set for "*" or when the
// manifest does not restrict targets.
type Targets struct {
	All  bool
	List []string
}

// Supports reports whether target may be used with this manifest.
func (t Targets) Supports(target string) bool {
	if t.All {
		return true
	}
	for _, name := range t.List {
		if name == target {
			return true
		}
	}
	return false
}

type Distro struct {
	Channel string
	Version string
}

// SDK holds the target-merged sdk section.
type SDK struct {
	Image                   string
	RepoURL                 string
	RepoRelease             string
	ContainerArgs           []string
	DisableWeakDependencies bool
	HostUID                 *int
	HostGID                 *int
	Compile                 map[string]CompileSection
}

// CompileSection is one sdk.compile.<name> entry.
type CompileSection struct {
	Script       string
	Clean        string
	Dependencies Map
}

type Runtime struct {
	Target  string
	Signing *Signing
}

type Signing struct {
	Key               string
	ChecksumAlgorithm string
}

type ProvisionProfile struct {
	ContainerArgs []string
	StateFile     string
}

// parseSupportedTargets reads supported_targets from the root tree.
func parseSupportedTargets(raw Map) Targets {
	switch v := raw["supported_targets"].(type) {
	case nil:
		return Targets{All: true}
	case string:
		if v == "*" {
			return Targets{All: true}
		}
		return Targets{}
	case []any:
		return Targets{List: StringList(v)}
	default:
		return Targets{}
	}
}

// declaredTargets lists the targets whose names must not leak as sibling
// keys of base sections.
func declaredTargets(raw Map, active string) []string {
	targets := parseSupportedTargets(raw).List
	if active != "" {
		targets = append(append([]string(nil), targets...), active)
	}
	return targets
}

// ResolveTarget picks the target for a command: the CLI flag, then
// AVOCADO_TARGET, then the target of the only runtime, then default_target.
func ResolveTarget(cliTarget string, raw Map) (string, error) {
	if cliTarget != "" {
		return cliTarget, nil
	}
	if env := os.Getenv("AVOCADO_TARGET"); env != "" {
		return env, nil
	}
	if runtimes := MapAt(raw, "runtime"); len(runtimes) == 1 {
		for _, rt := range runtimes {
			if t, ok := StringAt(rt, "target"); ok && t != "" && !HasTemplate(t) {
				return t, nil
			}
		}
	}
	if t, ok := raw["default_target"].(string); ok && t != "" && !HasTemplate(t) {
		return t, nil
	}
	return "", fmt.Errorf("%w: use --target, AVOCADO_TARGET, or set default_target in the manifest", ErrNoTarget)
}

// CheckTarget fails when target is outside supported_targets.
func CheckTarget(raw Map, target string) error {
	if !parseSupportedTargets(raw).Supports(target) {
		return fmt.Errorf("target '%s' is not supported by this configuration", target)
	}
	return nil
}

// ParseContainerArgs accepts a single string, split on unquoted whitespace,
// or a list kept item by item. Each entry is expanded against the process
// environment.
func ParseContainerArgs(v any) ([]string, error) {
	var args []string
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		args = shellargs.Split(t)
	case []any:
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("container_args entries must be strings, got %T", item)
			}
			args = append(args, s)
		}
	default:
		return nil, fmt.Errorf("container_args must be a string or a list, got %T", v)
	}
	return shellargs.ExpandAll(args), nil
}

// MergeContainerArgs appends CLI-provided args after manifest args. CLI
// values are tokenized and expanded the same way.
func MergeContainerArgs(manifest []string, cli []string) []string {
	out := append([]string(nil), manifest...)
	for _, raw := range cli {
		out = append(out, shellargs.ExpandAll(shellargs.Split(raw))...)
	}
	return out
}

func newConfig(c *Composed) (Config, error) {
	cfg := Config{
		SupportedTargets: parseSupportedTargets(c.Raw),
		SrcDir:           c.root.SrcDir(),
		Runtimes:         map[string]Runtime{},
		Provision:        map[string]ProvisionProfile{},
		SigningKeys:      map[string]string{},
	}
	cfg.DefaultTarget, _ = c.Raw["default_target"].(string)

	if distro := MapAt(c.Raw, "distro"); distro != nil {
		cfg.Distro.Channel = ScalarString(distro["channel"])
		cfg.Distro.Version = ScalarString(distro["version"])
	}

	sdk, err := newSDK(c)
	if err != nil {
		return Config{}, err
	}
	cfg.SDK = sdk

	for _, name := range c.RuntimeNames() {
		section, _ := c.Section("runtime", name).(Map)
		rt := Runtime{}
		rt.Target, _ = section["target"].(string)
		if signing, ok := section["signing"].(Map); ok {
			rt.Signing = &Signing{
				Key:               ScalarString(signing["key"]),
				ChecksumAlgorithm: ScalarString(signing["checksum_algorithm"]),
			}
			if rt.Signing.ChecksumAlgorithm == "" {
				rt.Signing.ChecksumAlgorithm = DefaultChecksumAlgorithm
			}
		}
		cfg.Runtimes[name] = rt
	}

	for _, name := range SortedKeys(MapAt(c.Raw, "provision")) {
		section, _ := c.Section("provision", name).(Map)
		args, err := ParseContainerArgs(section["container_args"])
		if err != nil {
			return Config{}, fmt.Errorf("provision.%s: %w", name, err)
		}
		cfg.Provision[name] = ProvisionProfile{
			ContainerArgs: args,
			StateFile:     ScalarString(section["state_file"]),
		}
	}

	if keys, ok := c.Raw["signing_keys"].([]any); ok {
		for _, item := range keys {
			entry, ok := item.(Map)
			if !ok {
				return Config{}, fmt.Errorf("signing_keys entries must be single-key mappings")
			}
			for name, id := range entry {
				cfg.SigningKeys[name] = ScalarString(id)
			}
		}
	}
	return cfg, nil
}

func newSDK(c *Composed) (SDK, error) {
	section, _ := c.Section("sdk").(Map)
	sdk := SDK{Compile: map[string]CompileSection{}}
	if section == nil {
		return sdk, nil
	}

	for key, dst := range map[string]*string{
		"image":        &sdk.Image,
		"repo_url":     &sdk.RepoURL,
		"repo_release": &sdk.RepoRelease,
	} {
		v, ok := section[key]
		if !ok || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return SDK{}, fmt.Errorf("sdk.%s in %s: expected a string, got %T", key, c.Path, v)
		}
		*dst = s
	}

	args, err := ParseContainerArgs(section["container_args"])
	if err != nil {
		return SDK{}, fmt.Errorf("sdk.container_args in %s: %w", c.Path, err)
	}
	sdk.ContainerArgs = args
	sdk.DisableWeakDependencies, _ = section["disable_weak_dependencies"].(bool)

	for key, dst := range map[string]**int{"host_uid": &sdk.HostUID, "host_gid": &sdk.HostGID} {
		if n, ok := section[key].(int); ok {
			v := n
			*dst = &v
		}
	}

	compile, _ := section["compile"].(Map)
	for _, name := range SortedKeys(compile) {
		entry, _ := compile[name].(Map)
		sdk.Compile[name] = CompileSection{
			Script:       ScalarString(entry["compile"]),
			Clean:        ScalarString(entry["clean"]),
			Dependencies: MapAt(entry, "dependencies"),
		}
	}
	return sdk, nil
}

// CompileSectionNames returns sdk.compile section names in order.
func (s SDK) CompileSectionNames() []string {
	names := make([]string, 0, len(s.Compile))
	for name := range s.Compile {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ContainerArgsFor merges sdk.container_args with CLI values.
func (c Config) ContainerArgsFor(cli []string) []string {
	return MergeContainerArgs(c.SDK.ContainerArgs, cli)
}

// SigningKeyID maps a signing key name to its key identifier. Unknown names
// are returned unchanged.
func (c Config) SigningKeyID(name string) string {
	if id, ok := c.SigningKeys[name]; ok {
		return id
	}
	return name
}
