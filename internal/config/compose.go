package config

import (
	"fmt"
	"sync"
)

// Logger receives verbose composition notes.
type Logger interface {
	Printf(format string, v ...any)
}

type noopLogger struct{}

func (noopLogger) Printf(string, ...any) {}

// InstalledManifest is the avocado.yaml of a fetched remote extension.
type InstalledManifest struct {
	// Path is where the manifest was read from; relative references inside
	// it resolve against its directory.
	Path    string
	Data    []byte
	Include []string
}

// InstalledReader returns the installed manifest of extension name whose
// composed ext section is ext, or nil when the extension has no source or
// has not been fetched yet. srcDir is the src_dir of the manifest that
// declared the extension.
type InstalledReader func(name string, ext Map, srcDir string) (*InstalledManifest, error)

// Composed is the merged, interpolated manifest for one (root, target)
// pair. It must not be modified after Load returns it.
type Composed struct {
	Path   string
	Target string
	Raw    Map
	Config Config

	root    *Manifest
	targets []string
	sources map[string]*Manifest
	// declared maps each extension to the manifest holding its ext entry,
	// before any installed definition replaced it in sources.
	declared map[string]*Manifest
}

// Composer builds and memoizes composed configurations.
type Composer struct {
	Logger Logger
	// Strict turns skipped external manifests into errors.
	Strict bool
	// Installed, when set, is consulted for every extension declaring a
	// source so fetched definitions become part of the composition.
	Installed InstalledReader

	mu    sync.Mutex
	cache map[composeKey]*Composed
}

type composeKey struct {
	path   string
	target string
}

func NewComposer(logger Logger) *Composer {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Composer{Logger: logger, cache: map[composeKey]*Composed{}}
}

// Load composes the manifest at path for target. target may be empty for
// commands that do not need one.
func (c *Composer) Load(path, target string) (*Composed, error) {
	root, err := LoadManifest(path)
	if err != nil {
		return nil, err
	}

	key := composeKey{path: root.Path, target: target}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cache == nil {
		c.cache = map[composeKey]*Composed{}
	}
	if cached, ok := c.cache[key]; ok {
		return cached, nil
	}

	composed, err := c.compose(root, target)
	if err != nil {
		return nil, err
	}
	c.cache[key] = composed
	return composed, nil
}

func (c *Composer) logger() Logger {
	if c.Logger == nil {
		return noopLogger{}
	}
	return c.Logger
}

func (c *Composer) compose(root *Manifest, target string) (*Composed, error) {
	merged := deepCopy(root.Raw).(Map)
	sources := map[string]*Manifest{}
	for _, name := range SortedKeys(MapAt(root.Raw, "ext")) {
		sources[InterpolateName(name, target)] = root
	}

	w := &includeWalker{
		merged:  merged,
		root:    root,
		target:  target,
		strict:  c.Strict,
		logger:  c.logger(),
		visited: map[visitKey]bool{},
		sources: sources,
	}
	if err := w.walkRoot(); err != nil {
		return nil, err
	}

	declared := make(map[string]*Manifest, len(sources))
	for name, m := range sources {
		declared[name] = m
	}
	if err := c.mergeInstalled(merged, target, declared, sources); err != nil {
		return nil, err
	}

	warn := func(msg string) { c.logger().Printf("%s", msg) }
	if err := Interpolate(merged, target, warn); err != nil {
		return nil, fmt.Errorf("interpolate %s: %w", root.Path, err)
	}

	composed := &Composed{
		Path:     root.Path,
		Target:   target,
		Raw:      merged,
		root:     root,
		targets:  declaredTargets(merged, target),
		sources:  sources,
		declared: declared,
	}
	cfg, err := newConfig(composed)
	if err != nil {
		return nil, err
	}
	composed.Config = cfg
	return composed, nil
}

// mergeInstalled runs after the include walk so extensions declared by
// included manifests pick up their fetched definitions too.
func (c *Composer) mergeInstalled(merged Map, target string, declared, sources map[string]*Manifest) error {
	if c.Installed == nil {
		return nil
	}
	exts := MapAt(merged, "ext")
	for _, raw := range SortedKeys(exts) {
		section, ok := exts[raw].(Map)
		if !ok {
			continue
		}
		if _, hasSource := section["source"]; !hasSource {
			continue
		}
		name := InterpolateName(raw, target)
		srcDir := ""
		if m, ok := declared[name]; ok {
			srcDir = m.SrcDir()
		}
		installed, err := c.Installed(name, section, srcDir)
		if err != nil {
			return fmt.Errorf("read installed manifest for extension '%s': %w", name, err)
		}
		if installed == nil {
			c.logger().Printf("extension '%s' is not installed yet; using its stub definition", name)
			continue
		}
		m, err := ParseManifest(installed.Path, installed.Data)
		if err != nil {
			return err
		}
		if raw != name {
			if _, ok := MapAt(m.Raw, "ext")[raw]; ok {
				name = raw
			}
		}
		mergeExternal(merged, m.Raw, name, installed.Include)
		sources[name] = m
	}
	return nil
}

// Root returns the root manifest.
func (c *Composed) Root() *Manifest { return c.root }

// SrcDir is the root manifest's source directory.
func (c *Composed) SrcDir() string { return c.root.SrcDir() }

// Section returns the value at path merged with its <target> subsection.
// Keys naming a declared target never appear in the result. A base-only
// mapping that ends up empty yields nil.
func (c *Composed) Section(path ...string) any {
	base, ok := Lookup(c.Raw, path...)
	if !ok {
		return nil
	}
	if c.Target != "" {
		if override, ok := Lookup(base, c.Target); ok {
			return FilterTargets(MergeValues(base, override), c.targets)
		}
	}
	filtered := FilterTargets(base, c.targets)
	if m, ok := filtered.(Map); ok && len(m) == 0 {
		return nil
	}
	return deepCopy(filtered)
}

// SectionMap is Section narrowed to a mapping.
func (c *Composed) SectionMap(path ...string) Map {
	m, _ := c.Section(path...).(Map)
	return m
}

// NestedSection merges base.nested with base.<target>.nested.
func (c *Composed) NestedSection(base []string, nested ...string) any {
	section, ok := Lookup(c.Raw, base...)
	if !ok {
		return nil
	}
	plain, hasPlain := Lookup(section, nested...)
	var targeted any
	hasTargeted := false
	if c.Target != "" {
		if sub, ok := Lookup(section, c.Target); ok {
			targeted, hasTargeted = Lookup(sub, nested...)
		}
	}
	switch {
	case hasPlain && hasTargeted:
		return MergeValues(plain, targeted)
	case hasTargeted:
		return deepCopy(targeted)
	case hasPlain:
		return deepCopy(plain)
	default:
		return nil
	}
}

// NestedMap is NestedSection narrowed to a mapping.
func (c *Composed) NestedMap(base []string, nested ...string) Map {
	m, _ := c.NestedSection(base, nested...).(Map)
	return m
}

// ExtNames lists declared extensions in order.
func (c *Composed) ExtNames() []string {
	return SortedKeys(MapAt(c.Raw, "ext"))
}

// RuntimeNames lists declared runtimes in order.
func (c *Composed) RuntimeNames() []string {
	return SortedKeys(MapAt(c.Raw, "runtime"))
}

// HasExt reports whether ext.<name> exists in the composition.
func (c *Composed) HasExt(name string) bool {
	_, ok := Lookup(c.Raw, "ext", name)
	return ok
}

// Ext returns the target-merged ext.<name> section.
func (c *Composed) Ext(name string) Map {
	return c.SectionMap("ext", name)
}

// ExtDependencies returns the merged ext.<name>.dependencies mapping.
func (c *Composed) ExtDependencies(name string) Map {
	return c.NestedMap([]string{"ext", name}, "dependencies")
}

// ExtSDKDependencies returns the merged ext.<name>.sdk.dependencies mapping.
func (c *Composed) ExtSDKDependencies(name string) Map {
	return c.NestedMap([]string{"ext", name}, "sdk", "dependencies")
}

// RuntimeDependencies returns the merged runtime.<name>.dependencies mapping.
func (c *Composed) RuntimeDependencies(name string) Map {
	return c.NestedMap([]string{"runtime", name}, "dependencies")
}

// SDKDependencies returns the merged sdk.dependencies mapping.
func (c *Composed) SDKDependencies() Map {
	return c.NestedMap([]string{"sdk"}, "dependencies")
}

// ExtManifest returns the manifest that declared extension name. Unknown
// names map to the root manifest.
func (c *Composed) ExtManifest(name string) *Manifest {
	if m, ok := c.sources[name]; ok {
		return m
	}
	return c.root
}

// DeclaringManifest returns the manifest whose ext section names extension
// name. Unlike ExtManifest it never returns an installed remote definition.
func (c *Composed) DeclaringManifest(name string) *Manifest {
	if m, ok := c.declared[name]; ok {
		return m
	}
	return c.root
}

// IsExternal reports whether name came from a manifest other than the root.
func (c *Composed) IsExternal(name string) bool {
	m, ok := c.sources[name]
	return ok && m != c.root
}

// ResolveExtPath resolves a path declared by extension name against the
// src_dir of its declaring manifest.
func (c *Composed) ResolveExtPath(name, p string) string {
	return c.ExtManifest(name).ResolvePath(p)
}
