package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// resolveExternalPath returns path as-is if absolute, otherwise joins it with base.
func resolveExternalPath(base, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(base, path)
}

func canonicalPath(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// MatchesIncludePattern reports whether a dotted config path is selected by
// one of patterns. "a.b" matches exactly; "a.*" matches a and anything
// below it.
func MatchesIncludePattern(configPath string, patterns []string) bool {
	for _, pattern := range patterns {
		if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
			if configPath == prefix || strings.HasPrefix(configPath, prefix+".") {
				return true
			}
			continue
		}
		if configPath == pattern {
			return true
		}
	}
	return false
}

// compileDependencies lists sdk.compile sections named by {compile: x}
// entries in ext.<name>.dependencies of raw.
func compileDependencies(raw Map, ext string) []string {
	deps := MapAt(raw, "ext", ext, "dependencies")
	var out []string
	for _, key := range SortedKeys(deps) {
		if name, ok := StringAt(deps[key], "compile"); ok && name != "" {
			out = append(out, name)
		}
	}
	return out
}

// mergeExternal folds the named extension from an external manifest into
// main. Main always wins on conflicts. provision and sdk.dependencies
// entries come across only when selected by include; sdk.compile sections
// also come across when the extension depends on them.
func mergeExternal(main, external Map, ext string, include []string) {
	if section, ok := Lookup(external, "ext", ext); ok {
		extRoot := ensureMap(main, "ext")
		existing, present := extRoot[ext]
		switch dst, isMap := existing.(Map); {
		case present && isMap:
			if src, ok := section.(Map); ok {
				mergeMissing(dst, src)
			}
		case present && existing != nil:
		default:
			extRoot[ext] = deepCopy(section)
		}
	}

	for _, name := range SortedKeys(MapAt(external, "provision")) {
		if !MatchesIncludePattern("provision."+name, include) {
			continue
		}
		dst := ensureMap(main, "provision")
		if _, ok := dst[name]; !ok {
			dst[name] = deepCopy(external["provision"].(Map)[name])
		}
	}

	extDeps := MapAt(external, "sdk", "dependencies")
	for _, name := range SortedKeys(extDeps) {
		if !MatchesIncludePattern("sdk.dependencies."+name, include) {
			continue
		}
		dst := ensureMap(ensureMap(main, "sdk"), "dependencies")
		if _, ok := dst[name]; !ok {
			dst[name] = deepCopy(extDeps[name])
		}
	}

	auto := map[string]bool{}
	for _, name := range compileDependencies(external, ext) {
		auto[name] = true
	}
	compile := MapAt(external, "sdk", "compile")
	for _, name := range SortedKeys(compile) {
		if !auto[name] && !MatchesIncludePattern("sdk.compile."+name, include) {
			continue
		}
		dst := ensureMap(ensureMap(main, "sdk"), "compile")
		if _, ok := dst[name]; !ok {
			dst[name] = deepCopy(compile[name])
		}
	}
}

type visitKey struct {
	ext  string
	path string
}

// includeWalker follows {ext, config} dependency references across
// manifests. Each (extension, canonical manifest path) pair is visited at
// most once, which also breaks inclusion cycles.
type includeWalker struct {
	merged  Map
	root    *Manifest
	target  string
	strict  bool
	logger  Logger
	visited map[visitKey]bool
	sources map[string]*Manifest
}

func (w *includeWalker) walkRoot() error {
	for _, kind := range []string{"runtime", "ext"} {
		section := MapAt(w.root.Raw, kind)
		for _, name := range SortedKeys(section) {
			for _, deps := range dependencyMaps(section[name]) {
				if err := w.walkDeps(w.root, deps); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// dependencyMaps returns section.dependencies and the dependencies of every
// nested target subsection.
func dependencyMaps(section any) []Map {
	m, ok := section.(Map)
	if !ok {
		return nil
	}
	var out []Map
	if deps, ok := m["dependencies"].(Map); ok {
		out = append(out, deps)
	}
	for _, key := range SortedKeys(m) {
		if key == "dependencies" {
			continue
		}
		if sub, ok := m[key].(Map); ok {
			if deps, ok := sub["dependencies"].(Map); ok {
				out = append(out, deps)
			}
		}
	}
	return out
}

func (w *includeWalker) walkDeps(from *Manifest, deps Map) error {
	for _, key := range SortedKeys(deps) {
		spec, ok := deps[key].(Map)
		if !ok {
			continue
		}
		name, ok := spec["ext"].(string)
		if !ok || name == "" {
			continue
		}
		name = InterpolateName(name, w.target)
		if cfg, ok := spec["config"].(string); ok && cfg != "" {
			if err := w.include(from, name, from.ResolvePath(cfg)); err != nil {
				return err
			}
			continue
		}
		if _, versioned := spec["vsn"]; versioned || from == w.root {
			continue
		}
		// A plain reference inside an included manifest names a sibling
		// extension of that same manifest.
		if err := w.include(from, name, from.Path); err != nil {
			return err
		}
	}
	return nil
}

func (w *includeWalker) include(from *Manifest, ext, path string) error {
	key := visitKey{ext: ext, path: canonicalPath(path)}
	if w.visited[key] {
		return nil
	}
	w.visited[key] = true

	inc, err := LoadManifest(key.path)
	if err != nil {
		return w.skip(fmt.Errorf("external config for extension '%s' referenced from %s: %w", ext, from.Path, err))
	}
	section, ok := Lookup(inc.Raw, "ext", ext)
	if !ok {
		return w.skip(fmt.Errorf("extension '%s' is not defined in %s", ext, inc.Path))
	}

	mergeExternal(w.merged, inc.Raw, ext, nil)
	if _, known := w.sources[ext]; !known {
		w.sources[ext] = inc
	}

	for _, deps := range dependencyMaps(section) {
		if err := w.walkDeps(inc, deps); err != nil {
			return err
		}
	}
	return nil
}

func (w *includeWalker) skip(err error) error {
	if w.strict {
		return err
	}
	w.logger.Printf("skipping %v", err)
	return nil
}
