package deps

import (
	"sort"

	"avocado/internal/config"
)

// Entry is one line of a dependency listing.
type Entry struct {
	// Kind is "ext" or "pkg".
	Kind    string
	Name    string
	Version string
}

// Lister flattens dependency mappings for display.
type Lister struct {
	// ExtVersion returns the version of a project extension, or "" when
	// unknown.
	ExtVersion func(name string) string
	// Compile returns the dependencies of an sdk.compile section.
	Compile func(section string) config.Map
}

// List returns the entries of dependencies declared in manifest m.
// Extension references come first, then packages, each sorted by name.
// Compile references expand to the packages of their section.
func (l Lister) List(dependencies config.Map, m *config.Manifest) []Entry {
	var out []Entry
	for _, d := range ExtDepsOf(dependencies, m) {
		v := d.Version
		if v == "" && l.ExtVersion != nil {
			v = l.ExtVersion(d.Name)
		}
		out = append(out, Entry{Kind: "ext", Name: d.Name, Version: orAny(v)})
	}

	var pkgs []Entry
	seen := map[Entry]bool{}
	add := func(e Entry) {
		if !seen[e] {
			seen[e] = true
			pkgs = append(pkgs, e)
		}
	}
	for _, key := range config.SortedKeys(dependencies) {
		switch v := dependencies[key].(type) {
		case config.Map:
			if v["ext"] != nil {
				continue
			}
			if section := config.ScalarString(v["compile"]); section != "" {
				if l.Compile == nil {
					continue
				}
				for _, e := range packageEntries(l.Compile(section)) {
					add(e)
				}
				continue
			}
			add(Entry{Kind: "pkg", Name: key, Version: orAny(config.ScalarString(v["version"]))})
		default:
			add(Entry{Kind: "pkg", Name: key, Version: orAny(config.ScalarString(v))})
		}
	}
	sort.SliceStable(pkgs, func(i, j int) bool { return pkgs[i].Name < pkgs[j].Name })
	return append(out, pkgs...)
}

// packageEntries lists the plain package entries of a mapping.
func packageEntries(dependencies config.Map) []Entry {
	var out []Entry
	for _, key := range config.SortedKeys(dependencies) {
		switch v := dependencies[key].(type) {
		case config.Map:
			if v["ext"] != nil || v["compile"] != nil {
				continue
			}
			out = append(out, Entry{Kind: "pkg", Name: key, Version: orAny(config.ScalarString(v["version"]))})
		default:
			out = append(out, Entry{Kind: "pkg", Name: key, Version: orAny(config.ScalarString(v))})
		}
	}
	return out
}

func orAny(v string) string {
	if v == "" {
		return "*"
	}
	return v
}
