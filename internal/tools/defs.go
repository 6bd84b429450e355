package tools

import (
	"runtime"
	"sort"
)

// Definition describes an external program avocado drives.
type Definition struct {
	Name          string
	VersionSwitch []string
}

var definitions = map[string]Definition{
	"docker":       {Name: "docker", VersionSwitch: []string{"--version"}},
	"podman":       {Name: "podman", VersionSwitch: []string{"--version"}},
	"ganesha.nfsd": {Name: "ganesha.nfsd", VersionSwitch: []string{"-v"}},
	"git":          {Name: "git", VersionSwitch: []string{"--version"}},
}

func executableName(base string) string {
	if runtime.GOOS == "windows" {
		return base + ".exe"
	}
	return base
}

// KnownTools returns the probed tool names.
func KnownTools() []string {
	names := make([]string, 0, len(definitions))
	for name := range definitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the definition for name.
func Lookup(name string) (Definition, bool) {
	def, ok := definitions[name]
	return def, ok
}
