package extsrc

import (
	"fmt"

	"avocado/internal/config"
)

// Kind classifies where an extension definition lives.
type Kind int

const (
	Local Kind = iota
	External
	Remote
)

func (k Kind) String() string {
	switch k {
	case Local:
		return "local"
	case External:
		return "external"
	case Remote:
		return "remote"
	default:
		return "unknown"
	}
}

// Location is the resolved home of one extension.
type Location struct {
	Name string
	Kind Kind
	// ConfigPath is the manifest declaring the extension. For remote
	// extensions that are not installed yet it is the root manifest.
	ConfigPath string
	// SrcDir is the src_dir of the manifest whose ext section declares the
	// extension; path sources resolve against it.
	SrcDir string
	// Source is set for Remote locations.
	Source *Source
}

// Label is the short form shown by ext list.
func (l Location) Label() string {
	if l.Kind == Remote && l.Source != nil {
		return l.Source.Type
	}
	return l.Kind.String()
}

// Locate classifies extension name within a composed configuration.
func Locate(c *config.Composed, name string) (Location, error) {
	if !c.HasExt(name) {
		return Location{}, fmt.Errorf("extension '%s' not found in configuration", name)
	}
	loc := Location{
		Name:       name,
		ConfigPath: c.ExtManifest(name).Path,
		SrcDir:     c.DeclaringManifest(name).SrcDir(),
	}

	src, err := ParseSource(name, c.Ext(name))
	if err != nil {
		return Location{}, err
	}
	switch {
	case src != nil:
		loc.Kind = Remote
		loc.Source = src
	case c.IsExternal(name):
		loc.Kind = External
	default:
		loc.Kind = Local
	}
	return loc, nil
}

// LocateAll classifies every extension in the composition, in name order.
func LocateAll(c *config.Composed) ([]Location, error) {
	names := c.ExtNames()
	locs := make([]Location, 0, len(names))
	for _, name := range names {
		loc, err := Locate(c, name)
		if err != nil {
			return nil, err
		}
		locs = append(locs, loc)
	}
	return locs, nil
}

// RemoteSources returns the remote extensions among names, or among all
// extensions when names is empty.
func RemoteSources(c *config.Composed, names []string) ([]Location, error) {
	if len(names) == 0 {
		names = c.ExtNames()
	}
	var out []Location
	for _, name := range names {
		loc, err := Locate(c, name)
		if err != nil {
			return nil, err
		}
		if loc.Kind == Remote {
			out = append(out, loc)
		}
	}
	return out, nil
}
