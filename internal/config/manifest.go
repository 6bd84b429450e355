package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Manifest is one parsed avocado.yaml as it appears on disk, before
// composition.
type Manifest struct {
	// Path is the absolute path of the manifest file.
	Path string
	Raw  Map
}

// rootAliases maps accepted alternate root keys to their canonical name.
var rootAliases = map[string]string{
	"runtimes":   "runtime",
	"extensions": "ext",
}

// LoadManifest reads and parses the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve manifest path: %w", err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("configuration file '%s' not found: %w", abs, err)
		}
		return nil, fmt.Errorf("read manifest %s: %w", abs, err)
	}
	return ParseManifest(abs, data)
}

// ParseManifest decodes manifest bytes. path is recorded verbatim and used
// for relative path resolution.
func ParseManifest(path string, data []byte) (*Manifest, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	raw := Map{}
	if doc != nil {
		m, ok := normalize(doc).(Map)
		if !ok {
			return nil, fmt.Errorf("parse manifest %s: top level must be a mapping", path)
		}
		raw = m
	}
	applyAliases(raw)
	return &Manifest{Path: path, Raw: raw}, nil
}

func applyAliases(raw Map) {
	for alias, canonical := range rootAliases {
		aliased, ok := raw[alias]
		if !ok {
			continue
		}
		delete(raw, alias)
		aliasedMap, isMap := aliased.(Map)
		existing, hasCanonical := raw[canonical].(Map)
		switch {
		case !isMap:
			if _, taken := raw[canonical]; !taken {
				raw[canonical] = aliased
			}
		case hasCanonical:
			mergeMissing(existing, aliasedMap)
		default:
			raw[canonical] = aliasedMap
		}
	}
}

// Dir returns the directory containing the manifest.
func (m *Manifest) Dir() string {
	return filepath.Dir(m.Path)
}

// SrcDir returns the manifest's declared src_dir resolved against its
// directory, or the directory itself when src_dir is absent.
func (m *Manifest) SrcDir() string {
	declared, ok := m.Raw["src_dir"].(string)
	if !ok || declared == "" {
		return m.Dir()
	}
	return resolveExternalPath(m.Dir(), declared)
}

// ResolvePath resolves a path-form reference declared in this manifest.
func (m *Manifest) ResolvePath(p string) string {
	return resolveExternalPath(m.SrcDir(), p)
}
