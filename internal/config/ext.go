package config

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultExtVersion is used when an extension does not declare a version.
const DefaultExtVersion = "0.1.0"

// Extension types.
const (
	Sysext  = "sysext"
	Confext = "confext"
)

// Overlay modes.
const (
	OverlayMerge  = "merge"
	OverlayOpaque = "opaque"
)

// Extension is the typed view of a target-merged ext.<name> section.
type Extension struct {
	Name          string
	Version       string
	Types         []string
	SysextScopes  []string
	ConfextScopes []string
	ReloadManager bool
	Overlay       *Overlay
	// KernelModules are loaded with modprobe when the extension merges.
	KernelModules  []string
	OnMerge        []string
	EnableServices []string
	Users          []User
	Groups         []Group
	Package        PackageMeta
	Source         Map
}

// Overlay copies a host directory into the extension sysroot before the
// release file is written.
type Overlay struct {
	Dir  string
	Mode string
}

type User struct {
	Name string
	// Password is nil when the manifest leaves it unset, which locks the
	// account. An empty string allows passwordless login.
	Password *string
	UID      *int
	GID      *int
	Gecos    string
	Home     string
	Shell    string
	Groups   []string
}

type Group struct {
	Name string
	GID  *int
}

// PackageMeta carries RPM header fields for ext package.
type PackageMeta struct {
	Release     string
	Summary     string
	Description string
	License     string
	Vendor      string
	URL         string
	Group       string
}

// Has reports whether the extension builds the given type.
func (e Extension) Has(kind string) bool {
	for _, t := range e.Types {
		if t == kind {
			return true
		}
	}
	return false
}

// Extension returns the typed view of ext.<name>.
func (c *Composed) Extension(name string) (Extension, error) {
	if !c.HasExt(name) {
		return Extension{}, fmt.Errorf("extension '%s' not found in configuration", name)
	}
	section := c.Ext(name)
	if section == nil {
		section = Map{}
	}

	ext := Extension{
		Name:          name,
		Version:       DefaultExtVersion,
		ReloadManager: true,
		Source:        MapAt(section, "source"),
	}
	if v, ok := section["version"]; ok && v != nil {
		ext.Version = ScalarString(v)
	}

	types, err := extensionTypes(section)
	if err != nil {
		return Extension{}, fmt.Errorf("ext.%s: %w", name, err)
	}
	ext.Types = types

	scopes := []string{"system"}
	if v, ok := section["scopes"]; ok {
		scopes = StringList(v)
	}
	ext.SysextScopes = scopes
	ext.ConfextScopes = scopes
	if v, ok := section["sysext_scopes"]; ok {
		ext.SysextScopes = StringList(v)
	}
	if v, ok := section["confext_scopes"]; ok {
		ext.ConfextScopes = StringList(v)
	}
	if v, ok := section["reload_service_manager"].(bool); ok {
		ext.ReloadManager = v
	}

	switch ov := section["overlay"].(type) {
	case string:
		ext.Overlay = &Overlay{Dir: ov, Mode: OverlayMerge}
	case Map:
		mode := ScalarString(ov["mode"])
		if mode == "" {
			mode = OverlayMerge
		}
		if mode != OverlayMerge && mode != OverlayOpaque {
			return Extension{}, fmt.Errorf("ext.%s.overlay.mode: unknown mode '%s'", name, mode)
		}
		ext.Overlay = &Overlay{Dir: ScalarString(ov["dir"]), Mode: mode}
	}
	if ext.Overlay != nil && ext.Overlay.Dir == "" {
		return Extension{}, fmt.Errorf("ext.%s.overlay: dir is required", name)
	}

	ext.KernelModules = StringList(section["kernel_modules"])
	ext.OnMerge = StringList(section["on_merge"])
	ext.EnableServices = StringList(section["enable_services"])

	users := MapAt(section, "users")
	for _, uname := range SortedKeys(users) {
		u, err := parseUser(uname, users[uname])
		if err != nil {
			return Extension{}, fmt.Errorf("ext.%s.users.%s: %w", name, uname, err)
		}
		ext.Users = append(ext.Users, u)
	}
	groups := MapAt(section, "groups")
	for _, gname := range SortedKeys(groups) {
		g := Group{Name: gname}
		if gm, ok := groups[gname].(Map); ok {
			gid, err := optionalInt(gm["gid"])
			if err != nil {
				return Extension{}, fmt.Errorf("ext.%s.groups.%s.gid: %w", name, gname, err)
			}
			g.GID = gid
		}
		ext.Groups = append(ext.Groups, g)
	}

	ext.Package = PackageMeta{
		Release:     stringOr(section["release"], "1"),
		Summary:     stringOr(section["summary"], fmt.Sprintf("Avocado extension %s", name)),
		Description: stringOr(section["description"], fmt.Sprintf("Avocado extension %s", name)),
		License:     stringOr(section["license"], "Unspecified"),
		Vendor:      stringOr(section["vendor"], "Unspecified"),
		URL:         ScalarString(section["url"]),
		Group:       stringOr(section["group"], "system-extension"),
	}
	return ext, nil
}

func extensionTypes(section Map) ([]string, error) {
	var types []string
	if v, ok := section["types"]; ok {
		for _, t := range StringList(v) {
			if t != Sysext && t != Confext {
				return nil, fmt.Errorf("unknown extension type '%s' (expected sysext or confext)", t)
			}
			types = append(types, t)
		}
	} else {
		if b, _ := section[Sysext].(bool); b {
			types = append(types, Sysext)
		}
		if b, _ := section[Confext].(bool); b {
			types = append(types, Confext)
		}
	}
	if len(types) == 0 {
		return nil, fmt.Errorf("at least one of sysext or confext must be enabled")
	}
	return types, nil
}

func parseUser(name string, v any) (User, error) {
	u := User{Name: name}
	m, ok := v.(Map)
	if !ok {
		return u, nil
	}
	if pw, present := m["password"]; present {
		s := ScalarString(pw)
		u.Password = &s
	}
	var err error
	if u.UID, err = optionalInt(m["uid"]); err != nil {
		return User{}, fmt.Errorf("uid: %w", err)
	}
	if u.GID, err = optionalInt(m["gid"]); err != nil {
		return User{}, fmt.Errorf("gid: %w", err)
	}
	u.Gecos = ScalarString(m["gecos"])
	u.Home = ScalarString(m["home"])
	u.Shell = ScalarString(m["shell"])
	u.Groups = StringList(m["groups"])
	return u, nil
}

func optionalInt(v any) (*int, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case int:
		return &t, nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return nil, fmt.Errorf("expected an integer, got '%s'", t)
		}
		return &n, nil
	default:
		return nil, fmt.Errorf("expected an integer, got %T", v)
	}
}

func stringOr(v any, fallback string) string {
	if s := ScalarString(v); s != "" {
		return s
	}
	return fallback
}

// ValidateSemver checks MAJOR.MINOR.PATCH with optional -pre and +build
// suffixes.
func ValidateSemver(version string) error {
	core := version
	if i := strings.IndexAny(core, "-+"); i >= 0 {
		core = core[:i]
	}
	parts := strings.Split(core, ".")
	if len(parts) != 3 {
		return fmt.Errorf("version '%s' must follow semantic versioning (MAJOR.MINOR.PATCH, e.g. 1.0.0)", version)
	}
	for i, part := range parts {
		if _, err := strconv.ParseUint(part, 10, 32); err != nil {
			component := [...]string{"MAJOR", "MINOR", "PATCH"}[i]
			return fmt.Errorf("%s version component '%s' must be a non-negative integer", component, part)
		}
	}
	return nil
}
