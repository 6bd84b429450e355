// Package extsrc classifies where an extension definition lives and
// materializes remote definitions into the project volume.
package extsrc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"avocado/internal/config"
	"avocado/internal/shellargs"
)

// Source types accepted in ext.<name>.source.type.
const (
	TypePackage = "package"
	TypeGit     = "git"
	TypePath    = "path"
)

// IncludesDir is where fetched definitions live inside the volume,
// relative to $AVOCADO_PREFIX.
const IncludesDir = "includes"

// Source is a parsed ext.<name>.source block.
type Source struct {
	Type string

	// package
	Version  string
	Package  string
	RepoName string

	// git
	URL            string
	Ref            string
	SparseCheckout []string

	// path
	Path string

	Include []string
}

// ParseSource reads the source block of an extension section. It returns
// nil when the extension declares no source.
func ParseSource(name string, ext config.Map) (*Source, error) {
	raw, ok := ext["source"]
	if !ok || raw == nil {
		return nil, nil
	}
	m, ok := raw.(config.Map)
	if !ok {
		return nil, fmt.Errorf("failed to parse source configuration for extension '%s': expected a mapping", name)
	}

	src := &Source{
		Type:           config.ScalarString(m["type"]),
		Version:        config.ScalarString(m["version"]),
		Package:        config.ScalarString(m["package"]),
		RepoName:       config.ScalarString(m["repo_name"]),
		URL:            config.ScalarString(m["url"]),
		Ref:            config.ScalarString(m["ref"]),
		SparseCheckout: config.StringList(m["sparse_checkout"]),
		Path:           config.ScalarString(m["path"]),
		Include:        config.StringList(m["include"]),
	}
	if src.Type == "repo" {
		src.Type = TypePackage
	}

	switch src.Type {
	case TypePackage:
		if src.Version == "" {
			src.Version = "*"
		}
	case TypeGit:
		if src.URL == "" {
			return nil, fmt.Errorf("extension '%s': git source requires url", name)
		}
	case TypePath:
		if src.Path == "" {
			return nil, fmt.Errorf("extension '%s': path source requires path", name)
		}
	case "":
		return nil, fmt.Errorf("extension '%s': source type is required (package, git or path)", name)
	default:
		return nil, fmt.Errorf("extension '%s': unknown source type '%s'", name, src.Type)
	}
	return src, nil
}

// PackageSpec is the DNF specifier for a package source: name or
// name-version.
func (s Source) PackageSpec(extName string) string {
	name := s.Package
	if name == "" {
		name = extName
	}
	if s.Version == "" || s.Version == "*" {
		return name
	}
	return name + "-" + s.Version
}

// Intent describes how a source becomes visible to the SDK container.
// Exactly one of Script and HostPath is set.
type Intent struct {
	// Script installs the definition under $AVOCADO_PREFIX/includes/<name>.
	Script string
	// HostPath is bind-mounted read-only at /mnt/ext/<name>.
	HostPath string
}

// Resolve turns the source into an install intent. srcDir is the src_dir of
// the declaring manifest, used for path sources.
func (s Source) Resolve(extName, srcDir string) (Intent, error) {
	switch s.Type {
	case TypePackage:
		return Intent{Script: packageFetchScript(extName, s)}, nil
	case TypeGit:
		return Intent{Script: gitFetchScript(extName, s)}, nil
	case TypePath:
		dir, err := ResolvePath(s.Path, srcDir)
		if err != nil {
			return Intent{}, fmt.Errorf("extension '%s': %w", extName, err)
		}
		return Intent{HostPath: dir}, nil
	default:
		return Intent{}, fmt.Errorf("extension '%s': unknown source type '%s'", extName, s.Type)
	}
}

// ResolvePath makes a path source absolute and checks it holds a manifest.
func ResolvePath(p, srcDir string) (string, error) {
	dir := p
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(srcDir, dir)
	}
	dir = filepath.Clean(dir)
	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("extension source path does not exist: %s", dir)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("extension source path is not a directory: %s", dir)
	}
	if ManifestIn(dir) == "" {
		return "", fmt.Errorf("extension source path %s contains no avocado.yaml or avocado.yml", dir)
	}
	return dir, nil
}

// ManifestIn returns the manifest file inside dir, or "".
func ManifestIn(dir string) string {
	for _, name := range []string{"avocado.yaml", "avocado.yml"} {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

// IsInstalled reports whether dir/<name> holds an extension manifest.
func IsInstalled(dir, name string) bool {
	return ManifestIn(filepath.Join(dir, name)) != ""
}

func installPath(extName string) string {
	return fmt.Sprintf("$AVOCADO_PREFIX/%s/%s", IncludesDir, extName)
}

func packageFetchScript(extName string, s Source) string {
	spec := s.PackageSpec(extName)
	repoArg := ""
	if s.RepoName != "" {
		repoArg = "--repo=" + shellargs.Quote(s.RepoName)
	}
	dest := installPath(extName)

	return fmt.Sprintf(`set -e
TMPDIR=$(mktemp -d)
trap 'rm -rf "$TMPDIR"' EXIT

RPM_CONFIGDIR=$AVOCADO_SDK_PREFIX/usr/lib/rpm \
RPM_ETCCONFIGDIR=$AVOCADO_SDK_PREFIX \
$DNF_SDK_HOST \
    $DNF_SDK_HOST_OPTS \
    $DNF_SDK_COMBINED_REPO_CONF \
    %[1]s \
    --downloadonly \
    --downloaddir="$TMPDIR" \
    -y \
    install \
    %[2]s

RPM_FILE=$(ls -1 "$TMPDIR"/*.rpm 2>/dev/null | head -1)
if [ -z "$RPM_FILE" ]; then
    echo "[ERROR] Failed to download package '%[3]s' for extension '%[4]s'" >&2
    exit 1
fi

rm -rf "%[5]s"
mkdir -p "%[5]s"
cd "%[5]s"
rpm2cpio "$RPM_FILE" | cpio -idmv
echo "[SUCCESS] Fetched extension '%[4]s' (package: %[3]s)"
`, repoArg, shellargs.Quote(spec), spec, extName, dest)
}

func gitFetchScript(extName string, s Source) string {
	dest := installPath(extName)
	url := shellargs.Quote(s.URL)
	ref := s.Ref
	if ref == "" {
		ref = "HEAD"
	}
	quotedRef := shellargs.Quote(ref)

	var b strings.Builder
	fmt.Fprintf(&b, "set -e\nrm -rf \"%s\"\n", dest)
	if len(s.SparseCheckout) == 0 {
		fmt.Fprintf(&b, `git clone --depth 1 --branch %[1]s %[2]s "%[3]s" 2>/dev/null || \
    git clone --depth 1 %[2]s "%[3]s"
`, quotedRef, url, dest)
	} else {
		fmt.Fprintf(&b, `mkdir -p "%[1]s"
cd "%[1]s"
git init -q
git remote add origin %[2]s
git config core.sparseCheckout true
: > .git/info/sparse-checkout
`, dest, url)
		for _, p := range s.SparseCheckout {
			fmt.Fprintf(&b, "echo %s >> .git/info/sparse-checkout\n", shellargs.Quote(p))
		}
		fmt.Fprintf(&b, "git fetch --depth 1 origin %s\ngit checkout FETCH_HEAD\n", quotedRef)
		if len(s.SparseCheckout) == 1 {
			prefix := shellargs.Quote(strings.Trim(s.SparseCheckout[0], "/"))
			fmt.Fprintf(&b, `if [ -d %[1]s ]; then
    (cd %[1]s && tar cf - .) | tar xf -
    rm -rf %[1]s
fi
`, prefix)
		}
	}
	fmt.Fprintf(&b, "echo \"[SUCCESS] Fetched extension '%s' from %s\"\n", extName, s.URL)
	return b.String()
}

// InstalledCheckScript prints the name of every listed extension already
// present under $AVOCADO_PREFIX/includes.
func InstalledCheckScript(names []string) string {
	var b strings.Builder
	for _, name := range names {
		dir := installPath(name)
		fmt.Fprintf(&b, "if [ -f \"%[1]s/avocado.yaml\" ] || [ -f \"%[1]s/avocado.yml\" ]; then echo %[2]s; fi\n",
			dir, shellargs.Quote(name))
	}
	return b.String()
}
