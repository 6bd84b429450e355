package scripts

import (
	"fmt"
	"strings"

	"avocado/internal/config"
)

// SDKPackageArch is the arch of dependency-only SDK packages.
const SDKPackageArch = "all_avocadosdk"

// RPMArch maps a target to its package architecture.
func RPMArch(target string) string {
	return "avocado_" + strings.ReplaceAll(target, "-", "_")
}

// PayloadKind selects what an RPM carries.
type PayloadKind int

const (
	// PayloadSysroot packages the built extension sysroot.
	PayloadSysroot PayloadKind = iota
	// PayloadSource packages the extension's source tree so it can be
	// installed as a remote extension.
	PayloadSource
	// PayloadNone builds a dependency-only package.
	PayloadNone
)

// RPMPackage describes one rpmbuild invocation.
type RPMPackage struct {
	Name    string
	Version string
	Arch    string
	Meta    config.PackageMeta
	Payload PayloadKind
	// SourceDir is the container path packaged by PayloadSource.
	SourceDir string
	Requires  []string
}

// FileName is the RPM file name rpmbuild produces.
func (p RPMPackage) FileName() string {
	return fmt.Sprintf("%s-%s-%s.%s.rpm", p.Name, p.Version, p.Meta.Release, p.Arch)
}

// OutputPath is the container path the RPM is moved to.
func (p RPMPackage) OutputPath() string {
	return "$AVOCADO_PREFIX/output/extensions/" + p.FileName()
}

// Requires renders SDK dependencies as RPM requirements.
func Requires(deps config.Map) []string {
	var out []string
	for _, name := range config.SortedKeys(deps) {
		if m, ok := deps[name].(config.Map); ok {
			if m["ext"] != nil || m["compile"] != nil {
				continue
			}
			out = append(out, name)
			continue
		}
		v := config.ScalarString(deps[name])
		if v == "" || v == "*" {
			out = append(out, name)
			continue
		}
		out = append(out, name+" = "+v)
	}
	return out
}

// Spec renders the rpmbuild spec file.
func (p RPMPackage) Spec() string {
	var b strings.Builder
	b.WriteString("%define _buildhost reproducible\n")
	b.WriteString("AutoReqProv: no\n\n")
	fmt.Fprintf(&b, "Name: %s\n", p.Name)
	fmt.Fprintf(&b, "Version: %s\n", p.Version)
	fmt.Fprintf(&b, "Release: %s\n", p.Meta.Release)
	fmt.Fprintf(&b, "Summary: %s\n", p.Meta.Summary)
	fmt.Fprintf(&b, "License: %s\n", p.Meta.License)
	fmt.Fprintf(&b, "Vendor: %s\n", p.Meta.Vendor)
	fmt.Fprintf(&b, "Group: %s\n", p.Meta.Group)
	if p.Meta.URL != "" {
		fmt.Fprintf(&b, "URL: %s\n", p.Meta.URL)
	}
	if len(p.Requires) > 0 {
		fmt.Fprintf(&b, "Requires: %s\n", strings.Join(p.Requires, ", "))
	}
	fmt.Fprintf(&b, "\n%%description\n%s\n\n", p.Meta.Description)

	switch p.Payload {
	case PayloadNone:
		b.WriteString("%files\n\n%install\n\n")
	case PayloadSource:
		b.WriteString("%files\n/*\n\n%install\nmkdir -p %{buildroot}\ncp -rp \"$PAYLOAD_DIR\"/* %{buildroot}/\n\n")
	default:
		b.WriteString("%files\n/*\n\n%install\nmkdir -p %{buildroot}\ncp -a \"$PAYLOAD_DIR\"/. %{buildroot}/\n\n")
	}
	b.WriteString("%prep\n\n%build\n\n%changelog\n")
	return b.String()
}

// Build renders the full packaging script: payload checks, spec
// generation, rpmbuild, and moving the result into the output directory.
func (p RPMPackage) Build() string {
	bl := NewBuilder()
	bl.Line(`mkdir -p "$AVOCADO_PREFIX/output/extensions"`)

	switch p.Payload {
	case PayloadSysroot:
		bl.Section("payload")
		bl.Line(`PAYLOAD_DIR="$AVOCADO_EXT_SYSROOTS/%s"`, escapeDouble(p.Name))
		bl.Line(`if [ ! -d "$PAYLOAD_DIR" ]; then`)
		bl.Line(`    echo "[ERROR] Extension sysroot not found: $PAYLOAD_DIR"`)
		bl.Line(`    exit 1`)
		bl.Line(`fi`)
	case PayloadSource:
		bl.Section("payload")
		bl.Var("PAYLOAD_DIR", p.SourceDir)
		bl.Line(`if [ ! -f "$PAYLOAD_DIR/avocado.yaml" ] && [ ! -f "$PAYLOAD_DIR/avocado.yml" ]; then`)
		bl.Line(`    echo "[ERROR] No avocado.yaml found in $PAYLOAD_DIR"`)
		bl.Line(`    exit 1`)
		bl.Line(`fi`)
	}
	if p.Payload != PayloadNone {
		bl.Line(`FILE_COUNT=$(find "$PAYLOAD_DIR" -type f | wc -l)`)
		bl.Line(`if [ "$FILE_COUNT" -eq 0 ]; then`)
		bl.Line(`    echo "[ERROR] No files found in $PAYLOAD_DIR"`)
		bl.Line(`    exit 1`)
		bl.Line(`fi`)
		bl.Line(`export PAYLOAD_DIR`)
	}

	bl.Section("spec")
	bl.Line(`TMPDIR=$(mktemp -d)`)
	bl.Line(`trap 'rm -rf "$TMPDIR"' EXIT`)
	bl.Line(`cd "$TMPDIR"`)
	bl.Line(`mkdir -p BUILD RPMS SOURCES SPECS SRPMS`)
	bl.Line(`cat > SPECS/package.spec << 'SPEC_EOF'`)
	bl.Raw(p.Spec())
	bl.Line(`SPEC_EOF`)

	bl.Section("rpmbuild")
	bl.Line(`rpmbuild --define "_topdir $TMPDIR" --define "_arch %[1]s" --target %[1]s -bb SPECS/package.spec`, p.Arch)
	bl.Line(`RPM_FILE=$(find RPMS -name '*.rpm' | head -n 1)`)
	bl.Line(`if [ -z "$RPM_FILE" ]; then`)
	bl.Line(`    echo "[ERROR] Failed to find built RPM"`)
	bl.Line(`    exit 1`)
	bl.Line(`fi`)
	bl.Line(`mv "$RPM_FILE" "%s"`, p.OutputPath())
	bl.Line(`echo "RPM created successfully: %s"`, p.OutputPath())
	return bl.String()
}
