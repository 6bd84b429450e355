package scripts

import (
	"sort"
	"strings"

	"avocado/internal/config"
)

// Scope selects which install root a DNF invocation targets.
type Scope int

const (
	// ScopeSDK installs host tooling into the SDK prefix.
	ScopeSDK Scope = iota
	// ScopeTargetSysroot installs into the SDK's target sysroot, used by
	// compile sections.
	ScopeTargetSysroot
	// ScopeExtension installs into an extension sysroot.
	ScopeExtension
	// ScopeRuntime installs into a runtime sysroot.
	ScopeRuntime
)

// InstallRoot returns the container path DNF installs into for scope.
func InstallRoot(scope Scope, name string) string {
	switch scope {
	case ScopeTargetSysroot:
		return "$AVOCADO_SDK_PREFIX/target-sysroot"
	case ScopeExtension:
		return "$AVOCADO_EXT_SYSROOTS/" + name
	case ScopeRuntime:
		return "$AVOCADO_PREFIX/runtimes/" + name
	default:
		return ""
	}
}

func dnfPrefix(scope Scope, name string) string {
	if scope == ScopeSDK {
		return `RPM_ETCCONFIGDIR=$AVOCADO_SDK_PREFIX \
RPM_CONFIGDIR=$AVOCADO_SDK_PREFIX/usr/lib/rpm \
$DNF_SDK_HOST \
    $DNF_SDK_HOST_OPTS \
    $DNF_SDK_REPO_CONF`
	}
	return `RPM_ETCCONFIGDIR=$DNF_SDK_TARGET_PREFIX \
$DNF_SDK_HOST \
    $DNF_SDK_HOST_OPTS \
    $DNF_SDK_TARGET_REPO_CONF \
    --installroot="` + InstallRoot(scope, name) + `"`
}

// PackageList turns a dependencies mapping into DNF package specs. A "*"
// version installs the latest; any other string pins name-version. Entries
// that reference extensions or compile sections are not packages.
func PackageList(deps config.Map) []string {
	var pkgs []string
	for _, name := range config.SortedKeys(deps) {
		switch v := deps[name].(type) {
		case nil:
			pkgs = append(pkgs, name)
		case config.Map:
			if v["ext"] != nil || v["compile"] != nil || v["vsn"] != nil {
				continue
			}
			if ver := config.ScalarString(v["version"]); ver != "" && ver != "*" {
				pkgs = append(pkgs, name+"-"+ver)
				continue
			}
			pkgs = append(pkgs, name)
		default:
			ver := config.ScalarString(v)
			if ver == "" || ver == "*" {
				pkgs = append(pkgs, name)
			} else {
				pkgs = append(pkgs, name+"-"+ver)
			}
		}
	}
	return pkgs
}

// InstallOptions tune a DNF install.
type InstallOptions struct {
	// Yes answers prompts non-interactively.
	Yes bool
	// NoWeakDeps sets install_weak_deps=0.
	NoWeakDeps bool
	Args       []string
}

// Install renders a DNF install of pkgs into scope.
func Install(scope Scope, name string, pkgs []string, opts InstallOptions) string {
	var b strings.Builder
	b.WriteString(dnfPrefix(scope, name))
	if opts.NoWeakDeps {
		b.WriteString(" \\\n    --setopt=install_weak_deps=0")
	}
	for _, arg := range opts.Args {
		b.WriteString(" \\\n    " + Quote(arg))
	}
	b.WriteString(" \\\n    install")
	if opts.Yes {
		b.WriteString(" \\\n    -y")
	}
	b.WriteString(" \\\n    " + QuoteAll(pkgs))
	b.WriteByte('\n')
	return b.String()
}

// DNF renders a raw DNF invocation against scope. Extension and runtime
// sysroots are created first.
func DNF(scope Scope, name string, args []string) string {
	bl := &Builder{}
	if root := InstallRoot(scope, name); root != "" && scope != ScopeTargetSysroot {
		bl.Line(`mkdir -p "%s"`, root)
	}
	bl.Line("%s \\\n    %s", dnfPrefix(scope, name), QuoteAll(args))
	return bl.String()
}

// RuntimeInstall prepares the runtime installroot from the rootfs RPM
// database and installs pkgs into it.
func RuntimeInstall(runtime string, pkgs []string, opts InstallOptions) string {
	root := InstallRoot(ScopeRuntime, runtime)
	bl := NewBuilder()
	bl.Section("installroot")
	bl.Line(`if [ ! -d "%s/var/lib/rpm" ]; then`, root)
	bl.Line(`    mkdir -p "%s/var/lib"`, root)
	bl.Line(`    cp -rf "$AVOCADO_PREFIX/rootfs/var/lib/rpm" "%s/var/lib"`, root)
	bl.Line(`fi`)
	if len(pkgs) > 0 {
		bl.Section("packages")
		bl.Raw(Install(ScopeRuntime, runtime, pkgs, opts))
	}
	return bl.String()
}

// VersionedPackages maps versioned extension references to package specs.
func VersionedPackages(versions map[string]string) []string {
	names := make([]string, 0, len(versions))
	for name := range versions {
		names = append(names, name)
	}
	sort.Strings(names)
	pkgs := make([]string, 0, len(names))
	for _, name := range names {
		v := versions[name]
		if v == "" || v == "*" {
			pkgs = append(pkgs, name)
			continue
		}
		pkgs = append(pkgs, name+"-"+v)
	}
	return pkgs
}
