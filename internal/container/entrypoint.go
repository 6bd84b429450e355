package container

import (
	"fmt"
	"sort"
	"strings"
)

const (
	// SrcMount is where the project src_dir appears in the container.
	SrcMount = "/opt/src"
	// VolumeMount is where the persistent volume appears.
	VolumeMount = "/opt/_avocado"
	// ExtMountRoot holds read-only mounts of path-source extensions.
	ExtMountRoot = "/mnt/ext"
)

const entrypointEnv = `set -e

if [ -n "$AVOCADO_SDK_REPO_URL" ]; then
    REPO_URL="$AVOCADO_SDK_REPO_URL"
else
    REPO_URL="https://repo.avocadolinux.org"
fi

if [ -n "$AVOCADO_SDK_REPO_RELEASE" ]; then
    REPO_RELEASE="$AVOCADO_SDK_REPO_RELEASE"
else
    if [ -f /etc/os-release ]; then
        REPO_RELEASE=$(grep "^VERSION_CODENAME=" /etc/os-release | cut -d= -f2 | tr -d '"')
    fi
    REPO_RELEASE=${REPO_RELEASE:-dev}
fi

export AVOCADO_PREFIX="/opt/_avocado/${AVOCADO_TARGET}"
export AVOCADO_SDK_PREFIX="${AVOCADO_PREFIX}/sdk"
export AVOCADO_EXT_SYSROOTS="${AVOCADO_PREFIX}/extensions"
export AVOCADO_RUNTIME_SYSROOTS="${AVOCADO_PREFIX}/runtimes"
export DNF_SDK_HOST_PREFIX="${AVOCADO_SDK_PREFIX}"
export DNF_SDK_TARGET_PREFIX="${AVOCADO_SDK_PREFIX}/target-repoconf"
export DNF_SDK_HOST="\
dnf \
--releasever="$REPO_RELEASE" \
--best \
--setopt=tsflags=noscripts \
"

export DNF_SDK_HOST_OPTS="\
--setopt=cachedir=${DNF_SDK_HOST_PREFIX}/var/cache \
--setopt=logdir=${DNF_SDK_HOST_PREFIX}/var/log \
--setopt=persistdir=${DNF_SDK_HOST_PREFIX}/var/lib/dnf \
"

export DNF_SDK_HOST_REPO_CONF="\
--setopt=varsdir=${DNF_SDK_HOST_PREFIX}/etc/dnf/vars \
--setopt=reposdir=${DNF_SDK_HOST_PREFIX}/etc/yum.repos.d \
"

export DNF_SDK_REPO_CONF="\
--setopt=varsdir=${DNF_SDK_HOST_PREFIX}/etc/dnf/vars \
--setopt=reposdir=${DNF_SDK_TARGET_PREFIX}/etc/yum.repos.d \
"

export DNF_SDK_TARGET_REPO_CONF="\
--setopt=varsdir=${DNF_SDK_TARGET_PREFIX}/etc/dnf/vars \
--setopt=reposdir=${DNF_SDK_TARGET_PREFIX}/etc/yum.repos.d \
"

export DNF_SDK_COMBINED_REPO_CONF="\
--setopt=varsdir=${DNF_SDK_HOST_PREFIX}/etc/dnf/vars \
--setopt=reposdir=${DNF_SDK_HOST_PREFIX}/etc/yum.repos.d,${DNF_SDK_TARGET_PREFIX}/etc/yum.repos.d \
"

if [ -n "$AVOCADO_DNF_ARGS" ]; then
    DNF_SDK_HOST_OPTS="$DNF_SDK_HOST_OPTS $AVOCADO_DNF_ARGS"
fi

export RPM_NO_CHROOT_FOR_SCRIPTS=1
mkdir -p "$AVOCADO_PREFIX"
`

const entrypointInit = `
if [ ! -f "${AVOCADO_SDK_PREFIX}/environment-setup" ]; then
    echo "[INFO] Initializing Avocado SDK."
    mkdir -p $AVOCADO_SDK_PREFIX/etc
    mkdir -p $AVOCADO_EXT_SYSROOTS
    cp /etc/rpmrc $AVOCADO_SDK_PREFIX/etc
    cp -r /etc/rpm $AVOCADO_SDK_PREFIX/etc
    cp -r /etc/dnf $AVOCADO_SDK_PREFIX/etc
    cp -r /etc/yum.repos.d $AVOCADO_SDK_PREFIX/etc
    mkdir -p $AVOCADO_SDK_PREFIX/etc/dnf/vars
    echo "$REPO_URL" > $AVOCADO_SDK_PREFIX/etc/dnf/vars/repo_url

    mkdir -p $AVOCADO_SDK_PREFIX/usr/lib/rpm
    cp -r /usr/lib/rpm/* $AVOCADO_SDK_PREFIX/usr/lib/rpm/

    sed -i "s|^%_usr[[:space:]]*/usr$|%_usr                   $AVOCADO_SDK_PREFIX/usr|" $AVOCADO_SDK_PREFIX/usr/lib/rpm/macros
    sed -i "s|^%_var[[:space:]]*/var$|%_var                   $AVOCADO_SDK_PREFIX/var|" $AVOCADO_SDK_PREFIX/usr/lib/rpm/macros

    RPM_CONFIGDIR="$AVOCADO_SDK_PREFIX/usr/lib/rpm" \
        RPM_ETCCONFIGDIR="$AVOCADO_SDK_PREFIX" \
        $DNF_SDK_HOST $DNF_SDK_HOST_OPTS $DNF_SDK_HOST_REPO_CONF -y install "avocado-sdk-$AVOCADO_TARGET"

    RPM_CONFIGDIR="$AVOCADO_SDK_PREFIX/usr/lib/rpm" \
        RPM_ETCCONFIGDIR="$AVOCADO_SDK_PREFIX" \
        $DNF_SDK_HOST $DNF_SDK_HOST_OPTS $DNF_SDK_REPO_CONF check-update || true

    RPM_CONFIGDIR="$AVOCADO_SDK_PREFIX/usr/lib/rpm" \
        RPM_ETCCONFIGDIR="$AVOCADO_SDK_PREFIX" \
        $DNF_SDK_HOST $DNF_SDK_HOST_OPTS $DNF_SDK_REPO_CONF -y install avocado-sdk-toolchain

    echo "[INFO] Installing rootfs sysroot."
    RPM_ETCCONFIGDIR="$DNF_SDK_TARGET_PREFIX" \
        $DNF_SDK_HOST $DNF_SDK_TARGET_REPO_CONF \
        -y --installroot $AVOCADO_PREFIX/rootfs install avocado-pkg-rootfs

    echo "[INFO] Installing SDK target sysroot."
    RPM_ETCCONFIGDIR=$DNF_SDK_TARGET_PREFIX \
        $DNF_SDK_HOST $DNF_SDK_TARGET_REPO_CONF \
        -y --installroot ${AVOCADO_SDK_PREFIX}/target-sysroot \
        install packagegroup-core-standalone-sdk-target
fi

export RPM_ETCCONFIGDIR="$AVOCADO_SDK_PREFIX"
`

const entrypointSource = `
if [ -f "${AVOCADO_SDK_PREFIX}/environment-setup" ]; then
    source "${AVOCADO_SDK_PREFIX}/environment-setup"
fi
`

// Entrypoint renders the prologue run before the command body. It always
// exports the volume layout; with SourceEnvironment it also bootstraps the
// SDK on first use and sources its environment. pathExts lists the
// path-source extensions mounted under /mnt/ext.
func Entrypoint(cfg RunConfig, pathExts []string) string {
	var b strings.Builder
	b.WriteString(entrypointEnv)
	if cfg.SourceEnvironment {
		b.WriteString(entrypointInit)
	}

	if len(pathExts) > 0 {
		names := append([]string(nil), pathExts...)
		sort.Strings(names)
		b.WriteString("\nmkdir -p \"$AVOCADO_PREFIX/includes\"\n")
		for _, name := range names {
			fmt.Fprintf(&b, `mkdir -p "$AVOCADO_PREFIX/includes/%[1]s"
if ! mount --bind "%[2]s/%[1]s" "$AVOCADO_PREFIX/includes/%[1]s" 2>/dev/null; then
    rm -rf "$AVOCADO_PREFIX/includes/%[1]s"
    ln -sfn "%[2]s/%[1]s" "$AVOCADO_PREFIX/includes/%[1]s"
fi
`, name, ExtMountRoot)
		}
	}

	switch {
	case cfg.ExtensionSysroot != "":
		fmt.Fprintf(&b, "\nmkdir -p \"$AVOCADO_EXT_SYSROOTS/%[1]s\"\ncd \"$AVOCADO_EXT_SYSROOTS/%[1]s\"\n", cfg.ExtensionSysroot)
	case cfg.RuntimeSysroot != "":
		fmt.Fprintf(&b, "\nmkdir -p \"$AVOCADO_RUNTIME_SYSROOTS/%[1]s\"\ncd \"$AVOCADO_RUNTIME_SYSROOTS/%[1]s\"\n", cfg.RuntimeSysroot)
	default:
		fmt.Fprintf(&b, "\ncd %s\n", SrcMount)
	}

	if cfg.SourceEnvironment {
		b.WriteString(entrypointSource)
	}
	return b.String()
}
