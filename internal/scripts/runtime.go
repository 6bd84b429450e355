package scripts

import (
	"fmt"
	"strings"
)

// RuntimeImage is one extension image placed into a runtime.
type RuntimeImage struct {
	Name    string
	Version string
	// Installed marks images delivered by a versioned package into the
	// runtime sysroot rather than built by this project.
	Installed bool
}

// FileName is the image's .raw file name.
func (i RuntimeImage) FileName() string {
	return i.Name + "-" + i.Version + ".raw"
}

// RuntimeBuildInput carries the host-side values of a runtime build.
type RuntimeBuildInput struct {
	Runtime       string
	Target        string
	BuildID       string
	BuiltAt       string
	DistroVersion string
	Images        []RuntimeImage
}

// RuntimeBuild renders the assembly of a runtime's var partition: images
// are copied into the runtime, hard-linked into var-staging, recorded in a
// manifest keyed by build id, and the SDK build hook is invoked.
func RuntimeBuild(in RuntimeBuildInput) string {
	bl := NewBuilder()
	bl.Var("RUNTIME_NAME", in.Runtime)
	bl.Var("TARGET_ARCH", in.Target)
	bl.Line(`RUNTIME_DIR="$AVOCADO_PREFIX/runtimes/$RUNTIME_NAME"`)
	bl.Line(`VAR_DIR="$RUNTIME_DIR/var-staging"`)
	bl.Line(`RUNTIME_EXT_DIR="$RUNTIME_DIR/extensions"`)

	bl.Section("os release")
	bl.Line(`VERSION_ID=""`)
	bl.Line(`if [ -f "$AVOCADO_PREFIX/rootfs/etc/os-release" ]; then`)
	bl.Line(`    . "$AVOCADO_PREFIX/rootfs/etc/os-release"`)
	bl.Line(`fi`)
	bl.Line(`VERSION_ID=${VERSION_ID:-unknown}`)
	bl.Line(`mkdir -p "$VAR_DIR/lib/avocado/extensions" "$VAR_DIR/lib/avocado/images" "$VAR_DIR/lib/avocado/os-releases/$VERSION_ID" "$VAR_DIR/lib/avocado/runtimes"`)
	bl.Line(`mkdir -p "$RUNTIME_EXT_DIR"`)
	bl.Line(`rm -f "$RUNTIME_EXT_DIR"/*.raw "$VAR_DIR/lib/avocado/extensions"/*.raw 2>/dev/null || true`)

	bl.Section("extension images")
	if len(in.Images) == 0 {
		bl.Line(`# no extensions`)
	}
	for _, img := range in.Images {
		src := ImagePath(img.Name, img.Version)
		if img.Installed {
			src = fmt.Sprintf("$RUNTIME_DIR/var/lib/avocado/extensions/%s", img.FileName())
		}
		bl.Line(`if [ -f "%s" ]; then`, src)
		bl.Line(`    cp -f "%s" "$RUNTIME_EXT_DIR/%s"`, src, img.FileName())
		bl.Line(`    ln -f "$RUNTIME_EXT_DIR/%[1]s" "$VAR_DIR/lib/avocado/extensions/%[1]s"`, img.FileName())
		bl.Line(`    ln -sf "../../extensions/%[1]s" "$VAR_DIR/lib/avocado/os-releases/$VERSION_ID/%[1]s"`, img.FileName())
		bl.Line(`    echo "  Copied: %s"`, img.FileName())
		bl.Line(`else`)
		bl.Line(`    echo "[ERROR] Extension image not found: %s"`, src)
		bl.Line(`    exit 1`)
		bl.Line(`fi`)
	}

	bl.Section("manifest")
	bl.Var("BUILD_ID", in.BuildID)
	bl.Line(`MANIFEST_DIR="$VAR_DIR/lib/avocado/runtimes/$BUILD_ID"`)
	bl.Line(`mkdir -p "$MANIFEST_DIR"`)
	bl.Line(`{`)
	bl.Line(`    printf '{\n  "manifest_version": 1,\n'`)
	bl.Raw(`    printf '  "id": "%s",\n' "$BUILD_ID"`)
	bl.Line(`    printf '  "built_at": "%s",\n'`, escapeDouble(in.BuiltAt))
	bl.Line(`    printf '  "runtime": {"name": "%%s", "version": "%s"},\n' "$RUNTIME_NAME"`, escapeDouble(in.DistroVersion))
	bl.Line(`    printf '  "extensions": ['`)
	bl.Line(`    sep=""`)
	for _, img := range in.Images {
		bl.Line(`    sum=$(sha256sum "$RUNTIME_EXT_DIR/%s" | awk '{print $1}')`, img.FileName())
		bl.Line(`    printf '%%s\n    {"name": "%s", "version": "%s", "sha256": "%%s"}' "$sep" "$sum"`, img.Name, img.Version)
		bl.Line(`    sep=","`)
	}
	bl.Line(`    printf '\n  ]\n}\n'`)
	bl.Line(`} > "$MANIFEST_DIR/manifest.json"`)
	bl.Line(`ln -sfn "runtimes/$BUILD_ID" "$VAR_DIR/lib/avocado/active"`)
	bl.Line(`echo "Created runtime manifest: runtimes/$BUILD_ID/manifest.json"`)

	bl.Section("build hook")
	bl.Line(`echo "[INFO] Running SDK lifecycle hook 'avocado-build' for '$TARGET_ARCH'."`)
	bl.Line(`avocado-build-$TARGET_ARCH "$RUNTIME_NAME"`)
	return bl.String()
}

// checksumCommands maps checksum algorithms to their coreutils tools.
var checksumCommands = map[string]string{
	"sha256":  "sha256sum",
	"sha384":  "sha384sum",
	"sha512":  "sha512sum",
	"blake2b": "b2sum",
}

// RuntimeSign renders checksum manifests for every image file of a
// runtime. An optional key id is recorded next to each checksum.
func RuntimeSign(runtime string, images []RuntimeImage, algorithm, keyID string) (string, error) {
	tool, ok := checksumCommands[strings.ToLower(algorithm)]
	if !ok {
		return "", fmt.Errorf("unsupported checksum algorithm '%s'", algorithm)
	}
	ext := strings.ToLower(algorithm)

	bl := NewBuilder()
	bl.Var("RUNTIME_NAME", runtime)
	bl.Line(`RUNTIME_EXT_DIR="$AVOCADO_PREFIX/runtimes/$RUNTIME_NAME/extensions"`)
	bl.Line(`if [ ! -d "$RUNTIME_EXT_DIR" ]; then`)
	bl.Line(`    echo "[ERROR] Runtime '$RUNTIME_NAME' has not been built."`)
	bl.Line(`    exit 1`)
	bl.Line(`fi`)
	bl.Section("checksums")
	for _, img := range images {
		file := `"$RUNTIME_EXT_DIR/` + img.FileName() + `"`
		bl.Line(`%s %s | awk '{print $1}' > "$RUNTIME_EXT_DIR/%s.%s"`, tool, file, img.FileName(), ext)
		if keyID != "" {
			bl.Line(`echo "%s" > "$RUNTIME_EXT_DIR/%s.%s.key"`, escapeDouble(keyID), img.FileName(), ext)
		}
		bl.Line(`echo "  Signed: %s"`, img.FileName())
	}
	return bl.String(), nil
}

// ProvisionStatePath is where a profile's persisted state lives inside the
// volume while the provision hook runs.
func ProvisionStatePath(target, runtime string) string {
	return fmt.Sprintf("/opt/_avocado/%s/output/runtimes/%s/provision-state.state", target, runtime)
}

// ProvisionInput carries the host-side values of a provision run.
type ProvisionInput struct {
	Runtime string
	Target  string
	// StateFile is the container path of the host state file, relative to
	// /opt/src, or empty when the profile keeps no state.
	StateFile string
	// StateExists reports whether the host state file exists before the run.
	StateExists bool
}

// RuntimeProvision renders the provision hook invocation, restoring and
// persisting profile state around it.
func RuntimeProvision(in ProvisionInput) string {
	bl := NewBuilder()
	state := ProvisionStatePath(in.Target, in.Runtime)
	if in.StateFile != "" {
		bl.Section("restore state")
		bl.Line(`mkdir -p "$(dirname %s)"`, Quote(state))
		if in.StateExists {
			bl.Line(`cp %s %s`, Quote("/opt/src/"+in.StateFile), Quote(state))
		} else {
			bl.Line(`rm -f %s`, Quote(state))
		}
		bl.Line(`export AVOCADO_PROVISION_STATE=%s`, Quote(state))
	}

	bl.Section("provision hook")
	bl.Line(`echo "[INFO] Running SDK lifecycle hook 'avocado-provision' for '%s'."`, escapeDouble(in.Runtime))
	bl.Line(`avocado-provision-%s %s`, in.Target, Quote(in.Runtime))

	if in.StateFile != "" {
		bl.Section("persist state")
		bl.Line(`if [ -f %s ]; then`, Quote(state))
		bl.Line(`    mkdir -p "$(dirname %s)"`, Quote("/opt/src/"+in.StateFile))
		bl.Line(`    cp %s %s`, Quote(state), Quote("/opt/src/"+in.StateFile))
		bl.Line(`fi`)
	}
	return bl.String()
}
