package scripts

import (
	"fmt"
	"strings"

	"github.com/mattn/go-shellwords"

	"avocado/internal/config"
)

// ExtBuildOptions carries the host-resolved inputs of an extension build.
type ExtBuildOptions struct {
	// OverlayDir is the container path of the overlay directory, if any.
	OverlayDir string
	// Users provisions users and groups in this pass.
	Users bool
	// OnMerge attaches the on-merge entries to this pass's release file.
	OnMerge bool
}

// OnMergeCommands validates the user-declared on_merge entries. Each
// entry stays one command; entries that parse to no words are rejected.
func OnMergeCommands(ext config.Extension) ([]string, error) {
	cmds := make([]string, 0, len(ext.OnMerge))
	for i, raw := range ext.OnMerge {
		words, err := shellwords.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("ext.%s.on_merge[%d]: %w", ext.Name, i, err)
		}
		if len(words) == 0 {
			return nil, fmt.Errorf("ext.%s.on_merge[%d]: empty command", ext.Name, i)
		}
		cmds = append(cmds, strings.TrimSpace(raw))
	}
	return cmds, nil
}

// ReleaseDir is the extension-release.d directory relative to the sysroot.
func ReleaseDir(kind string) string {
	if kind == config.Confext {
		return "etc/extension-release.d"
	}
	return "usr/lib/extension-release.d"
}

// ExtBuild renders the build of one extension type.
func ExtBuild(ext config.Extension, kind string, opts ExtBuildOptions) (string, error) {
	if kind != config.Sysext && kind != config.Confext {
		return "", fmt.Errorf("unknown extension type '%s'", kind)
	}
	onMerge, err := OnMergeCommands(ext)
	if err != nil {
		return "", err
	}

	scopes := ext.SysextScopes
	scopeVar := "SYSEXT_SCOPE"
	if kind == config.Confext {
		scopes = ext.ConfextScopes
		scopeVar = "CONFEXT_SCOPE"
	}

	bl := NewBuilder()
	bl.Var("EXT_NAME", ext.Name)
	bl.Var("EXT_VERSION", ext.Version)
	bl.Line(`EXT_ROOT="$AVOCADO_EXT_SYSROOTS/$EXT_NAME"`)
	bl.Line(`mkdir -p "$EXT_ROOT"`)

	if ext.Overlay != nil && opts.OverlayDir != "" {
		writeOverlay(bl, ext.Overlay.Mode, opts.OverlayDir)
	}

	bl.Section("release file")
	bl.Line(`release_dir="$EXT_ROOT/%s"`, ReleaseDir(kind))
	bl.Line(`release_file="$release_dir/extension-release.$EXT_NAME-$EXT_VERSION"`)
	bl.Line(`mkdir -p "$release_dir"`)
	bl.Line(`echo "ID=_any" > "$release_file"`)
	bl.Line(`echo "VERSION_ID=$EXT_VERSION" >> "$release_file"`)
	if ext.ReloadManager {
		bl.Line(`echo "EXTENSION_RELOAD_MANAGER=1" >> "$release_file"`)
	}
	bl.Line(`echo "%s=%s" >> "$release_file"`, scopeVar, escapeDouble(strings.Join(scopes, " ")))

	if opts.OnMerge {
		writeOnMerge(bl, ext, onMerge)
	}

	if kind == config.Confext && len(ext.EnableServices) > 0 {
		bl.Section("enabled services")
		bl.Line(`upholds="$EXT_ROOT/etc/systemd/system/multi-user.target.upholds"`)
		bl.Line(`mkdir -p "$upholds"`)
		for _, svc := range ext.EnableServices {
			bl.Line(`ln -sf %s "$upholds/%s"`, Quote("/usr/lib/systemd/system/"+svc), escapeDouble(svc))
		}
	}

	if opts.Users && (len(ext.Users) > 0 || len(ext.Groups) > 0) {
		bl.Section("users and groups")
		bl.Raw(UsersScript(ext.Users, ext.Groups))
	}

	bl.Section("done")
	bl.Line(`echo "[SUCCESS] Built %s extension '$EXT_NAME' ($EXT_VERSION)."`, kind)
	return bl.String(), nil
}

func writeOverlay(bl *Builder, mode, dir string) {
	bl.Section("overlay (" + mode + ")")
	bl.Var("OVERLAY_DIR", dir)
	bl.Line(`if [ ! -d "$OVERLAY_DIR" ]; then`)
	bl.Line(`    echo "[ERROR] Overlay directory $OVERLAY_DIR does not exist."`)
	bl.Line(`    exit 1`)
	bl.Line(`fi`)
	if mode == config.OverlayOpaque {
		bl.Line(`for entry in "$OVERLAY_DIR"/* "$OVERLAY_DIR"/.[!.]*; do`)
		bl.Line(`    [ -e "$entry" ] || continue`)
		bl.Line(`    rm -rf "$EXT_ROOT/$(basename "$entry")"`)
		bl.Line(`done`)
		bl.Line(`cp -a "$OVERLAY_DIR/." "$EXT_ROOT/"`)
		return
	}
	bl.Line(`if command -v rsync >/dev/null 2>&1; then`)
	bl.Line(`    rsync -a "$OVERLAY_DIR/" "$EXT_ROOT/"`)
	bl.Line(`else`)
	bl.Line(`    cp -a "$OVERLAY_DIR/." "$EXT_ROOT/"`)
	bl.Line(`fi`)
}

// writeOnMerge appends one AVOCADO_ON_MERGE line per command.
func writeOnMerge(bl *Builder, ext config.Extension, user []string) {
	bl.Section("on merge")
	bl.Raw(`on_merge() { printf 'AVOCADO_ON_MERGE="%s"\n' "$1" >> "$release_file"; }`)
	bl.Line(`if [ -d "$EXT_ROOT/usr/lib/modules" ] && [ -n "$(ls -A "$EXT_ROOT/usr/lib/modules" 2>/dev/null)" ]; then`)
	bl.Line(`    on_merge "depmod"`)
	bl.Line(`fi`)
	for _, mod := range ext.KernelModules {
		bl.Line(`on_merge %s`, Quote("modprobe "+mod))
	}
	bl.Line(`if [ -d "$EXT_ROOT/usr/lib/sysusers.d" ] && [ -n "$(ls -A "$EXT_ROOT/usr/lib/sysusers.d" 2>/dev/null)" ]; then`)
	bl.Line(`    on_merge "systemd-sysusers"`)
	bl.Line(`fi`)
	bl.Line(`if ls "$EXT_ROOT"/usr/lib/*.so* >/dev/null 2>&1 || ls "$EXT_ROOT"/usr/lib64/*.so* >/dev/null 2>&1; then`)
	bl.Line(`    on_merge "ldconfig"`)
	bl.Line(`fi`)
	for _, cmd := range user {
		bl.Line(`on_merge %s`, Quote(strings.ReplaceAll(cmd, `"`, `\"`)))
	}
}

// UsersScript provisions users and groups into $EXT_ROOT/etc, seeded from
// the rootfs account databases.
func UsersScript(users []config.User, groups []config.Group) string {
	bl := &Builder{}
	bl.Line(`ETC_DIR="$EXT_ROOT/etc"`)
	bl.Line(`mkdir -p "$ETC_DIR"`)
	bl.Line(`for f in passwd shadow group; do`)
	bl.Line(`    if [ ! -f "$ETC_DIR/$f" ]; then`)
	bl.Line(`        if [ -f "$AVOCADO_PREFIX/rootfs/etc/$f" ]; then`)
	bl.Line(`            cp "$AVOCADO_PREFIX/rootfs/etc/$f" "$ETC_DIR/$f"`)
	bl.Line(`        else`)
	bl.Line(`            touch "$ETC_DIR/$f"`)
	bl.Line(`        fi`)
	bl.Line(`    fi`)
	bl.Line(`done`)
	bl.Line(`next_id() { awk -F: 'BEGIN { m = 999 } $3 >= 1000 && $3 < 65534 && $3 > m { m = $3 } END { print m + 1 }' "$1"; }`)
	bl.Line(`has_entry() { grep -q "^$2:" "$1"; }`)
	bl.Line(`set_shadow() {`)
	bl.Line(`    awk -F: -v OFS=: -v u="$1" -v p="$2" '$1 == u { $2 = p; found = 1 } { print } END { if (!found) print u, p, "", "0", "99999", "7", "", "", "" }' "$ETC_DIR/shadow" > "$ETC_DIR/shadow.tmp"`)
	bl.Line(`    mv "$ETC_DIR/shadow.tmp" "$ETC_DIR/shadow"`)
	bl.Line(`}`)
	bl.Line(`add_member() {`)
	bl.Line(`    awk -F: -v OFS=: -v g="$1" -v u="$2" '$1 == g { n = split($4, m, ","); for (i = 1; i <= n; i++) if (m[i] == u) { print; next } $4 = ($4 == "" ? u : $4 "," u) } { print }' "$ETC_DIR/group" > "$ETC_DIR/group.tmp"`)
	bl.Line(`    mv "$ETC_DIR/group.tmp" "$ETC_DIR/group"`)
	bl.Line(`}`)

	for _, g := range groups {
		bl.Line(`if ! has_entry "$ETC_DIR/group" %s; then`, Quote(g.Name))
		if g.GID != nil {
			bl.Line(`    gid=%d`, *g.GID)
		} else {
			bl.Line(`    gid=$(next_id "$ETC_DIR/group")`)
		}
		bl.Line(`    echo "%s:x:$gid:" >> "$ETC_DIR/group"`, escapeDouble(g.Name))
		bl.Line(`    echo "[INFO] Created group '%s' (gid $gid)."`, escapeDouble(g.Name))
		bl.Line(`fi`)
	}

	for _, u := range users {
		writeUser(bl, u)
	}

	bl.Line(`chmod 644 "$ETC_DIR/passwd"`)
	bl.Line(`chmod 640 "$ETC_DIR/shadow"`)
	bl.Line(`chmod 644 "$ETC_DIR/group"`)
	return bl.String()
}

func writeUser(bl *Builder, u config.User) {
	name := Quote(u.Name)
	home := u.Home
	if home == "" {
		home = "/home/" + u.Name
		if u.Name == "root" {
			home = "/root"
		}
	}
	shell := u.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	bl.Line(`if ! has_entry "$ETC_DIR/passwd" %s; then`, name)
	if u.GID != nil {
		bl.Line(`    ugid=%d`, *u.GID)
	} else {
		bl.Line(`    if has_entry "$ETC_DIR/group" %s; then`, name)
		bl.Line(`        ugid=$(grep "^%s:" "$ETC_DIR/group" | cut -d: -f3)`, escapeDouble(u.Name))
		bl.Line(`    else`)
		bl.Line(`        ugid=$(next_id "$ETC_DIR/group")`)
		bl.Line(`        echo "%s:x:$ugid:" >> "$ETC_DIR/group"`, escapeDouble(u.Name))
		bl.Line(`    fi`)
	}
	if u.UID != nil {
		bl.Line(`    uid=%d`, *u.UID)
	} else {
		bl.Line(`    uid=$(next_id "$ETC_DIR/passwd")`)
	}
	bl.Line(`    echo "%s:x:$uid:$ugid:%s:%s:%s" >> "$ETC_DIR/passwd"`,
		escapeDouble(u.Name), escapeDouble(u.Gecos), escapeDouble(home), escapeDouble(shell))
	bl.Line(`    echo "[INFO] Created user '%s' (uid $uid)."`, escapeDouble(u.Name))
	bl.Line(`fi`)

	switch {
	case u.Password == nil:
		bl.Line(`set_shadow %s '!'`, name)
	case *u.Password == "":
		bl.Line(`echo "[WARNING] User '%s' will be able to login with NO PASSWORD"`, escapeDouble(u.Name))
		bl.Line(`set_shadow %s ''`, name)
	default:
		bl.Line(`set_shadow %s %s`, name, Quote(*u.Password))
	}
	for _, g := range u.Groups {
		bl.Line(`add_member %s %s`, Quote(g), name)
	}
}

// ExtImage renders the squashfs packing of an extension sysroot.
func ExtImage(name, version string) string {
	bl := NewBuilder()
	bl.Var("EXT_NAME", name)
	bl.Var("EXT_VERSION", version)
	bl.Line(`OUTPUT_DIR="$AVOCADO_PREFIX/output/extensions"`)
	bl.Line(`OUTPUT_FILE="$OUTPUT_DIR/$EXT_NAME-$EXT_VERSION.raw"`)
	bl.Line(`mkdir -p "$OUTPUT_DIR"`)
	bl.Line(`rm -f "$OUTPUT_FILE"`)
	bl.Line(`if [ ! -d "$AVOCADO_EXT_SYSROOTS/$EXT_NAME" ]; then`)
	bl.Line(`    echo "Extension sysroot does not exist: $AVOCADO_EXT_SYSROOTS/$EXT_NAME."`)
	bl.Line(`    exit 1`)
	bl.Line(`fi`)
	bl.Section("squashfs")
	bl.Line(`mksquashfs \`)
	bl.Line(`  "$AVOCADO_EXT_SYSROOTS/$EXT_NAME" \`)
	bl.Line(`  "$OUTPUT_FILE" \`)
	bl.Line(`  -noappend \`)
	bl.Line(`  -no-xattrs`)
	bl.Line(`echo "Created extension image: $OUTPUT_FILE"`)
	return bl.String()
}

// ImagePath is the container path of an extension's squashfs image.
func ImagePath(name, version string) string {
	return fmt.Sprintf("$AVOCADO_PREFIX/output/extensions/%s-%s.raw", name, version)
}
