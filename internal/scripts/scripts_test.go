package scripts

import (
	"strings"
	"testing"

	"avocado/internal/config"
)

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

func testExtension() config.Extension {
	return config.Extension{
		Name:          "avocado-dev",
		Version:       "1.2.0",
		Types:         []string{config.Sysext, config.Confext},
		SysextScopes:  []string{"system"},
		ConfextScopes: []string{"system", "portable"},
		ReloadManager: true,
	}
}

func TestExtBuildUserWithoutPasswordWarns(t *testing.T) {
	ext := testExtension()
	ext.Users = []config.User{{Name: "root", Password: strPtr("")}}

	script, err := ExtBuild(ext, config.Confext, ExtBuildOptions{Users: true})
	if err != nil {
		t.Fatalf("ExtBuild: %v", err)
	}
	if !strings.Contains(script, "[WARNING] User 'root' will be able to login with NO PASSWORD") {
		t.Fatalf("missing password warning:\n%s", script)
	}
	for _, want := range []string{`chmod 644 "$ETC_DIR/passwd"`, `chmod 640 "$ETC_DIR/shadow"`, `chmod 644 "$ETC_DIR/group"`} {
		if !strings.Contains(script, want) {
			t.Fatalf("missing %q", want)
		}
	}
}

func TestUsersScriptIDs(t *testing.T) {
	users := []config.User{
		{Name: "app", UID: intPtr(2000), GID: intPtr(2000)},
		{Name: "svc", Groups: []string{"audio"}},
		{Name: "locked"},
		{Name: "hashed", Password: strPtr("$6$salt$hash")},
	}
	groups := []config.Group{{Name: "audio"}, {Name: "video", GID: intPtr(44)}}
	script := UsersScript(users, groups)

	for _, want := range []string{
		"BEGIN { m = 999 }",
		"uid=2000",
		"ugid=2000",
		`uid=$(next_id "$ETC_DIR/passwd")`,
		"gid=44",
		"set_shadow locked '!'",
		"set_shadow hashed '$6$salt$hash'",
		"add_member audio svc",
		`echo "svc:x:$uid:$ugid::/home/svc:/bin/sh" >> "$ETC_DIR/passwd"`,
	} {
		if !strings.Contains(script, want) {
			t.Fatalf("missing %q in\n%s", want, script)
		}
	}
	if strings.Contains(script, "NO PASSWORD") {
		t.Fatal("no user has an empty password")
	}
}

func TestExtBuildReleaseFiles(t *testing.T) {
	ext := testExtension()
	sys, err := ExtBuild(ext, config.Sysext, ExtBuildOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(sys, `release_dir="$EXT_ROOT/usr/lib/extension-release.d"`) ||
		!strings.Contains(sys, `release_file="$release_dir/extension-release.$EXT_NAME-$EXT_VERSION"`) ||
		!strings.Contains(sys, `echo "SYSEXT_SCOPE=system" >> "$release_file"`) {
		t.Fatalf("unexpected sysext script:\n%s", sys)
	}

	conf, err := ExtBuild(ext, config.Confext, ExtBuildOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(conf, "etc/extension-release.d") || !strings.Contains(conf, "CONFEXT_SCOPE=system portable") {
		t.Fatalf("unexpected confext script:\n%s", conf)
	}

	ext.ReloadManager = false
	sys, _ = ExtBuild(ext, config.Sysext, ExtBuildOptions{})
	if strings.Contains(sys, "EXTENSION_RELOAD_MANAGER") {
		t.Fatal("reload manager should be omitted")
	}
}

func TestExtBuildOnMergeOnePerEntry(t *testing.T) {
	ext := testExtension()
	ext.KernelModules = []string{"nvme", "wireguard"}
	ext.OnMerge = []string{"systemctl restart foo.service", `echo "hi there"`}

	script, err := ExtBuild(ext, config.Sysext, ExtBuildOptions{OnMerge: true})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`printf 'AVOCADO_ON_MERGE="%s"\n' "$1" >> "$release_file"`,
		`on_merge "depmod"`,
		`on_merge 'modprobe nvme'`,
		`on_merge 'modprobe wireguard'`,
		`on_merge "systemd-sysusers"`,
		`on_merge "ldconfig"`,
		`on_merge 'systemctl restart foo.service'`,
	} {
		if !strings.Contains(script, want) {
			t.Fatalf("missing %q in\n%s", want, script)
		}
	}
	if strings.Contains(script, "; systemctl") || strings.Contains(script, "nvme;") {
		t.Fatal("on-merge commands must not be joined")
	}

	without, _ := ExtBuild(ext, config.Sysext, ExtBuildOptions{})
	if strings.Contains(without, "on_merge") {
		t.Fatal("on-merge entries belong to one pass only")
	}
}

func TestExtBuildRejectsEmptyOnMerge(t *testing.T) {
	ext := testExtension()
	ext.OnMerge = []string{"   "}
	if _, err := ExtBuild(ext, config.Sysext, ExtBuildOptions{OnMerge: true}); err == nil {
		t.Fatal("expected an error for an empty on_merge entry")
	}
}

func TestExtBuildOverlayAndServices(t *testing.T) {
	ext := testExtension()
	ext.Overlay = &config.Overlay{Dir: "overlay", Mode: config.OverlayOpaque}
	ext.EnableServices = []string{"app.service"}

	script, err := ExtBuild(ext, config.Confext, ExtBuildOptions{OverlayDir: "/opt/src/overlay"})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`OVERLAY_DIR="/opt/src/overlay"`,
		`rm -rf "$EXT_ROOT/$(basename "$entry")"`,
		"multi-user.target.upholds",
		`ln -sf /usr/lib/systemd/system/app.service "$upholds/app.service"`,
	} {
		if !strings.Contains(script, want) {
			t.Fatalf("missing %q in\n%s", want, script)
		}
	}

	ext.Overlay.Mode = config.OverlayMerge
	script, _ = ExtBuild(ext, config.Sysext, ExtBuildOptions{OverlayDir: "/opt/src/overlay"})
	if !strings.Contains(script, `rsync -a "$OVERLAY_DIR/" "$EXT_ROOT/"`) {
		t.Fatalf("merge overlay should rsync:\n%s", script)
	}
	if strings.Contains(script, "upholds") {
		t.Fatal("sysext must not link services")
	}
}

func TestExtImage(t *testing.T) {
	script := ExtImage("app", "1.0.0")
	for _, want := range []string{`EXT_NAME="app"`, `OUTPUT_FILE="$OUTPUT_DIR/$EXT_NAME-$EXT_VERSION.raw"`, "-noappend", "-no-xattrs"} {
		if !strings.Contains(script, want) {
			t.Fatalf("missing %q", want)
		}
	}
}

func TestRPMSpec(t *testing.T) {
	meta := config.PackageMeta{Release: "1", Summary: "s", Description: "d", License: "MIT", Vendor: "v", Group: "system-extension"}
	main := RPMPackage{Name: "app", Version: "1.0.0", Arch: RPMArch("qemux86-64"), Meta: meta}
	if main.Arch != "avocado_qemux86_64" {
		t.Fatalf("arch = %s", main.Arch)
	}
	spec := main.Spec()
	for _, want := range []string{"AutoReqProv: no", "Name: app", "%files\n/*"} {
		if !strings.Contains(spec, want) {
			t.Fatalf("missing %q in\n%s", want, spec)
		}
	}
	if main.FileName() != "app-1.0.0-1.avocado_qemux86_64.rpm" {
		t.Fatalf("file name = %s", main.FileName())
	}

	sdk := RPMPackage{
		Name:     "nativesdk-app",
		Version:  "1.0.0",
		Arch:     SDKPackageArch,
		Meta:     meta,
		Payload:  PayloadNone,
		Requires: Requires(config.Map{"cmake": "*", "gcc": "12.0", "lib": config.Map{"ext": "x"}}),
	}
	spec = sdk.Spec()
	if !strings.Contains(spec, "Requires: cmake, gcc = 12.0") {
		t.Fatalf("unexpected requires:\n%s", spec)
	}
	if strings.Contains(spec, "/*") {
		t.Fatal("dependency-only package must carry no files")
	}
	if !strings.Contains(sdk.Build(), "--target all_avocadosdk") {
		t.Fatal("sdk package must target all_avocadosdk")
	}
}

func TestPackageList(t *testing.T) {
	got := PackageList(config.Map{
		"curl":    "*",
		"openssl": "3.0",
		"peer":    config.Map{"ext": "peer"},
		"tools":   config.Map{"compile": "tools"},
		"zlib":    config.Map{"version": "1.3"},
	})
	want := []string{"curl", "openssl-3.0", "zlib-1.3"}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestInstallScopes(t *testing.T) {
	sdk := Install(ScopeSDK, "", []string{"cmake"}, InstallOptions{Yes: true})
	if !strings.Contains(sdk, "$DNF_SDK_REPO_CONF") || strings.Contains(sdk, "--installroot") {
		t.Fatalf("unexpected sdk install:\n%s", sdk)
	}
	ext := Install(ScopeExtension, "app", []string{"curl"}, InstallOptions{NoWeakDeps: true, Args: []string{"--nogpgcheck"}})
	for _, want := range []string{`--installroot="$AVOCADO_EXT_SYSROOTS/app"`, "install_weak_deps=0", "--nogpgcheck", "curl"} {
		if !strings.Contains(ext, want) {
			t.Fatalf("missing %q in\n%s", want, ext)
		}
	}
	if strings.Contains(ext, "-y") {
		t.Fatal("unexpected -y")
	}
}

func TestCompileCommand(t *testing.T) {
	cmd, err := CompileCommand("app", "compile", "scripts/build.sh --release")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(cmd, "bash scripts/build.sh --release") {
		t.Fatalf("unexpected command:\n%s", cmd)
	}
	if _, err := CompileCommand("app", "compile", ""); err == nil {
		t.Fatal("expected an error for an empty script")
	}
}

func TestRuntimeBuild(t *testing.T) {
	script := RuntimeBuild(RuntimeBuildInput{
		Runtime: "dev",
		Target:  "qemux86-64",
		BuildID: "1234",
		Images: []RuntimeImage{
			{Name: "app", Version: "1.0.0"},
			{Name: "pkg-a", Version: "2.0.0", Installed: true},
		},
	})
	for _, want := range []string{
		`cp -f "$AVOCADO_PREFIX/output/extensions/app-1.0.0.raw" "$RUNTIME_EXT_DIR/app-1.0.0.raw"`,
		`$RUNTIME_DIR/var/lib/avocado/extensions/pkg-a-2.0.0.raw`,
		`BUILD_ID="1234"`,
		`printf '  "id": "%s",\n' "$BUILD_ID"`,
		`avocado-build-$TARGET_ARCH "$RUNTIME_NAME"`,
	} {
		if !strings.Contains(script, want) {
			t.Fatalf("missing %q in\n%s", want, script)
		}
	}
}

func TestRuntimeSign(t *testing.T) {
	script, err := RuntimeSign("dev", []RuntimeImage{{Name: "app", Version: "1.0.0"}}, "sha256", "key-1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(script, `sha256sum "$RUNTIME_EXT_DIR/app-1.0.0.raw"`) || !strings.Contains(script, "app-1.0.0.raw.sha256.key") {
		t.Fatalf("unexpected sign script:\n%s", script)
	}
	if _, err := RuntimeSign("dev", nil, "md4", ""); err == nil {
		t.Fatal("expected unsupported algorithm error")
	}
}

func TestRuntimeProvisionState(t *testing.T) {
	script := RuntimeProvision(ProvisionInput{Runtime: "dev", Target: "qemux86-64", StateFile: ".avocado/provision-usb.state", StateExists: true})
	state := "/opt/_avocado/qemux86-64/output/runtimes/dev/provision-state.state"
	for _, want := range []string{
		"cp /opt/src/.avocado/provision-usb.state " + state,
		"export AVOCADO_PROVISION_STATE=" + state,
		"avocado-provision-qemux86-64 dev",
		"cp " + state + " /opt/src/.avocado/provision-usb.state",
	} {
		if !strings.Contains(script, want) {
			t.Fatalf("missing %q in\n%s", want, script)
		}
	}
	if strings.Contains(RuntimeProvision(ProvisionInput{Runtime: "dev", Target: "x"}), "AVOCADO_PROVISION_STATE") {
		t.Fatal("no state without a state file")
	}
}

func TestQuote(t *testing.T) {
	cases := map[string]string{
		"plain":     "plain",
		"":          "''",
		"two words": "'two words'",
		"it's":      `'it'\''s'`,
	}
	for in, want := range cases {
		if got := Quote(in); got != want {
			t.Fatalf("Quote(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBuilderRawKeepsPercent(t *testing.T) {
	got := NewBuilder().Line("echo %s", Quote("a b")).Raw(`printf '%s\n' "$x"`).String()
	want := "set -e\necho 'a b'\nprintf '%s\\n' \"$x\"\n"
	if got != want {
		t.Errorf("script = %q, want %q", got, want)
	}
}
