package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func canonical(t *testing.T, path string) string {
	t.Helper()
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		t.Fatal(err)
	}
	return resolved
}

type recordingLogger struct {
	lines []string
}

func (l *recordingLogger) Printf(format string, v ...any) {
	l.lines = append(l.lines, strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func TestSectionTargetOverrideFiltersTargetKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "avocado.yaml")
	writeFile(t, path, `
supported_targets: [qemux86-64]
sdk:
  image: base
  qemux86-64:
    image: x86
`)

	composed, err := NewComposer(nil).Load(path, "qemux86-64")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	sdk := composed.SectionMap("sdk")
	if sdk["image"] != "x86" {
		t.Fatalf("image = %v, want x86", sdk["image"])
	}
	if _, leaked := sdk["qemux86-64"]; leaked {
		t.Fatalf("target subsection leaked into composed sdk: %v", sdk)
	}
	if composed.Config.SDK.Image != "x86" {
		t.Fatalf("typed view image = %q, want x86", composed.Config.SDK.Image)
	}

	plain, err := NewComposer(nil).Load(path, "")
	if err != nil {
		t.Fatalf("Load without target: %v", err)
	}
	base := plain.SectionMap("sdk")
	if base["image"] != "base" {
		t.Fatalf("base image = %v, want base", base["image"])
	}
	if _, leaked := base["qemux86-64"]; leaked {
		t.Fatalf("target subsection leaked into base view: %v", base)
	}
}

func TestSectionWithoutOverrideMatchesBase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "avocado.yaml")
	writeFile(t, path, `
sdk:
  image: base
  repo_url: http://repo
`)

	withTarget, err := NewComposer(nil).Load(path, "raspberrypi4")
	if err != nil {
		t.Fatal(err)
	}
	without, err := NewComposer(nil).Load(path, "")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(withTarget.Section("sdk"), without.Section("sdk")) {
		t.Fatalf("sections differ: %v vs %v", withTarget.Section("sdk"), without.Section("sdk"))
	}
}

func TestSectionEmptyBaseIsNil(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "avocado.yaml")
	writeFile(t, path, `
supported_targets: [qemux86-64]
provision:
  usb:
    qemux86-64:
      state_file: x
`)
	composed, err := NewComposer(nil).Load(path, "")
	if err != nil {
		t.Fatal(err)
	}
	if got := composed.Section("provision", "usb"); got != nil {
		t.Fatalf("expected nil for a section holding only target subsections, got %v", got)
	}
}

func TestNestedSectionMergesTargetDependencies(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "avocado.yaml")
	writeFile(t, path, `
ext:
  app:
    types: [sysext]
    dependencies:
      curl: "*"
      openssl: "3.0"
    qemux86-64:
      dependencies:
        openssl: "3.1"
        qemu-guest: "*"
`)
	composed, err := NewComposer(nil).Load(path, "qemux86-64")
	if err != nil {
		t.Fatal(err)
	}
	deps := composed.ExtDependencies("app")
	want := Map{"curl": "*", "openssl": "3.1", "qemu-guest": "*"}
	if !reflect.DeepEqual(deps, want) {
		t.Fatalf("deps = %v, want %v", deps, want)
	}
}

func TestLoadBreaksInclusionCycles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "avocado.yaml")
	b := filepath.Join(dir, "b.yml")
	writeFile(t, a, `
sdk:
  image: img
runtime:
  dev:
    target: qemux86-64
    dependencies:
      y:
        ext: Y
ext:
  Y:
    types: [sysext]
    dependencies:
      x:
        ext: X
        config: b.yml
`)
	writeFile(t, b, `
ext:
  X:
    types: [confext]
    dependencies:
      back:
        ext: Y
        config: avocado.yaml
`)

	composed, err := NewComposer(nil).Load(a, "qemux86-64")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := composed.ExtNames(); !reflect.DeepEqual(got, []string{"X", "Y"}) {
		t.Fatalf("ExtNames = %v, want [X Y]", got)
	}
	if !composed.IsExternal("X") {
		t.Fatal("X should come from b.yml")
	}
	if composed.IsExternal("Y") {
		t.Fatal("Y is declared in the root manifest")
	}
	if got := composed.ExtManifest("X").Path; got != canonical(t, b) {
		t.Fatalf("X declared in %s, want %s", got, b)
	}
}

func TestNestedInclusionResolvesAgainstDeclaringSrcDir(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "avocado.yaml")
	writeFile(t, root, `
sdk:
  image: img
ext:
  app:
    types: [sysext]
    dependencies:
      lib:
        ext: lib
        config: sub/lib.yaml
`)
	writeFile(t, filepath.Join(dir, "sub", "lib.yaml"), `
src_dir: ../src-lib
default_target: other
ext:
  lib:
    types: [sysext]
    version: "{{ avocado.target }}-1"
    overlay: overlay
    dependencies:
      deeper:
        ext: deep
        config: deep/deep.yaml
`)
	deep := filepath.Join(dir, "src-lib", "deep", "deep.yaml")
	writeFile(t, deep, `
ext:
  deep:
    types: [confext]
`)

	composed, err := NewComposer(nil).Load(root, "qemux86-64")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !composed.HasExt("deep") {
		t.Fatalf("deep extension missing; got %v", composed.ExtNames())
	}
	if got := composed.ExtManifest("deep").Path; got != canonical(t, deep) {
		t.Fatalf("deep declared in %s, want %s", got, deep)
	}

	wantOverlay := filepath.Join(canonical(t, dir), "src-lib", "overlay")
	if got := composed.ResolveExtPath("lib", "overlay"); got != wantOverlay {
		t.Fatalf("overlay resolved to %s, want %s", got, wantOverlay)
	}

	lib, err := composed.Extension("lib")
	if err != nil {
		t.Fatal(err)
	}
	if lib.Version != "qemux86-64-1" {
		t.Fatalf("version = %q, want the root target to win", lib.Version)
	}
}

func TestMissingExternalManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "avocado.yaml")
	writeFile(t, path, `
runtime:
  dev:
    dependencies:
      gone:
        ext: gone
        config: missing.yaml
`)

	logger := &recordingLogger{}
	composed, err := NewComposer(logger).Load(path, "qemux86-64")
	if err != nil {
		t.Fatalf("missing external manifests must be skipped: %v", err)
	}
	if composed.HasExt("gone") {
		t.Fatal("unexpected ext from a missing manifest")
	}
	if len(logger.lines) == 0 || !strings.Contains(logger.lines[0], "skipping") {
		t.Fatalf("expected a verbose note, got %v", logger.lines)
	}

	strict := NewComposer(nil)
	strict.Strict = true
	if _, err := strict.Load(path, "qemux86-64"); err == nil {
		t.Fatal("expected strict mode to fail on a missing external manifest")
	}
}

func TestExternalMergeKeepsMainValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "avocado.yaml")
	writeFile(t, path, `
ext:
  lib:
    version: "2.0.0"
  app:
    types: [sysext]
    dependencies:
      lib:
        ext: lib
        config: lib.yaml
`)
	writeFile(t, filepath.Join(dir, "lib.yaml"), `
ext:
  lib:
    version: "1.0.0"
    types: [sysext]
    dependencies:
      compiler:
        compile: toolchain
sdk:
  compile:
    toolchain:
      compile: build.sh
    unrelated:
      compile: other.sh
provision:
  usb: {}
`)

	composed, err := NewComposer(nil).Load(path, "")
	if err != nil {
		t.Fatal(err)
	}
	lib := composed.Ext("lib")
	if lib["version"] != "2.0.0" {
		t.Fatalf("main version must win, got %v", lib["version"])
	}
	if _, ok := lib["types"]; !ok {
		t.Fatal("missing keys should come from the external manifest")
	}
	if _, ok := composed.Config.SDK.Compile["toolchain"]; !ok {
		t.Fatal("compile section referenced by the extension should be included")
	}
	if _, ok := composed.Config.SDK.Compile["unrelated"]; ok {
		t.Fatal("unreferenced compile section should not be included")
	}
	if _, ok := composed.Config.Provision["usb"]; ok {
		t.Fatal("provision profiles need an include pattern")
	}
}

func TestInstalledManifestMergedWithIncludePatterns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "avocado.yaml")
	writeFile(t, path, `
ext:
  board:
    source:
      type: repo
      version: "*"
      include: ["provision.*"]
`)

	composer := NewComposer(nil)
	var asked []string
	composer.Installed = func(name string, ext Map, srcDir string) (*InstalledManifest, error) {
		asked = append(asked, name)
		if srcDir != dir {
			t.Errorf("srcDir = %q, want the root src dir %q", srcDir, dir)
		}
		return &InstalledManifest{
			Path: "/opt/_avocado/x86/includes/board/avocado.yaml",
			Data: []byte(`
ext:
  board:
    types: [sysext]
provision:
  flash:
    state_file: flash.state
sdk:
  dependencies:
    tool: "*"
`),
			Include: StringList(MapAt(ext, "source")["include"]),
		}, nil
	}

	composed, err := composer.Load(path, "x86")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(asked, []string{"board"}) {
		t.Fatalf("installed reader called for %v", asked)
	}
	if _, ok := composed.Config.Provision["flash"]; !ok {
		t.Fatal("provision.flash should be merged via provision.*")
	}
	if _, ok := composed.SDKDependencies()["tool"]; ok {
		t.Fatal("sdk.dependencies.tool is not selected by the include patterns")
	}
	if _, err := composed.Extension("board"); err != nil {
		t.Fatalf("board types should come from the installed manifest: %v", err)
	}
	if !composed.IsExternal("board") {
		t.Fatal("board should be attributed to its installed manifest")
	}
}

func TestInstalledManifestForExtensionFromIncludedConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "avocado.yaml")
	writeFile(t, path, `
runtime:
  dev:
    dependencies:
      foo:
        ext: foo
        config: sub/b.yaml
`)
	included := filepath.Join(dir, "sub", "b.yaml")
	writeFile(t, included, `
src_dir: inner
ext:
  foo:
    source:
      type: package
      version: "1.0"
`)

	composer := NewComposer(nil)
	var asked, dirs []string
	composer.Installed = func(name string, ext Map, srcDir string) (*InstalledManifest, error) {
		asked = append(asked, name)
		dirs = append(dirs, srcDir)
		return &InstalledManifest{
			Path: "/opt/_avocado/x86/includes/foo/avocado.yaml",
			Data: []byte("ext:\n  foo:\n    types: [confext]\n"),
		}, nil
	}

	composed, err := composer.Load(path, "x86")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(asked, []string{"foo"}) {
		t.Fatalf("installed reader called for %v", asked)
	}
	wantDir := filepath.Join(canonical(t, filepath.Join(dir, "sub")), "inner")
	if dirs[0] != wantDir {
		t.Errorf("srcDir = %q, want %q", dirs[0], wantDir)
	}
	ext, err := composed.Extension("foo")
	if err != nil {
		t.Fatalf("foo should be defined by its installed manifest: %v", err)
	}
	if !reflect.DeepEqual(ext.Types, []string{"confext"}) {
		t.Errorf("types = %v", ext.Types)
	}
	if got := composed.DeclaringManifest("foo").Path; got != canonical(t, included) {
		t.Errorf("declaring manifest = %q, want %q", got, included)
	}
	if composed.ExtManifest("foo").Path != "/opt/_avocado/x86/includes/foo/avocado.yaml" {
		t.Errorf("ExtManifest should follow the installed definition, got %q", composed.ExtManifest("foo").Path)
	}
}

func TestLoadIsMemoized(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "avocado.yaml")
	writeFile(t, path, "sdk:\n  image: img\n")

	composer := NewComposer(nil)
	first, err := composer.Load(path, "a")
	if err != nil {
		t.Fatal(err)
	}
	second, err := composer.Load(path, "a")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatal("expected the same composed value for the same (root, target)")
	}
	other, err := composer.Load(path, "b")
	if err != nil {
		t.Fatal(err)
	}
	if other == first {
		t.Fatal("different targets must compose separately")
	}
}

func TestLoadMissingRoot(t *testing.T) {
	_, err := NewComposer(nil).Load(filepath.Join(t.TempDir(), "avocado.yaml"), "")
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
