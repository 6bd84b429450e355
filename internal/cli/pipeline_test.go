package cli

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"avocado/internal/config"
	"avocado/internal/runner/runnertest"
	"avocado/internal/stamps"
)

const pipelineManifest = `default_target: qemux86-64
sdk:
  image: sdk
ext:
  app:
    types: [sysext]
    version: "1.0.0"
    dependencies:
      curl: "*"
  base:
    types: [confext]
    version: "0.1.0"
  unused:
    types: [sysext]
runtime:
  dev:
    dependencies:
      app:
        ext: app
      base:
        ext: base
      pkg-a:
        ext: pkg-a
        vsn: "2.0"
`

func scriptArg(c runnertest.Call) string {
	return c.Args[len(c.Args)-1]
}

// expectRuns checks that run i of fake contains every marker of want[i].
func expectRuns(t *testing.T, fake *runnertest.Fake, want [][]string) {
	t.Helper()
	runs := containerRuns(fake)
	if len(runs) != len(want) {
		t.Fatalf("got %d container runs, want %d", len(runs), len(want))
	}
	for i, markers := range want {
		body := scriptArg(runs[i])
		for _, m := range markers {
			if !strings.Contains(body, m) {
				t.Errorf("run %d missing %q", i, m)
			}
		}
	}
}

func TestInstallOrdersSDKExtensionsRuntime(t *testing.T) {
	dir := writeProject(t, pipelineManifest)
	fake := &runnertest.Fake{}

	if _, err := runCLI(t, dir, fake, "--no-stamps", "install"); err != nil {
		t.Fatalf("install: %v", err)
	}
	expectRuns(t, fake, [][]string{
		{"SDK dependencies installed."},
		{"Installed dependencies for extension 'app'."},
		{"Installed dependencies for extension 'base'."},
		{"$AVOCADO_PREFIX/runtimes/dev"},
	})
	for _, run := range containerRuns(fake) {
		if strings.Contains(scriptArg(run), "'unused'") {
			t.Error("extension outside the runtime was installed")
		}
	}
}

func TestBuildOrdersImagesBeforeRuntime(t *testing.T) {
	dir := writeProject(t, pipelineManifest)
	fake := &runnertest.Fake{}

	if _, err := runCLI(t, dir, fake, "--no-stamps", "build", "-r", "dev"); err != nil {
		t.Fatalf("build: %v", err)
	}
	expectRuns(t, fake, [][]string{
		{`EXT_NAME="app"`, "EXT_ROOT="},
		{`EXT_NAME="app"`, "mksquashfs"},
		{`EXT_NAME="base"`, "EXT_ROOT="},
		{`EXT_NAME="base"`, "mksquashfs"},
		{"avocado-build-", "app-1.0.0.raw", "base-0.1.0.raw"},
	})
	if strings.Contains(scriptArg(containerRuns(fake)[0]), "mksquashfs") {
		t.Error("image step ran before the build step")
	}
}

func TestBuildRequiresEveryInstallStamp(t *testing.T) {
	dir := writeProject(t, pipelineManifest)
	fake := &runnertest.Fake{Handler: batchHandler("")}

	_, err := runCLI(t, dir, fake, "build")

	var verr *stamps.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	want := []stamps.Requirement{
		stamps.SDKInstall(),
		stamps.ExtInstall("app"),
		stamps.ExtInstall("base"),
		stamps.RuntimeInstall("dev"),
	}
	if len(verr.Missing) != len(want) {
		t.Fatalf("missing = %v, want %v", verr.Missing, want)
	}
	for i := range want {
		if verr.Missing[i] != want[i] {
			t.Errorf("missing[%d] = %s, want %s", i, verr.Missing[i], want[i])
		}
	}
	if runs := containerRuns(fake); len(runs) != 1 {
		t.Errorf("expected only the stamp read container, got %d runs", len(runs))
	}
}

func TestBuildUnknownRuntime(t *testing.T) {
	dir := writeProject(t, pipelineManifest)

	_, err := runCLI(t, dir, &runnertest.Fake{}, "--no-stamps", "build", "-r", "prod")
	if err == nil || !strings.Contains(err.Error(), "runtime 'prod' not found") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRuntimeDepsListsExtensionsFirst(t *testing.T) {
	dir := writeProject(t, pipelineManifest)

	out, err := runCLI(t, dir, &runnertest.Fake{}, "runtime", "deps", "-r", "dev")
	if err != nil {
		t.Fatalf("runtime deps: %v", err)
	}
	want := "(ext) app (1.0.0)\n(ext) base (0.1.0)\n(ext) pkg-a (2.0)\n"
	if !strings.HasPrefix(out, want) {
		t.Errorf("output = %q, want prefix %q", out, want)
	}
	if !strings.Contains(out, "Listed 3 dependency(s).") {
		t.Errorf("missing summary in %q", out)
	}
}

func TestExtDepsSingleExtension(t *testing.T) {
	dir := writeProject(t, pipelineManifest)

	out, err := runCLI(t, dir, &runnertest.Fake{}, "ext", "deps", "-e", "app")
	if err != nil {
		t.Fatalf("ext deps: %v", err)
	}
	if !strings.Contains(out, "Extension: app") || !strings.Contains(out, "  pkg:curl = *") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if strings.Contains(out, "Extension: base") {
		t.Errorf("listed more than the requested extension:\n%s", out)
	}
}

func TestInitWritesComposableManifest(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "project")

	if _, err := runCLI(t, t.TempDir(), &runnertest.Fake{}, "-t", "raspberrypi5", "init", dir); err != nil {
		t.Fatalf("init: %v", err)
	}
	composed, err := config.NewComposer(nil).Load(filepath.Join(dir, "avocado.yaml"), "raspberrypi5")
	if err != nil {
		t.Fatalf("compose generated manifest: %v", err)
	}
	if got := composed.RuntimeNames(); len(got) != 1 || got[0] != "dev" {
		t.Errorf("runtimes = %v", got)
	}
	if target, err := config.ResolveTarget("", composed.Raw); err != nil || target != "raspberrypi5" {
		t.Errorf("default target = %q, %v", target, err)
	}

	_, err = runCLI(t, t.TempDir(), &runnertest.Fake{}, "init", dir)
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("second init: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "avocado.yml")); !os.IsNotExist(err) {
		t.Errorf("unexpected avocado.yml: %v", err)
	}
}
