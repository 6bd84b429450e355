package stamps

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"avocado/internal/config"
)

func allRequirements() []Requirement {
	var reqs []Requirement
	for _, cmd := range []Command{Install, Build, Image, Sign, Provision} {
		reqs = append(reqs,
			Requirement{Command: cmd, Component: SDK},
			Requirement{Command: cmd, Component: Extension, Name: "foo"},
			Requirement{Command: cmd, Component: Runtime, Name: "dev"},
		)
	}
	return reqs
}

func TestRelativePathsMatchBetweenStampAndRequirement(t *testing.T) {
	for _, req := range allRequirements() {
		s := New(req, "qemux86-64", Inputs{ConfigHash: "sha256:x"}, "test")
		if s.RelativePath() != req.RelativePath() {
			t.Errorf("stamp path %s != requirement path %s", s.RelativePath(), req.RelativePath())
		}
	}

	tests := map[Requirement]string{
		SDKInstall():            "sdk/install.stamp",
		ExtImage("foo"):         "ext/foo/image.stamp",
		RuntimeProvision("dev"): "runtime/dev/provision.stamp",
	}
	for req, want := range tests {
		if got := req.RelativePath(); got != want {
			t.Errorf("%v.RelativePath() = %s, want %s", req, got, want)
		}
	}
}

func TestRequirementDescriptionsAndFixes(t *testing.T) {
	tests := []struct {
		req  Requirement
		desc string
		fix  string
	}{
		{SDKInstall(), "SDK install", "avocado sdk install"},
		{ExtInstall("foo"), "extension 'foo' install", "avocado ext install -e foo"},
		{ExtImage("foo"), "extension 'foo' image", "avocado ext image -e foo"},
		{RuntimeBuild("dev"), "runtime 'dev' build", "avocado runtime build -r dev"},
		{RuntimeSign("dev"), "runtime 'dev' sign", "avocado runtime sign -r dev"},
	}
	for _, tt := range tests {
		if got := tt.req.Description(); got != tt.desc {
			t.Errorf("Description() = %q, want %q", got, tt.desc)
		}
		if got := tt.req.FixCommand(); got != tt.fix {
			t.Errorf("FixCommand() = %q, want %q", got, tt.fix)
		}
	}
}

func TestParseBatchOutput(t *testing.T) {
	out := "sdk/install.stamp:::{\"version\":1,\"command\":\"install\"}\next/foo/install.stamp:::null\n"
	got := ParseBatchOutput(out)
	if len(got) != 2 {
		t.Fatalf("entries = %d, want 2: %v", len(got), got)
	}
	if string(got["sdk/install.stamp"]) != `{"version":1,"command":"install"}` {
		t.Fatalf("sdk entry = %s", got["sdk/install.stamp"])
	}
	if v, ok := got["ext/foo/install.stamp"]; !ok || v != nil {
		t.Fatalf("ext entry = %v, %v; want present and nil", v, ok)
	}
}

func TestParseBatchOutputIgnoresNoise(t *testing.T) {
	got := ParseBatchOutput("[INFO] Initializing SDK\r\nsdk/install.stamp:::null\r\n\n")
	if !reflect.DeepEqual(keys(got), []string{"sdk/install.stamp"}) {
		t.Fatalf("keys = %v", keys(got))
	}
}

func keys(m map[string][]byte) []string {
	var out []string
	for k := range m {
		out = append(out, k)
	}
	return out
}

// simulateBatch evaluates BatchReadScript against an in-memory stamp store the
// way the container shell would.
func simulateBatch(t *testing.T, reqs []Requirement, store map[string]Stamp) string {
	t.Helper()
	script := BatchReadScript(reqs)
	if got := strings.Count(script, "\n") + 1; got != len(reqs) {
		t.Fatalf("script has %d lines for %d requirements", got, len(reqs))
	}
	var b strings.Builder
	for _, req := range reqs {
		rel := req.RelativePath()
		if !strings.Contains(script, `"$AVOCADO_PREFIX/.stamps/`+rel+`"`) {
			t.Fatalf("script does not read %s", rel)
		}
		b.WriteString(rel + Sentinel)
		if s, ok := store[rel]; ok {
			data, err := json.MarshalIndent(s, "", "  ")
			if err != nil {
				t.Fatal(err)
			}
			b.WriteString(strings.ReplaceAll(string(data), "\n", ""))
		} else {
			b.WriteString("null")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func TestBatchOutputKeysMatchRequirements(t *testing.T) {
	reqs := allRequirements()
	store := map[string]Stamp{
		"ext/foo/install.stamp": New(ExtInstall("foo"), "x", Inputs{ConfigHash: "h"}, "v"),
	}
	parsed := ParseBatchOutput(simulateBatch(t, reqs, store))
	if len(parsed) != len(reqs) {
		t.Fatalf("parsed %d entries, want %d", len(parsed), len(reqs))
	}
	for _, req := range reqs {
		if _, ok := parsed[req.RelativePath()]; !ok {
			t.Errorf("missing key %s", req.RelativePath())
		}
	}
	if _, err := Parse(parsed["ext/foo/install.stamp"]); err != nil {
		t.Fatalf("compacted stamp does not parse: %v", err)
	}
}

func TestWriteScript(t *testing.T) {
	s := New(ExtBuild("foo"), "qemux86-64", Inputs{ConfigHash: "sha256:abc"}, "1.0.0")
	script, err := WriteScript(s)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`mkdir -p "$AVOCADO_PREFIX/.stamps/ext/foo"`,
		`cat > "$AVOCADO_PREFIX/.stamps/ext/foo/build.stamp" << 'STAMP_EOF'`,
		`"config_hash": "sha256:abc"`,
		`"component_name": "foo"`,
	} {
		if !strings.Contains(script, want) {
			t.Errorf("script missing %q:\n%s", want, script)
		}
	}

	bad := New(ExtBuild("a:::b"), "x", Inputs{}, "v")
	if _, err := WriteScript(bad); err == nil {
		t.Fatal("expected an error for a stamp embedding the sentinel")
	}
}

func writeManifest(t *testing.T, dir, doc string) *config.Composed {
	t.Helper()
	path := filepath.Join(dir, "avocado.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := config.NewComposer(nil).Load(path, "qemux86-64")
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestStaleExtInstallStamp(t *testing.T) {
	dir := t.TempDir()
	before := writeManifest(t, dir, `
sdk:
  image: img
ext:
  foo:
    types: [sysext]
    dependencies:
      curl: "*"
`)
	sdkIn, err := SDKInputs(before)
	if err != nil {
		t.Fatal(err)
	}
	h1, err := ExtInputs(before, "foo")
	if err != nil {
		t.Fatal(err)
	}
	store := map[string]Stamp{
		"sdk/install.stamp":     New(SDKInstall(), "qemux86-64", sdkIn, "v"),
		"ext/foo/install.stamp": New(ExtInstall("foo"), "qemux86-64", h1, "v"),
	}

	after := writeManifest(t, t.TempDir(), `
sdk:
  image: img
ext:
  foo:
    types: [sysext]
    dependencies:
      curl: "*"
      openssl: "*"
`)
	h2, err := ExtInputs(after, "foo")
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h2 {
		t.Fatal("changing dependencies must change the hash")
	}

	reqs := []Requirement{SDKInstall(), ExtInstall("foo")}
	current, err := CurrentInputs(after, reqs)
	if err != nil {
		t.Fatal(err)
	}
	res := Validate(reqs, ParseBatchOutput(simulateBatch(t, reqs, store)), current)
	if len(res.Missing) != 0 || len(res.Stale) != 1 || len(res.Satisfied) != 1 {
		t.Fatalf("result = %+v", res)
	}
	if res.Stale[0].Requirement.RelativePath() != "ext/foo/install.stamp" {
		t.Fatalf("stale entry = %+v", res.Stale[0])
	}

	err = res.Err("build extension 'foo'")
	verr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("err = %T", err)
	}
	if !reflect.DeepEqual(verr.FixCommands(), []string{"avocado ext install -e foo"}) {
		t.Fatalf("fixes = %v", verr.FixCommands())
	}
	msg := err.Error()
	for _, want := range []string{"Stale steps (config changed):", "ext/foo/install.stamp: config hash mismatch", "To fix:\n  avocado ext install -e foo"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestValidateMissingAndDedupedFixes(t *testing.T) {
	reqs := []Requirement{SDKInstall(), ExtInstall("foo"), ExtBuild("foo")}
	stored := map[string][]byte{
		"sdk/install.stamp":     []byte("not json"),
		"ext/foo/install.stamp": nil,
	}
	res := Validate(reqs, stored, nil)
	if len(res.Missing) != 3 {
		t.Fatalf("missing = %v", res.Missing)
	}
	verr := res.Err("image extension 'foo'").(*ValidationError)
	want := []string{"avocado ext build -e foo", "avocado ext install -e foo", "avocado sdk install"}
	if !reflect.DeepEqual(verr.FixCommands(), want) {
		t.Fatalf("fixes = %v", verr.FixCommands())
	}
	if !strings.Contains(verr.Error(), "Missing steps:\n    - SDK install (sdk/install.stamp)") {
		t.Fatalf("message:\n%s", verr.Error())
	}

	dup := &ValidationError{Missing: []Requirement{ExtInstall("a"), ExtInstall("a")}}
	if len(dup.FixCommands()) != 1 {
		t.Fatalf("duplicate fixes not removed: %v", dup.FixCommands())
	}
}

func TestValidateWithoutInputsOnlyChecksPresence(t *testing.T) {
	data, _ := json.Marshal(New(SDKInstall(), "x", Inputs{ConfigHash: "old"}, "v"))
	res := Validate([]Requirement{SDKInstall()}, map[string][]byte{"sdk/install.stamp": data}, nil)
	if !res.OK() {
		t.Fatalf("result = %+v", res)
	}
	if res.Err("x") != nil {
		t.Fatal("satisfied result must not produce an error")
	}
}

func TestIsCurrentComparesPackageListOnlyWhenBothPresent(t *testing.T) {
	s := Stamp{Inputs: Inputs{ConfigHash: "a", PackageListHash: "p1"}}
	if !s.IsCurrent(Inputs{ConfigHash: "a"}) {
		t.Fatal("missing current package hash should not make the stamp stale")
	}
	if s.IsCurrent(Inputs{ConfigHash: "a", PackageListHash: "p2"}) {
		t.Fatal("differing package hashes should make the stamp stale")
	}
}

func TestCleanScriptCoversOnlyTheComponent(t *testing.T) {
	script := CleanScript(ExtInstall("foo"), ExtBuild("foo"))
	if strings.Count(script, "rm -rf") != 1 {
		t.Fatalf("expected one removal:\n%s", script)
	}
	removed := "ext/foo/"
	if !strings.Contains(script, `"$AVOCADO_PREFIX/.stamps/ext/foo"`) {
		t.Fatalf("script = %s", script)
	}
	for _, req := range allRequirements() {
		inside := strings.HasPrefix(req.RelativePath(), removed)
		if inside != (req.Component == Extension && req.Name == "foo") {
			t.Errorf("%s: inside=%v", req.RelativePath(), inside)
		}
	}
	if strings.HasPrefix(ExtInstall("foobar").RelativePath(), removed) {
		t.Fatal("ext/foobar must survive cleaning ext/foo")
	}
}

func TestHashValueIsOrderIndependent(t *testing.T) {
	a, _ := HashValue(config.Map{"b": 1, "a": config.Map{"y": "2", "x": "1"}})
	b, _ := HashValue(config.Map{"a": config.Map{"x": "1", "y": "2"}, "b": 1})
	if a != b || !strings.HasPrefix(a, "sha256:") {
		t.Fatalf("hashes differ: %s vs %s", a, b)
	}
}
