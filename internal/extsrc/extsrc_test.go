package extsrc

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"avocado/internal/config"
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

type fakeScripts struct {
	ran    []string
	output string
	err    error
}

func (f *fakeScripts) RunScript(_ context.Context, script string) error {
	f.ran = append(f.ran, script)
	return f.err
}

func (f *fakeScripts) ScriptOutput(_ context.Context, script string) (string, error) {
	f.ran = append(f.ran, script)
	return f.output, f.err
}

func TestParseSource(t *testing.T) {
	tests := []struct {
		name    string
		ext     config.Map
		want    *Source
		wantErr string
	}{
		{"none", config.Map{"types": []any{"sysext"}}, nil, ""},
		{
			"repo alias",
			config.Map{"source": config.Map{"type": "repo", "package": "avocado-ext-ssh", "repo_name": "extras"}},
			&Source{Type: TypePackage, Version: "*", Package: "avocado-ext-ssh", RepoName: "extras"},
			"",
		},
		{
			"git",
			config.Map{"source": config.Map{"type": "git", "url": "https://example.com/x.git", "ref": "v1", "sparse_checkout": []any{"ext/x"}}},
			&Source{Type: TypeGit, URL: "https://example.com/x.git", Ref: "v1", SparseCheckout: []string{"ext/x"}},
			"",
		},
		{"git without url", config.Map{"source": config.Map{"type": "git"}}, nil, "requires url"},
		{"path without path", config.Map{"source": config.Map{"type": "path"}}, nil, "requires path"},
		{"unknown", config.Map{"source": config.Map{"type": "ftp"}}, nil, "unknown source type 'ftp'"},
		{"not a map", config.Map{"source": "x"}, nil, "expected a mapping"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSource("demo", tt.ext)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPackageSpec(t *testing.T) {
	tests := []struct {
		src  Source
		want string
	}{
		{Source{Type: TypePackage, Version: "*"}, "app"},
		{Source{Type: TypePackage, Version: "1.2.0"}, "app-1.2.0"},
		{Source{Type: TypePackage, Version: "1.2.0", Package: "vendor-app"}, "vendor-app-1.2.0"},
	}
	for _, tt := range tests {
		if got := tt.src.PackageSpec("app"); got != tt.want {
			t.Errorf("PackageSpec = %q, want %q", got, tt.want)
		}
	}
}

func TestPackageFetchScript(t *testing.T) {
	intent, err := Source{Type: TypePackage, Version: "2.0.1", RepoName: "extras"}.Resolve("ssh", "/src")
	if err != nil {
		t.Fatal(err)
	}
	if intent.HostPath != "" {
		t.Fatal("package sources must not produce a bind mount")
	}
	for _, want := range []string{
		"--downloadonly",
		`--downloaddir="$TMPDIR"`,
		"--repo=extras",
		"install \\\n    ssh-2.0.1",
		`$AVOCADO_PREFIX/includes/ssh`,
		"rpm2cpio \"$RPM_FILE\" | cpio -idmv",
		`if [ -z "$RPM_FILE" ]; then`,
	} {
		if !strings.Contains(intent.Script, want) {
			t.Errorf("script missing %q:\n%s", want, intent.Script)
		}
	}
}

func TestGitFetchScript(t *testing.T) {
	full, err := Source{Type: TypeGit, URL: "https://example.com/r.git", Ref: "main"}.Resolve("r", "/src")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(full.Script, "git clone --depth 1 --branch main https://example.com/r.git") {
		t.Fatalf("full clone missing:\n%s", full.Script)
	}
	if !strings.Contains(full.Script, "|| \\\n    git clone --depth 1 https://example.com/r.git") {
		t.Fatalf("default-branch fallback missing:\n%s", full.Script)
	}

	sparse, err := Source{Type: TypeGit, URL: "https://example.com/r.git", SparseCheckout: []string{"exts/r/"}}.Resolve("r", "/src")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"git init -q",
		"git config core.sparseCheckout true",
		"echo exts/r/ >> .git/info/sparse-checkout",
		"git fetch --depth 1 origin HEAD",
		"git checkout FETCH_HEAD",
		"if [ -d exts/r ]; then",
	} {
		if !strings.Contains(sparse.Script, want) {
			t.Errorf("sparse script missing %q:\n%s", want, sparse.Script)
		}
	}

	two, _ := Source{Type: TypeGit, URL: "u", SparseCheckout: []string{"a", "b"}}.Resolve("r", "/src")
	if strings.Contains(two.Script, "tar cf") {
		t.Fatal("only a single sparse prefix is flattened")
	}
}

func TestResolvePathSource(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "exts", "local", "avocado.yml"), "ext: {}\n")
	if err := os.MkdirAll(filepath.Join(src, "exts", "empty"), 0o755); err != nil {
		t.Fatal(err)
	}

	intent, err := Source{Type: TypePath, Path: "exts/local"}.Resolve("local", src)
	if err != nil {
		t.Fatal(err)
	}
	if intent.HostPath != filepath.Join(src, "exts", "local") || intent.Script != "" {
		t.Fatalf("intent = %+v", intent)
	}

	if _, err := (Source{Type: TypePath, Path: "exts/empty"}).Resolve("empty", src); err == nil || !strings.Contains(err.Error(), "no avocado.yaml") {
		t.Fatalf("expected missing-manifest error, got %v", err)
	}
	if _, err := (Source{Type: TypePath, Path: "nope"}).Resolve("nope", src); err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Fatalf("expected missing-dir error, got %v", err)
	}
}

func TestIsInstalled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a", "avocado.yaml"), "")
	writeFile(t, filepath.Join(dir, "b", "avocado.yml"), "")
	writeFile(t, filepath.Join(dir, "c", "other.yaml"), "")
	for name, want := range map[string]bool{"a": true, "b": true, "c": false, "d": false} {
		if got := IsInstalled(dir, name); got != want {
			t.Errorf("IsInstalled(%s) = %v, want %v", name, got, want)
		}
	}
}

func TestPathStateRoundTripAndRemove(t *testing.T) {
	file := filepath.Join(t.TempDir(), ".avocado", "ext-paths.json")

	st, err := LoadPathState(file)
	if err != nil {
		t.Fatal(err)
	}
	if len(st.PathMounts) != 0 {
		t.Fatalf("fresh state = %v", st.PathMounts)
	}
	st.Register("b", "/host/b")
	st.Register("a", "/host/a")
	if err := st.Save(file); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"path_mounts"`) {
		t.Fatalf("unexpected file contents: %s", data)
	}

	loaded, err := LoadPathState(file)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(loaded.Names(), []string{"a", "b"}) {
		t.Fatalf("names = %v", loaded.Names())
	}
	if !loaded.Remove("a") || loaded.Remove("a") {
		t.Fatal("Remove should report presence exactly once")
	}

	writeFile(t, file, "{broken")
	if _, err := LoadPathState(file); err == nil {
		t.Fatal("expected a parse error")
	}
}

func loadComposed(t *testing.T, dir, doc string, reader config.InstalledReader) *config.Composed {
	t.Helper()
	path := filepath.Join(dir, "avocado.yaml")
	writeFile(t, path, doc)
	composer := config.NewComposer(nil)
	composer.Installed = reader
	composed, err := composer.Load(path, "qemux86-64")
	if err != nil {
		t.Fatal(err)
	}
	return composed
}

func TestLocateClassifiesExtensions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "other.yaml"), "ext:\n  lib:\n    types: [sysext]\n")
	composed := loadComposed(t, dir, `
ext:
  app:
    types: [sysext]
    dependencies:
      lib:
        ext: lib
        config: other.yaml
  remote:
    source:
      type: git
      url: https://example.com/r.git
`, nil)

	locs, err := LocateAll(composed)
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]string{}
	for _, l := range locs {
		got[l.Name] = l.Label()
	}
	want := map[string]string{"app": "local", "lib": "external", "remote": "git"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("labels = %v, want %v", got, want)
	}

	remotes, err := RemoteSources(composed, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(remotes) != 1 || remotes[0].Name != "remote" {
		t.Fatalf("remotes = %+v", remotes)
	}
	if remotes[0].SrcDir != dir {
		t.Errorf("remote SrcDir = %q, want %q", remotes[0].SrcDir, dir)
	}
	if _, err := Locate(composed, "ghost"); err == nil {
		t.Fatal("expected an error for an unknown extension")
	}
}

func TestFetchAllSkipsInstalledAndRegistersPaths(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "local-ext", "avocado.yaml"), "ext:\n  mine:\n    types: [confext]\n")
	stateFile := filepath.Join(src, ".avocado", "ext-paths.json")

	locs := []Location{
		{Name: "done", Kind: Remote, Source: &Source{Type: TypePackage, Version: "*"}},
		{Name: "todo", Kind: Remote, Source: &Source{Type: TypeGit, URL: "https://example.com/t.git"}},
		{Name: "mine", Kind: Remote, SrcDir: src, Source: &Source{Type: TypePath, Path: "local-ext"}},
	}
	scripts := &fakeScripts{output: "done\n"}
	f := &Fetcher{Scripts: scripts, StateFile: stateFile}

	fetched, err := f.FetchAll(context.Background(), locs, false)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(fetched, []string{"todo", "mine"}) {
		t.Fatalf("fetched = %v", fetched)
	}
	if len(scripts.ran) != 2 {
		t.Fatalf("expected one probe and one fetch, got %d scripts", len(scripts.ran))
	}
	if !strings.Contains(scripts.ran[0], "echo done") || !strings.Contains(scripts.ran[0], "echo todo") {
		t.Fatalf("probe should cover package and git sources:\n%s", scripts.ran[0])
	}

	st, err := LoadPathState(stateFile)
	if err != nil {
		t.Fatal(err)
	}
	if p, ok := st.Lookup("mine"); !ok || p != filepath.Join(src, "local-ext") {
		t.Fatalf("path mount = %q, %v", p, ok)
	}

	if err := f.Forget("mine"); err != nil {
		t.Fatal(err)
	}
	st, _ = LoadPathState(stateFile)
	if _, ok := st.Lookup("mine"); ok {
		t.Fatal("Forget should drop the registration")
	}
}

func TestFetchReportsScriptFailure(t *testing.T) {
	f := &Fetcher{Scripts: &fakeScripts{err: errors.New("exit status 1")}, StateFile: filepath.Join(t.TempDir(), "x.json")}
	err := f.Fetch(context.Background(), Location{Name: "pkg", Source: &Source{Type: TypePackage, Version: "*"}})
	if err == nil || !strings.Contains(err.Error(), "failed to fetch extension 'pkg'") {
		t.Fatalf("err = %v", err)
	}
}

func TestLocatePathSourceFromIncludedConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "sub", "b.yaml"), `
src_dir: inner
ext:
  foo:
    source:
      type: path
      path: ./pathext
`)
	writeFile(t, filepath.Join(dir, "sub", "inner", "pathext", "avocado.yaml"), "ext:\n  foo:\n    types: [sysext]\n")
	stateFile := filepath.Join(dir, ".avocado", "ext-paths.json")
	doc := `
runtime:
  dev:
    dependencies:
      foo:
        ext: foo
        config: sub/b.yaml
`
	reader := NewInstalledReader(context.Background(), nil, stateFile, "qemux86-64", dir)
	composed := loadComposed(t, dir, doc, reader)

	if _, err := composed.Extension("foo"); err != nil {
		t.Fatalf("path definition should merge before fetch: %v", err)
	}
	loc, err := Locate(composed, "foo")
	if err != nil {
		t.Fatal(err)
	}
	inner, err := filepath.EvalSymlinks(filepath.Join(dir, "sub", "inner"))
	if err != nil {
		t.Fatal(err)
	}
	if loc.SrcDir != inner {
		t.Fatalf("SrcDir = %q, want %q", loc.SrcDir, inner)
	}

	f := &Fetcher{Scripts: &fakeScripts{}, StateFile: stateFile}
	if err := f.Fetch(context.Background(), loc); err != nil {
		t.Fatal(err)
	}
	st, err := LoadPathState(stateFile)
	if err != nil {
		t.Fatal(err)
	}
	if p, _ := st.Lookup("foo"); p != filepath.Join(inner, "pathext") {
		t.Fatalf("registered %q", p)
	}
}

type fakeVolume map[string]string

func (v fakeVolume) ReadVolumeFile(_ context.Context, p string) ([]byte, bool, error) {
	data, ok := v[p]
	return []byte(data), ok, nil
}

func TestInstalledReaderMergesRemoteManifests(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "paths", "p", "avocado.yaml"), "ext:\n  p:\n    types: [confext]\n")
	vol := fakeVolume{
		"/opt/_avocado/qemux86-64/includes/pkg/avocado.yaml": "ext:\n  pkg:\n    types: [sysext]\n    version: 3.0.0\n",
	}
	reader := NewInstalledReader(context.Background(), vol, "", "qemux86-64", src)

	composed := loadComposed(t, src, `
ext:
  pkg:
    source:
      type: package
  p:
    source:
      type: path
      path: paths/p
  missing:
    source:
      type: git
      url: https://example.com/m.git
`, reader)

	pkg, err := composed.Extension("pkg")
	if err != nil {
		t.Fatal(err)
	}
	if pkg.Version != "3.0.0" {
		t.Fatalf("pkg version = %q", pkg.Version)
	}
	p, err := composed.Extension("p")
	if err != nil {
		t.Fatal(err)
	}
	if !p.Has(config.Confext) {
		t.Fatalf("p types = %v", p.Types)
	}
	if _, err := composed.Extension("missing"); err == nil {
		t.Fatal("uninstalled remote extension should still lack types")
	}
}

func TestInstalledReaderFallsBackToHostCopy(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, ".avocado", "qemux86-64", "includes", "pkg", "avocado.yml"), "ext:\n  pkg:\n    types: [sysext]\n")
	reader := NewInstalledReader(context.Background(), fakeVolume{}, "", "qemux86-64", src)
	got, err := reader("pkg", config.Map{"source": config.Map{"type": "package"}}, src)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || !strings.HasSuffix(got.Path, "avocado.yml") {
		t.Fatalf("got %+v", got)
	}
}
