package volume

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"avocado/internal/runner"
	"avocado/internal/runner/runnertest"
)

func TestNewGeneratesPrefixedUUID(t *testing.T) {
	st := New("/src", "docker")
	if !strings.HasPrefix(st.VolumeName, "avo-") {
		t.Fatalf("expected avo- prefix, got %s", st.VolumeName)
	}
	if len(st.VolumeName) != len("avo-")+36 {
		t.Fatalf("expected uuid suffix, got %s", st.VolumeName)
	}
	if other := New("/src", "docker"); other.VolumeName == st.VolumeName {
		t.Fatal("expected distinct names")
	}
}

func TestLoadFromDirMissing(t *testing.T) {
	st, err := LoadFromDir(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st != nil {
		t.Fatalf("expected nil state, got %+v", st)
	}
}

func TestLoadFromDirMalformed(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, StateFileName), []byte("{nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromDir(dir); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	st := State{VolumeName: "avo-1234", SourcePath: dir, ContainerTool: "podman"}
	if err := SaveToDir(dir, st); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, StateFileName+".tmp")); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind")
	}

	data, err := os.ReadFile(filepath.Join(dir, StateFileName))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(strings.TrimSpace(string(data)), "\n") != 0 {
		t.Fatalf("expected single-line JSON, got %q", data)
	}

	loaded, err := LoadFromDir(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if *loaded != st {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}

	if err := RemoveFromDir(dir); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := RemoveFromDir(dir); err != nil {
		t.Fatalf("second remove: %v", err)
	}
}

func TestEnsureReusesExistingVolume(t *testing.T) {
	dir := t.TempDir()
	st := State{VolumeName: "avo-existing", SourcePath: dir, ContainerTool: "docker"}
	if err := SaveToDir(dir, st); err != nil {
		t.Fatal(err)
	}

	fake := &runnertest.Fake{}
	m := NewManager("docker", fake, nil)
	got, err := m.Ensure(context.Background(), dir)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if got.VolumeName != "avo-existing" {
		t.Fatalf("expected existing volume, got %s", got.VolumeName)
	}
	lines := fake.Lines()
	if len(lines) != 1 || lines[0] != "docker volume inspect avo-existing" {
		t.Fatalf("unexpected calls: %v", lines)
	}
}

func TestEnsureReplacesVanishedVolume(t *testing.T) {
	dir := t.TempDir()
	if err := SaveToDir(dir, State{VolumeName: "avo-gone", SourcePath: dir, ContainerTool: "docker"}); err != nil {
		t.Fatal(err)
	}

	fake := &runnertest.Fake{Handler: func(c runnertest.Call) (runner.RunResult, error) {
		if c.Args[0] == "volume" && c.Args[1] == "inspect" {
			return runnertest.Failed(1, "no such volume")
		}
		return runner.RunResult{}, nil
	}}
	m := NewManager("docker", fake, nil)
	got, err := m.Ensure(context.Background(), dir)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if got.VolumeName == "avo-gone" || !strings.HasPrefix(got.VolumeName, NamePrefix) {
		t.Fatalf("expected fresh volume, got %s", got.VolumeName)
	}

	create, ok := fake.Find("volume create")
	if !ok {
		t.Fatal("volume create not called")
	}
	wantLabel := LabelSourcePath + "=" + dir
	if create.Args[2] != "--label" || create.Args[3] != wantLabel || create.Args[4] != got.VolumeName {
		t.Fatalf("unexpected create args: %v", create.Args)
	}

	saved, err := LoadFromDir(dir)
	if err != nil || saved == nil {
		t.Fatalf("load saved state: %v", err)
	}
	if saved.VolumeName != got.VolumeName {
		t.Fatalf("state not overwritten: %s", saved.VolumeName)
	}
}

func TestForceRemoveKillsContainers(t *testing.T) {
	fake := &runnertest.Fake{Handler: func(c runnertest.Call) (runner.RunResult, error) {
		if c.Args[0] == "ps" {
			return runner.RunResult{Stdout: []byte("abc\ndef\n")}, nil
		}
		return runner.RunResult{}, nil
	}}
	m := NewManager("docker", fake, nil)
	if err := m.ForceRemove(context.Background(), "avo-x"); err != nil {
		t.Fatalf("force remove: %v", err)
	}

	want := []string{
		"docker ps -a --filter volume=avo-x --format {{.ID}}",
		"docker kill abc",
		"docker rm -f abc",
		"docker kill def",
		"docker rm -f def",
		"docker volume rm avo-x",
	}
	got := fake.Lines()
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Fatalf("unexpected calls:\n%s", strings.Join(got, "\n"))
	}
}

func TestInspectParsesLabels(t *testing.T) {
	fake := &runnertest.Fake{Handler: func(c runnertest.Call) (runner.RunResult, error) {
		return runner.RunResult{Stdout: []byte(`[{"Name":"avo-1","Driver":"local","Labels":{"avocado.source_path":"/gone"}}]`)}, nil
	}}
	info, err := NewManager("docker", fake, nil).Inspect(context.Background(), "avo-1")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if info.Labels[LabelSourcePath] != "/gone" {
		t.Fatalf("unexpected labels: %v", info.Labels)
	}
}
