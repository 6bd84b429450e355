package logx

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"avocado/internal/paths"
)

func TestNewWritesIntoLogsDir(t *testing.T) {
	pp := paths.WithRoot(paths.ProjectPaths{}, t.TempDir())

	logger, closer, err := New(pp)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	logger.Printf("docker run %s", "image")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	entries, err := os.ReadDir(pp.LogsDir)
	if err != nil {
		t.Fatalf("read logs dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one log file, got %d", len(entries))
	}
	data, err := os.ReadFile(filepath.Join(pp.LogsDir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "docker run image") {
		t.Fatalf("log file missing entry: %q", data)
	}
}
