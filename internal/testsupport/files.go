package testsupport

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// WriteConfigFile writes a TOML config under dir and returns its path.
// Leading indentation is stripped so tests can inline the body.
func WriteConfigFile(t testing.TB, dir, body string) string {
	t.Helper()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimLeft(line, " \t")
	}
	path := filepath.Join(dir, "postforge.toml")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
