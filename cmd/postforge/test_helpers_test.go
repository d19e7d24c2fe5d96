package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"postforge/internal/objectstore"
	"postforge/internal/testsupport"
)

type cliTestEnv struct {
	baseDir    string
	configPath string
	dbPath     string
}

// setupCLITestEnv writes a config using a sqlite store and only the content
// stage, so no command reaches an external service.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))
	for _, key := range []string{"LLM_API_KEY", "OPENROUTER_API_KEY", "GEMINI_API_KEY", "REDIS_PASSWORD"} {
		t.Setenv(key, "")
	}

	dbPath := filepath.Join(base, "data", "objects.db")
	configPath := testsupport.WriteConfigFile(t, base, fmt.Sprintf(`
		[storage]
		backend = "sqlite"
		sqlite_path = %q

		[pipeline]
		platforms = ["instagram"]

		[stages.goal]
		enabled = false

		[stages.posts]
		enabled = false

		[lease]
		backend = "file"
		dir = %q

		[api]
		bind = ""

		[logging]
		dir = %q
	`, dbPath, filepath.Join(base, "state"), filepath.Join(base, "logs")))

	return &cliTestEnv{baseDir: base, configPath: configPath, dbPath: dbPath}
}

// seed opens the sqlite store just long enough to write objects.
func (e *cliTestEnv) seed(t *testing.T, objects map[string]objectstore.Payload) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(e.dbPath), 0o755); err != nil {
		t.Fatalf("mkdir data: %v", err)
	}
	store, err := objectstore.OpenSQLite(e.dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	testsupport.Seed(t, store, objects)
}

func (e *cliTestEnv) read(t *testing.T, key string) objectstore.Payload {
	t.Helper()
	store, err := objectstore.OpenSQLite(e.dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	return testsupport.MustRead(t, store, key)
}

func (e *cliTestEnv) list(t *testing.T, prefix string) []string {
	t.Helper()
	store, err := objectstore.OpenSQLite(e.dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	return testsupport.MustList(t, store, prefix)
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func contentPlan() objectstore.Payload {
	return objectstore.Payload{
		"Post_1":   map[string]any{"content": "Spring drop is live. Come by.", "hashtags": "#spring #drop", "status": "pending"},
		"Post_2":   map[string]any{"content": "Last call for the spring drop.", "status": "pending"},
		"Timeline": "24",
		"status":   "pending",
	}
}
