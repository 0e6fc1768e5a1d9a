package auth

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBootstrapCreatesLoadableKeyring(t *testing.T) {
	keysPath := filepath.Join(t.TempDir(), "autopilot.keys.yaml")

	result, err := BootstrapDevKey(keysPath, "proj-a")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if !result.Created || result.Key == "" || result.Project != "proj-a" {
		t.Fatalf("result = %+v", result)
	}

	ring, err := LoadKeyring(keysPath)
	if err != nil {
		t.Fatalf("load keyring: %v", err)
	}
	project, ok := ring.ProjectForKey(result.Key)
	if !ok || project != "proj-a" {
		t.Fatalf("key resolves to %q ok=%v", project, ok)
	}
	if !ring.AllowLocalhostWithoutAuth {
		t.Fatalf("bootstrap should default to localhost bypass")
	}
}

func TestBootstrapLeavesExistingFileAlone(t *testing.T) {
	keysPath := filepath.Join(t.TempDir(), "autopilot.keys.yaml")
	if err := os.WriteFile(keysPath, []byte("projects: {}\n"), 0600); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	result, err := BootstrapDevKey(keysPath, "proj-a")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if result.Created || result.Key != "" {
		t.Fatalf("result = %+v, want untouched", result)
	}
	data, _ := os.ReadFile(keysPath)
	if string(data) != "projects: {}\n" {
		t.Fatalf("existing file was rewritten: %q", data)
	}
}

func TestBootstrapDefaultsProjectToDev(t *testing.T) {
	keysPath := filepath.Join(t.TempDir(), "autopilot.keys.yaml")
	result, err := BootstrapDevKey(keysPath, "")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if result.Project != "dev" {
		t.Fatalf("project = %q, want dev", result.Project)
	}
}
