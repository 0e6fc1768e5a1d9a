package cli

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

type keysFileShape struct {
	DefaultPolicy struct {
		AllowLocalhostWithoutAuth bool `yaml:"allow_localhost_without_auth"`
	} `yaml:"default_policy"`
	Projects map[string]struct {
		Keys []string `yaml:"keys"`
	} `yaml:"projects"`
}

func readShape(t *testing.T, path string) keysFileShape {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read keys file: %v", err)
	}
	var cfg keysFileShape
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("parse yaml: %v", err)
	}
	return cfg
}

func TestInitKeysFileCreatesProjectKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.yaml")

	key, err := InitKeysFile(path, "proj-a")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if key == "" {
		t.Fatalf("expected generated key")
	}

	cfg := readShape(t, path)
	if keys := cfg.Projects["proj-a"].Keys; len(keys) != 1 || keys[0] != key {
		t.Fatalf("keys = %v, want [%s]", keys, key)
	}
	if !cfg.DefaultPolicy.AllowLocalhostWithoutAuth {
		t.Fatalf("expected localhost bypass default")
	}
}

func TestInitKeysFileAppendsWithoutClobbering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.yaml")

	first, err := InitKeysFile(path, "proj-a")
	if err != nil {
		t.Fatalf("first init: %v", err)
	}
	second, err := InitKeysFile(path, "proj-b")
	if err != nil {
		t.Fatalf("second init: %v", err)
	}

	cfg := readShape(t, path)
	if keys := cfg.Projects["proj-a"].Keys; len(keys) != 1 || keys[0] != first {
		t.Fatalf("proj-a keys = %v", keys)
	}
	if keys := cfg.Projects["proj-b"].Keys; len(keys) != 1 || keys[0] != second {
		t.Fatalf("proj-b keys = %v", keys)
	}
}

func TestInitKeysFileValidation(t *testing.T) {
	if _, err := InitKeysFile("", "proj-a"); err == nil {
		t.Fatalf("expected error without path")
	}
	if _, err := InitKeysFile(filepath.Join(t.TempDir(), "keys.yaml"), "  "); err == nil {
		t.Fatalf("expected error without project")
	}
}
