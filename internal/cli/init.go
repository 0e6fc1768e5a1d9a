// Package cli holds helpers behind the autopilot binary's subcommands.
package cli

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// keysFile mirrors the yaml layout the auth package reads.
type keysFile struct {
	DefaultPolicy struct {
		AllowLocalhostWithoutAuth *bool `yaml:"allow_localhost_without_auth"`
	} `yaml:"default_policy"`
	Projects map[string]projectKeys `yaml:"projects"`
}

type projectKeys struct {
	Keys []string `yaml:"keys"`
}

// InitKeysFile appends a freshly generated API key for project to the keys
// file at path, creating the file when absent. Existing keys for other
// projects are preserved. Returns the new key so the command can print it
// once; it is not recoverable later.
func InitKeysFile(path, project string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("keys file path required")
	}
	project = strings.TrimSpace(project)
	if project == "" {
		return "", fmt.Errorf("project required")
	}

	cfg, err := readKeysFile(path)
	if err != nil {
		return "", err
	}

	key, err := generateKey()
	if err != nil {
		return "", err
	}
	if cfg.Projects == nil {
		cfg.Projects = make(map[string]projectKeys)
	}
	entry := cfg.Projects[project]
	entry.Keys = append(entry.Keys, key)
	cfg.Projects[project] = entry
	if cfg.DefaultPolicy.AllowLocalhostWithoutAuth == nil {
		allow := true
		cfg.DefaultPolicy.AllowLocalhostWithoutAuth = &allow
	}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return "", fmt.Errorf("marshal keys file: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("write keys file: %w", err)
	}
	return key, nil
}

// readKeysFile parses the file at path; a missing file is an empty config.
func readKeysFile(path string) (keysFile, error) {
	var cfg keysFile
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read keys file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse keys file: %w", err)
	}
	return cfg, nil
}

func generateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
