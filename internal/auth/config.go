// Package auth maps bearer keys to projects. Requests from localhost may
// bypass auth (the common single-user desktop setup); remote callers must
// present a project-scoped API key.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultKeysFile = "autopilot.keys.yaml"

// keysFile is the on-disk yaml layout, shared with the cli init helper.
type keysFile struct {
	DefaultPolicy struct {
		AllowLocalhostWithoutAuth *bool `yaml:"allow_localhost_without_auth"`
	} `yaml:"default_policy"`
	Projects map[string]projectKeys `yaml:"projects"`
}

type projectKeys struct {
	Keys []string `yaml:"keys"`
}

// Keyring resolves API keys to the project they are scoped to.
type Keyring struct {
	AllowLocalhostWithoutAuth bool
	keyToProject              map[string]string
}

// ResolveKeysPath returns the keys file location: the AUTOPILOT_KEYS_FILE
// env var when set, otherwise autopilot.keys.yaml in the working directory.
func ResolveKeysPath() string {
	if v := strings.TrimSpace(os.Getenv("AUTOPILOT_KEYS_FILE")); v != "" {
		return v
	}
	return filepath.Join(".", defaultKeysFile)
}

func LoadKeyringFromEnv() (*Keyring, error) {
	return LoadKeyring(ResolveKeysPath())
}

// LoadKeyring reads the yaml keys file at path, bootstrapping a dev key
// when no file exists yet. An empty path yields a keyring that only admits
// localhost.
func LoadKeyring(path string) (*Keyring, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return defaultKeyring(), nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if _, berr := BootstrapDevKey(path, "dev"); berr != nil {
			return nil, fmt.Errorf("bootstrap dev key: %w", berr)
		}
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read keys file: %w", err)
	}

	var cfg keysFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse keys file: %w", err)
	}
	return keyringFromConfig(cfg)
}

func keyringFromConfig(cfg keysFile) (*Keyring, error) {
	ring := defaultKeyring()
	if cfg.DefaultPolicy.AllowLocalhostWithoutAuth != nil {
		ring.AllowLocalhostWithoutAuth = *cfg.DefaultPolicy.AllowLocalhostWithoutAuth
	}
	for project, entry := range cfg.Projects {
		for _, key := range entry.Keys {
			key = strings.TrimSpace(key)
			if key == "" {
				continue
			}
			// A key that unlocks two projects would defeat project scoping.
			if owner, taken := ring.keyToProject[key]; taken && owner != project {
				return nil, fmt.Errorf("key reused across projects: %q", key)
			}
			ring.keyToProject[key] = project
		}
	}
	return ring, nil
}

func defaultKeyring() *Keyring {
	return &Keyring{AllowLocalhostWithoutAuth: true, keyToProject: make(map[string]string)}
}

// NewKeyring builds a keyring from an explicit key-to-project map, mostly
// for tests and embedded hosts.
func NewKeyring(allowLocalhost bool, keyToProject map[string]string) *Keyring {
	ring := &Keyring{AllowLocalhostWithoutAuth: allowLocalhost, keyToProject: make(map[string]string, len(keyToProject))}
	for key, project := range keyToProject {
		ring.keyToProject[key] = project
	}
	return ring
}

// ProjectForKey resolves key to its project. A nil keyring admits no keys.
func (k *Keyring) ProjectForKey(key string) (string, bool) {
	if k == nil {
		return "", false
	}
	project, ok := k.keyToProject[key]
	return project, ok
}
