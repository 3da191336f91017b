package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Identity is the persistent node identity, stored at config/config.json
// under the service root. The node_uid is minted once and never changes for
// the lifetime of the file.
type Identity struct {
	NodeUID    string   `json:"node_uid"`
	Role       string   `json:"role"`
	PublicIP   string   `json:"public_ip,omitempty"`
	PublicPort int      `json:"public_port,omitempty"`
	UseUPnP    bool     `json:"use_upnp"`
	Registries []string `json:"registries"`
}

// LoadOrCreateIdentity reads the identity file at path, or mints a new one
// with the given role and writes it. An existing file always wins: the role
// argument is ignored when the file is already present.
func LoadOrCreateIdentity(path, role string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		var id Identity
		if err := json.Unmarshal(data, &id); err != nil {
			return nil, fmt.Errorf("failed to parse identity file %s: %w", path, err)
		}
		if id.NodeUID == "" {
			return nil, fmt.Errorf("identity file %s has no node_uid", path)
		}
		return &id, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read identity file %s: %w", path, err)
	}

	id := &Identity{
		NodeUID:    uuid.New().String(),
		Role:       role,
		UseUPnP:    true,
		Registries: []string{},
	}
	if err := SaveIdentity(path, id); err != nil {
		return nil, err
	}
	return id, nil
}

// SaveIdentity writes the identity file atomically, creating the parent
// directory if needed.
func SaveIdentity(path string, id *Identity) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create identity directory: %w", err)
	}

	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode identity: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write identity file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace identity file: %w", err)
	}
	return nil
}
