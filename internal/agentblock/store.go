package agentblock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type document struct {
	Blocked []string `json:"blocked"`
}

// LoadFile reads the persisted blocklist. A missing file is an empty
// set.
func LoadFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("agentblock: read %s: %w", path, err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("agentblock: parse %s: %w", path, err)
	}
	return doc.Blocked, nil
}

// SaveFile writes the blocklist atomically (write-temp + rename).
func SaveFile(path string, addrs []string) error {
	if addrs == nil {
		addrs = []string{}
	}
	data, err := json.MarshalIndent(document{Blocked: addrs}, "", "  ")
	if err != nil {
		return fmt.Errorf("agentblock: marshal: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("agentblock: create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".blocklist-*.json")
	if err != nil {
		return fmt.Errorf("agentblock: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("agentblock: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("agentblock: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("agentblock: rename %s: %w", path, err)
	}
	return nil
}
