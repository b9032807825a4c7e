package routes

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Document is the on-disk routes file: {"routes": [...]}. Mutations
// rewrite the whole document.
type Document struct {
	Routes []Rule `json:"routes"`
}

// LoadFile reads the routes document. A missing file yields an empty
// rule set so a fresh deployment starts with no routes.
func LoadFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("routes: read %s: %w", path, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("routes: parse %s: %w", path, err)
	}
	return doc.Routes, nil
}

// SaveFile writes the routes document atomically (write-temp + rename),
// so a crash mid-write never leaves a torn file behind. Load-then-save
// is a fixed point: field order and formatting are deterministic.
func SaveFile(path string, rules []Rule) error {
	if rules == nil {
		rules = []Rule{}
	}
	data, err := json.MarshalIndent(Document{Routes: rules}, "", "  ")
	if err != nil {
		return fmt.Errorf("routes: marshal document: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("routes: create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".routes-*.json")
	if err != nil {
		return fmt.Errorf("routes: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("routes: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("routes: close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("routes: rename %s: %w", path, err)
	}
	return nil
}
