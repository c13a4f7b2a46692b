package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Registry maps user ids to the last instance id issued to them, giving
// instances identity continuity across reconnects. It is a small parallel
// document next to the dataset file.
type Registry struct {
	path    string
	mu      sync.Mutex
	entries map[string]string
	loaded  bool
}

// NewRegistry creates a registry backed by the given file path.
func NewRegistry(path string) *Registry {
	return &Registry{
		path:    path,
		entries: map[string]string{},
	}
}

// Resolve returns the last instance id issued to the user, if any.
func (r *Registry) Resolve(userID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.load(); err != nil {
		return "", false
	}
	id, ok := r.entries[userID]
	return id, ok
}

// Assign records the instance id issued to the user and persists the
// registry document.
func (r *Registry) Assign(userID, instanceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.load(); err != nil {
		return err
	}
	if r.entries[userID] == instanceID {
		return nil
	}
	r.entries[userID] = instanceID

	raw, err := json.MarshalIndent(r.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode identity registry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write identity registry: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace identity registry: %w", err)
	}
	return nil
}

func (r *Registry) load() error {
	if r.loaded {
		return nil
	}
	raw, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		r.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read identity registry: %w", err)
	}
	entries := map[string]string{}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("failed to decode identity registry: %w", err)
	}
	r.entries = entries
	r.loaded = true
	return nil
}
