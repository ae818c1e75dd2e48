// Package credstore persists provider secrets outside the main config file.
//
// Secrets live in a single YAML file with 0600 permissions, keyed by dotted
// names such as "acs.accessKey" or "agent.copilot-studio.<id>.clientSecret".
// The store is meant for a single operator machine, not for multi-tenant
// secret management.
package credstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("credstore: key not found")

// Store is a file-backed secret store. All methods are safe for concurrent
// use; every mutation is written through to disk before returning.
type Store struct {
	path string

	mu      sync.Mutex
	secrets map[string]string
}

// Open loads (or creates) the store at path.
func Open(path string) (*Store, error) {
	s := &Store{path: path, secrets: make(map[string]string)}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// First run, nothing stored yet.
	case err != nil:
		return nil, fmt.Errorf("credstore: read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &s.secrets); err != nil {
			return nil, fmt.Errorf("credstore: parse %s: %w", path, err)
		}
		if s.secrets == nil {
			s.secrets = make(map[string]string)
		}
	}
	return s, nil
}

// Get returns the secret stored under key, or [ErrNotFound].
func (s *Store) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.secrets[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return v, nil
}

// Set stores value under key and persists the store.
func (s *Store) Set(key, value string) error {
	return s.SetAll(map[string]string{key: value})
}

// SetAll stores every entry in values and persists once.
func (s *Store) SetAll(values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		s.secrets[k] = v
	}
	return s.flushLocked()
}

// Delete removes key. Deleting an absent key is a no-op.
func (s *Store) Delete(key string) error {
	return s.DeleteAll(key)
}

// DeleteAll removes every given key and persists once.
func (s *Store) DeleteAll(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.secrets, k)
	}
	return s.flushLocked()
}

// Keys returns the stored key names, sorted. Values are never listed.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.secrets))
	for k := range s.secrets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// flushLocked writes the store to disk with 0600 permissions. Must be called
// with s.mu held. The write goes through a temp file and rename so a crash
// never leaves a half-written secrets file.
func (s *Store) flushLocked() error {
	data, err := yaml.Marshal(s.secrets)
	if err != nil {
		return fmt.Errorf("credstore: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("credstore: create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".credstore-*")
	if err != nil {
		return fmt.Errorf("credstore: temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("credstore: chmod: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("credstore: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("credstore: close: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("credstore: rename: %w", err)
	}
	return nil
}
