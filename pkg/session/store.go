package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrNotFound is returned by Load when no snapshot has been saved yet.
var ErrNotFound = errors.New("session snapshot not found")

// Store persists the session snapshot.
type Store interface {
	// Exists reports whether a snapshot has been saved
	Exists() bool

	// Load reads the saved snapshot; fails with ErrNotFound if absent
	Load() (*Snapshot, error)

	// Save replaces the saved snapshot atomically
	Save(snapshot *Snapshot) error
}

// FileStore implements Store using a single JSON file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a file-based snapshot store at path.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("session snapshot path is required")
	}
	return &FileStore{path: path}, nil
}

// Path returns the file path of the store.
func (s *FileStore) Path() string {
	return s.path
}

// Exists reports whether the snapshot file is present.
func (s *FileStore) Exists() bool {
	info, err := os.Stat(s.path)
	return err == nil && !info.IsDir()
}

// Load reads and decodes the snapshot file.
func (s *FileStore) Load() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, s.path)
		}
		return nil, fmt.Errorf("failed to open session snapshot: %w", err)
	}
	defer file.Close()

	var snapshot Snapshot
	if err := json.NewDecoder(file).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode session snapshot: %w", err)
	}
	return &snapshot, nil
}

// Save writes the snapshot to a temp file next to the target and renames it
// into place, so an interrupted write never replaces a valid snapshot.
func (s *FileStore) Save(snapshot *Snapshot) error {
	if snapshot == nil {
		return fmt.Errorf("session snapshot is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}

	tempPath := s.path + ".tmp"
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(snapshot); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode session snapshot: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync temp snapshot file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp snapshot file: %w", err)
	}

	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp snapshot file: %w", err)
	}

	return nil
}
