package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore persists the cache document as an indented JSON file. This is the
// default backend and its on-disk format is readable and hand-editable.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore writing to path. The parent directory is
// created if it does not exist.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("persist: file path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("persist: failed to create cache directory %q: %w", dir, err)
		}
	}
	return &FileStore{path: path}, nil
}

// Load reads and decodes the JSON document. A missing file is not an error.
func (s *FileStore) Load() (Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Document{}, nil
		}
		return nil, fmt.Errorf("persist: failed to read %q: %w", s.path, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("persist: failed to decode %q: %w", s.path, err)
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

// Save writes the document atomically: encode to a temp file in the same
// directory, then rename over the target.
func (s *FileStore) Save(doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("persist: failed to encode document: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("persist: failed to write %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("persist: failed to replace %q: %w", s.path, err)
	}
	return nil
}

// Close is a no-op for the file backend.
func (s *FileStore) Close() error { return nil }
