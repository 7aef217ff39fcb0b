// Package results persists the canonical ResultSet as a single JSON
// document, replaced wholesale on every aggregation run.
package results

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/davecap/coag-sense-tracker/internal/domain"
	"github.com/davecap/coag-sense-tracker/internal/ports"
)

// FileStore writes the document to a temp file and renames it into place,
// so a concurrent reader of the last-good document never observes a partial
// write.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) Save(rs *domain.ResultSet) error {
	data, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result set: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write result set: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace result set: %w", err)
	}
	return nil
}

// Load returns the last persisted ResultSet, or an empty zero-count set
// when nothing has been aggregated yet.
func (s *FileStore) Load() (*domain.ResultSet, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &domain.ResultSet{Readings: []domain.Observation{}}, nil
		}
		return nil, err
	}

	var rs domain.ResultSet
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse result set: %w", err)
	}
	if rs.Readings == nil {
		rs.Readings = []domain.Observation{}
	}
	return &rs, nil
}

func (s *FileStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Path returns the document's location on disk.
func (s *FileStore) Path() string { return s.path }

var _ ports.ResultStore = (*FileStore)(nil)
