// Package capture persists raw observation-batch frames as append-only
// files whose names sort chronologically, so the aggregator can replay a
// session (or several) in capture order.
package capture

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/davecap/coag-sense-tracker/internal/ports"
)

const (
	artifactPrefix = "OBS_DATA_"
	artifactSuffix = ".xml"
)

// FileStore writes one file per captured frame under a single directory.
// Artifacts are never mutated after creation, only created and later scanned.
type FileStore struct {
	mu  sync.Mutex
	dir string
	seq uint64
	now func() time.Time
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

// Save persists one raw frame. The name carries a UTC microsecond timestamp
// plus a per-process sequence so two frames landing in the same microsecond
// still sort in capture order.
func (s *FileStore) Save(raw string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	ts := s.now().UTC()
	name := fmt.Sprintf("%s%s_%06d_%06d%s",
		artifactPrefix,
		ts.Format("20060102_150405"),
		ts.Nanosecond()/1000,
		s.seq,
		artifactSuffix,
	)

	if err := os.WriteFile(filepath.Join(s.dir, name), []byte(raw), 0o644); err != nil {
		return "", fmt.Errorf("write capture %s: %w", name, err)
	}
	return name, nil
}

// List returns every artifact name in ascending lexicographic order, which
// by construction is capture order.
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, artifactPrefix) && strings.HasSuffix(name, artifactSuffix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *FileStore) Read(name string) (string, error) {
	if name != filepath.Base(name) {
		return "", fmt.Errorf("invalid capture name %q", name)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Clear removes every artifact. Idempotent: clearing an empty store removes
// nothing and succeeds.
func (s *FileStore) Clear() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, name := range names {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

var _ ports.CaptureStore = (*FileStore)(nil)
