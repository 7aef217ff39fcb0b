package ports

import "github.com/davecap/coag-sense-tracker/internal/domain"

// ResultStore persists the canonical ResultSet document. Save must replace
// the previous document atomically so concurrent readers never observe a
// partial write.
type ResultStore interface {
	Save(rs *domain.ResultSet) error
	// Load returns the last persisted ResultSet, or an empty zero-count
	// ResultSet when none has been written yet.
	Load() (*domain.ResultSet, error)
	Exists() bool
	Clear() error
}
