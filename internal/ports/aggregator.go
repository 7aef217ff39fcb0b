package ports

import "github.com/davecap/coag-sense-tracker/internal/domain"

// Aggregator recomputes the canonical ResultSet from every capture artifact
// and persists it. Invoked by the session state machine on session close.
type Aggregator interface {
	Aggregate(device domain.DeviceInfo) (*domain.ResultSet, error)
}
