package ports

import "github.com/davecap/coag-sense-tracker/internal/domain"

// Exporter pushes valid readings to an external system after aggregation.
// Export failures never block persisting the ResultSet.
type Exporter interface {
	ExportReadings(readings []domain.Observation) error
	Name() string
}
