// Package exporter ships validated readings to an external Postgres or
// TimescaleDB table after each aggregation run. Export is additive: the
// file-backed ResultSet remains the source of truth.
package exporter

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/davecap/coag-sense-tracker/internal/domain"
	"github.com/davecap/coag-sense-tracker/internal/ports"
)

type PostgresExporter struct {
	db        *sql.DB
	tableName string
}

func NewPostgresExporter(db *sql.DB, table string) *PostgresExporter {
	return &PostgresExporter{db: db, tableName: table}
}

func (p *PostgresExporter) Name() string { return "postgres" }

// ExportReadings inserts the batch idempotently: every session close
// re-exports the full valid set, so conflicts on the logical
// (sequence_nbr, observed_at) key are ignored. The arbiter coalesces an
// absent sequence to -1 because Postgres treats NULLs as distinct and a
// plain column arbiter would re-insert sequence-less readings on every
// session. The target table needs a unique index on
// (COALESCE(sequence_nbr, -1), observed_at) for the arbiter to match.
func (p *PostgresExporter) ExportReadings(readings []domain.Observation) error {
	if len(readings) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(p.tableName)
	b.WriteString(" (sequence_nbr, observed_at, status_cd, patient_id, inr, pt_seconds, reagent_lot, notes) VALUES ")

	args := make([]any, 0, len(readings)*8)
	for i, r := range readings {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			len(args)+1, len(args)+2, len(args)+3, len(args)+4,
			len(args)+5, len(args)+6, len(args)+7, len(args)+8))

		args = append(args,
			r.Sequence,
			r.Timestamp,
			r.Status,
			r.PatientID,
			r.INR,
			r.PTSeconds,
			r.ReagentLot,
			r.Notes,
		)
	}

	b.WriteString(" ON CONFLICT (COALESCE(sequence_nbr, -1), observed_at) DO NOTHING")

	_, err := p.db.Exec(b.String(), args...)
	return err
}

var _ ports.Exporter = (*PostgresExporter)(nil)
