// Package aggregate recomputes the canonical result set from every capture
// artifact. It is a full recompute on every run, not an incremental merge:
// capture volumes are single-device, single-patient-session scale.
package aggregate

import (
	"sort"
	"time"

	"github.com/davecap/coag-sense-tracker/internal/domain"
	"github.com/davecap/coag-sense-tracker/internal/poct"
	"github.com/davecap/coag-sense-tracker/internal/ports"
)

type Aggregator struct {
	captures ports.CaptureStore
	results  ports.ResultStore
	exporter ports.Exporter // optional
	events   ports.EventQueue
	obs      ports.Observability
	now      func() time.Time
}

func New(captures ports.CaptureStore, results ports.ResultStore, exporter ports.Exporter, events ports.EventQueue, obs ports.Observability) *Aggregator {
	return &Aggregator{
		captures: captures,
		results:  results,
		exporter: exporter,
		events:   events,
		obs:      obs,
		now:      time.Now,
	}
}

// Aggregate scans every capture artifact in name (capture) order, extracts
// all observations, deduplicates by sequence, stable-sorts by timestamp,
// filters to valid readings, and persists the replacement ResultSet.
func (a *Aggregator) Aggregate(device domain.DeviceInfo) (*domain.ResultSet, error) {
	start := a.now()

	names, err := a.captures.List()
	if err != nil {
		return nil, err
	}

	var all []domain.Observation
	for _, name := range names {
		raw, err := a.captures.Read(name)
		if err != nil {
			// A missing or unreadable artifact loses its readings only;
			// the rest of the set still aggregates.
			a.obs.LogError("aggregate_capture_read_failed", err,
				ports.Field{Key: "capture", Value: name})
			continue
		}
		all = append(all, poct.ExtractObservations(raw)...)
	}

	valid := filterValid(sortByTimestamp(dedupBySequence(all)))

	rs := &domain.ResultSet{
		Device:        device,
		ExportDate:    a.now().Format(time.RFC3339),
		TotalReadings: len(valid),
		Readings:      valid,
	}

	if err := a.results.Save(rs); err != nil {
		return nil, err
	}

	a.export(valid)

	a.obs.ObserveLatency("coag_aggregate_duration_seconds", a.now().Sub(start).Seconds())
	a.obs.LogInfo("aggregate_complete",
		ports.Field{Key: "captures", Value: len(names)},
		ports.Field{Key: "extracted", Value: len(all)},
		ports.Field{Key: "valid", Value: len(valid)})
	return rs, nil
}

// dedupBySequence keeps at most one observation per sequence value,
// last-write-wins in capture order (a later duplicate replaces the earlier
// one in place). Observations without a sequence are never deduplicated.
func dedupBySequence(all []domain.Observation) []domain.Observation {
	deduped := make([]domain.Observation, 0, len(all))
	bySeq := make(map[int]int)
	for _, o := range all {
		if o.Sequence == nil {
			deduped = append(deduped, o)
			continue
		}
		if i, ok := bySeq[*o.Sequence]; ok {
			deduped[i] = o
			continue
		}
		bySeq[*o.Sequence] = len(deduped)
		deduped = append(deduped, o)
	}
	return deduped
}

// sortByTimestamp orders ascending by lexicographic timestamp comparison;
// the sort is stable so ties keep their pre-sort relative order.
func sortByTimestamp(obs []domain.Observation) []domain.Observation {
	sort.SliceStable(obs, func(i, j int) bool {
		return obs[i].Timestamp < obs[j].Timestamp
	})
	return obs
}

func filterValid(obs []domain.Observation) []domain.Observation {
	valid := make([]domain.Observation, 0, len(obs))
	for _, o := range obs {
		if o.Valid() {
			valid = append(valid, o)
		}
	}
	return valid
}

// export pushes valid readings to the optional external sink. Failures are
// surfaced, never retried, and never block the persisted ResultSet.
func (a *Aggregator) export(valid []domain.Observation) {
	if a.exporter == nil || len(valid) == 0 {
		return
	}
	if err := a.exporter.ExportReadings(valid); err != nil {
		a.obs.IncCounter("coag_export_failures_total", 1)
		a.obs.LogError("aggregate_export_failed", err,
			ports.Field{Key: "exporter", Value: a.exporter.Name()})
		if !a.events.Enqueue(domain.NewErrorEvent("export failed: " + err.Error())) {
			a.obs.IncCounter("coag_events_dropped_total", 1)
		}
	}
}

var _ ports.Aggregator = (*Aggregator)(nil)
