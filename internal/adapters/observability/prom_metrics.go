// Package observability backs ports.Observability with Prometheus metrics
// and zerolog structured logging.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/davecap/coag-sense-tracker/internal/ports"
)

type PromObs struct {
	log      zerolog.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

// NewPromObs registers the bridge's metrics with reg (the default registerer
// when nil) and routes logs through logger.
func NewPromObs(logger zerolog.Logger, reg prometheus.Registerer) *PromObs {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	frames := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coag_frames_total",
		Help: "Total protocol frames read from the device.",
	})
	extracted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coag_observations_extracted_total",
		Help: "Total observation records extracted from batch frames.",
	})
	sessions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coag_sessions_total",
		Help: "Total device sessions accepted.",
	})
	dropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coag_events_dropped_total",
		Help: "Events discarded by the bounded hand-off queue.",
	})
	exportFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coag_export_failures_total",
		Help: "Failed reading exports to the external sink.",
	})
	connected := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coag_device_connected",
		Help: "1 while a device connection is being serviced.",
	})
	transfer := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coag_transfer_in_progress",
		Help: "1 while an observation transfer is underway.",
	})
	wsClients := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coag_ws_clients",
		Help: "Currently registered live consumers.",
	})
	queueLen := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coag_event_queue_length",
		Help: "Events buffered in the hand-off queue.",
	})
	aggregate := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "coag_aggregate_duration_seconds",
		Help:    "Time to recompute and persist the result set.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	reg.MustRegister(frames, extracted, sessions, dropped, exportFailures,
		connected, transfer, wsClients, queueLen, aggregate)

	return &PromObs{
		log: logger,
		counters: map[string]prometheus.Counter{
			"coag_frames_total":                 frames,
			"coag_observations_extracted_total": extracted,
			"coag_sessions_total":               sessions,
			"coag_events_dropped_total":         dropped,
			"coag_export_failures_total":        exportFailures,
		},
		gauges: map[string]prometheus.Gauge{
			"coag_device_connected":     connected,
			"coag_transfer_in_progress": transfer,
			"coag_ws_clients":           wsClients,
			"coag_event_queue_length":   queueLen,
		},
		histos: map[string]prometheus.Observer{
			"coag_aggregate_duration_seconds": aggregate,
		},
	}
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.emit(p.log.Info(), msg, fields)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.emit(p.log.Error().Err(err), msg, fields)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.emit(p.log.Error().Bool("critical", true).Err(err), msg, fields)
}

func (p *PromObs) emit(ev *zerolog.Event, msg string, fields []ports.Field) {
	for _, f := range fields {
		ev = ev.Interface(f.Key, f.Value)
	}
	ev.Msg(msg)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

var _ ports.Observability = (*PromObs)(nil)
