package coagbridge

import (
	base "github.com/davecap/coag-sense-tracker/pkg/coagbridge"
)

// Type aliases so consumers can import
// github.com/davecap/coag-sense-tracker directly.
type (
	Config         = base.Config
	DeviceConfig   = base.DeviceConfig
	WebConfig      = base.WebConfig
	MetricsConfig  = base.MetricsConfig
	CapturesConfig = base.CapturesConfig
	ResultsConfig  = base.ResultsConfig
	EventsConfig   = base.EventsConfig
	ExportConfig   = base.ExportConfig

	Bridge = base.Bridge
	Option = base.Option

	DeviceInfo  = base.DeviceInfo
	Observation = base.Observation
	ResultSet   = base.ResultSet
	Event       = base.Event
	EventType   = base.EventType

	CaptureStore  = base.CaptureStore
	ResultStore   = base.ResultStore
	EventQueue    = base.EventQueue
	Exporter      = base.Exporter
	Observability = base.Observability
	Field         = base.Field
)

// Event types emitted on the stream.
const (
	EventInit         = base.EventInit
	EventConnected    = base.EventConnected
	EventHello        = base.EventHello
	EventStatusReport = base.EventStatusReport
	EventRequesting   = base.EventRequesting
	EventProgress     = base.EventProgress
	EventError        = base.EventError
	EventComplete     = base.EventComplete
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func DefaultConfig() *Config {
	return base.DefaultConfig()
}

// Bridge construction and options.
func New(cfg *Config, opts ...Option) (*Bridge, error) {
	return base.New(cfg, opts...)
}

func WithCaptureStore(s CaptureStore) Option {
	return base.WithCaptureStore(s)
}

func WithResultStore(s ResultStore) Option {
	return base.WithResultStore(s)
}

func WithEventQueue(q EventQueue) Option {
	return base.WithEventQueue(q)
}

func WithExporter(e Exporter) Option {
	return base.WithExporter(e)
}

func WithObservability(obs Observability) Option {
	return base.WithObservability(obs)
}
