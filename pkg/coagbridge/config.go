package coagbridge

import "github.com/davecap/coag-sense-tracker/internal/app/config"

// Config is the full runtime configuration. See LoadConfig for the YAML
// layout and defaults.
type Config = config.Config

type (
	DeviceConfig   = config.DeviceConfig
	WebConfig      = config.WebConfig
	MetricsConfig  = config.MetricsConfig
	CapturesConfig = config.CapturesConfig
	ResultsConfig  = config.ResultsConfig
	EventsConfig   = config.EventsConfig
	ExportConfig   = config.ExportConfig
)

// LoadConfig reads a YAML config file, applies defaults, and validates it.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// DefaultConfig returns a config with every default applied and no file
// read. Useful for embedding and tests.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}
