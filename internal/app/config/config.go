package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Web      WebConfig      `yaml:"web"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Captures CapturesConfig `yaml:"captures"`
	Results  ResultsConfig  `yaml:"results"`
	Events   EventsConfig   `yaml:"events"`
	Export   ExportConfig   `yaml:"export"`
}

type DeviceConfig struct {
	Port int `yaml:"port"`
	// ReadTimeout bounds each mid-session read; expiry is session-fatal.
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// AcceptPoll bounds each Accept wait so shutdown can be observed.
	AcceptPoll time.Duration `yaml:"accept_poll"`
}

type WebConfig struct {
	Addr string `yaml:"addr"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type CapturesConfig struct {
	Dir string `yaml:"dir"`
}

type ResultsConfig struct {
	Path string `yaml:"path"`
}

type EventsConfig struct {
	QueueSize int `yaml:"queue_size"`
}

// ExportConfig enables the optional Postgres/Timescale readings export when
// ConnString is set.
type ExportConfig struct {
	ConnString string `yaml:"conn_string"`
	Table      string `yaml:"table"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.Device.Port == 0 {
		c.Device.Port = 5050
	}
	if c.Device.ReadTimeout == 0 {
		c.Device.ReadTimeout = 120 * time.Second
	}
	if c.Device.AcceptPoll == 0 {
		c.Device.AcceptPoll = time.Second
	}
	if c.Web.Addr == "" {
		c.Web.Addr = ":8000"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Captures.Dir == "" {
		c.Captures.Dir = "./data/captures"
	}
	if c.Results.Path == "" {
		c.Results.Path = "./data/inr_results.json"
	}
	if c.Events.QueueSize == 0 {
		c.Events.QueueSize = 256
	}
	if c.Export.Table == "" {
		c.Export.Table = "readings"
	}
}

func (c *Config) Validate() error {
	if c.Device.Port < 0 || c.Device.Port > 65535 {
		return fmt.Errorf("device.port %d out of range", c.Device.Port)
	}
	if c.Device.ReadTimeout <= 0 {
		return fmt.Errorf("device.read_timeout must be positive")
	}
	if c.Device.AcceptPoll <= 0 {
		return fmt.Errorf("device.accept_poll must be positive")
	}
	if c.Web.Addr == "" {
		return fmt.Errorf("web.addr is required")
	}
	if c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required")
	}
	if c.Captures.Dir == "" {
		return fmt.Errorf("captures.dir is required")
	}
	if c.Results.Path == "" {
		return fmt.Errorf("results.path is required")
	}
	if c.Events.QueueSize <= 0 {
		return fmt.Errorf("events.queue_size must be positive")
	}
	if c.Export.ConnString != "" && c.Export.Table == "" {
		return fmt.Errorf("export.table is required when export is enabled")
	}
	return nil
}
