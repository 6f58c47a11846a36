package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/OpenTraceLab/OpenTraceGPIB/pkg/gpib"
	"gopkg.in/yaml.v3"
)

// Config is the gpib tool configuration, usually read from gpib.yaml.
type Config struct {
	Link    LinkConfig    `yaml:"link"`
	Bus     BusConfig     `yaml:"bus"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Console ConsoleConfig `yaml:"console"`
}

type LinkConfig struct {
	Adapter     string        `yaml:"adapter"` // agipibi or simulator
	Device      string        `yaml:"device"`
	BaudRate    int           `yaml:"baud_rate"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	SettleDelay time.Duration `yaml:"settle_delay"`
}

type BusConfig struct {
	CIC      gpib.Address  `yaml:"cic"`
	Target   gpib.Address  `yaml:"target"`
	IFCPulse time.Duration `yaml:"ifc_pulse"`
	Identify string        `yaml:"identify"` // sent once after bring-up, empty to skip
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the endpoint
}

type ConsoleConfig struct {
	Prompt string `yaml:"prompt"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Link: LinkConfig{
			Adapter:     "agipibi",
			Device:      "/dev/ttyUSB0",
			BaudRate:    gpib.DefaultBaudRate,
			ReadTimeout: gpib.DefaultReadTimeout,
			SettleDelay: gpib.DefaultSettleDelay,
		},
		Bus: BusConfig{
			CIC:      gpib.DefaultCICAddress,
			Target:   gpib.DefaultTargetAddress,
			IFCPulse: time.Millisecond,
			Identify: "ID?",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Console: ConsoleConfig{
			Prompt: "gpib> ",
		},
	}
}

// Load reads path over the defaults. Keys missing from the file keep their
// default value.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later on the bus.
func (c *Config) Validate() error {
	var errs []error

	switch c.Link.Adapter {
	case "agipibi", "simulator", "sim":
	default:
		errs = append(errs, fmt.Errorf("link.adapter: unknown adapter %q", c.Link.Adapter))
	}
	if c.Link.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("link.baud_rate: must be positive, got %d", c.Link.BaudRate))
	}
	if c.Link.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("link.read_timeout: must be positive"))
	}
	if c.Link.SettleDelay < 0 {
		errs = append(errs, fmt.Errorf("link.settle_delay: must not be negative"))
	}
	if err := c.Bus.CIC.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("bus.cic: %w", err))
	}
	if err := c.Bus.Target.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("bus.target: %w", err))
	}
	if c.Bus.CIC == c.Bus.Target {
		errs = append(errs, fmt.Errorf("bus.target: shares address %d with the controller", c.Bus.CIC))
	}
	if c.Bus.IFCPulse <= 0 {
		errs = append(errs, fmt.Errorf("bus.ifc_pulse: must be positive"))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// SerialOptions maps the link section onto transport options.
func (c *Config) SerialOptions() gpib.SerialOptions {
	return gpib.SerialOptions{
		BaudRate:    c.Link.BaudRate,
		ReadTimeout: c.Link.ReadTimeout,
		SettleDelay: c.Link.SettleDelay,
	}
}
