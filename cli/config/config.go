package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/tickflow/ipc"
	"github.com/pithecene-io/tickflow/network"
)

// Config represents a tickflow.yaml configuration file.
// All values are optional and act as defaults for tickflow run flags.
// CLI flags always override config values.
type Config struct {
	// Graph is the default graph location: a definition, an image or a raw stream.
	Graph    string         `yaml:"graph"`
	Network  NetworkConfig  `yaml:"network"`
	Protocol ProtocolConfig `yaml:"protocol"`
	Run      RunConfig      `yaml:"run"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Source   SourceConfig   `yaml:"source"`
	Adapter  AdapterConfig  `yaml:"adapter"`
}

// NetworkConfig sizes the engine.
type NetworkConfig struct {
	MaxNodes      int  `yaml:"max_nodes"`
	MaxPorts      int  `yaml:"max_ports"`
	QueueCapacity int  `yaml:"queue_capacity"`
	PanicOnFault  bool `yaml:"panic_on_fault"`
}

// ProtocolConfig holds graph stream options.
type ProtocolConfig struct {
	// Recovery is "resync" or "none".
	Recovery string `yaml:"recovery"`
}

// RunConfig holds tick loop defaults.
type RunConfig struct {
	TickPeriod     Duration `yaml:"tick_period"`
	SimStep        Duration `yaml:"sim_step"`
	MaxTicks       int64    `yaml:"max_ticks"`
	StrictOverflow bool     `yaml:"strict_overflow"`
	Report         string   `yaml:"report"`
}

// LogConfig holds logging defaults.
type LogConfig struct {
	Level string `yaml:"level"`
}

// MetricsConfig holds the Prometheus listener address.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// SourceConfig configures S3 access for s3:// locations.
type SourceConfig struct {
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig holds adapter defaults from the config file.
type AdapterConfig struct {
	Type     string            `yaml:"type"`
	URL      string            `yaml:"url"`
	Channel  string            `yaml:"channel,omitempty"`
	Stream   string            `yaml:"stream,omitempty"`
	Encoding string            `yaml:"encoding,omitempty"`
	Headers  map[string]string `yaml:"headers,omitempty"`
	Secret   string            `yaml:"secret,omitempty"`
	Timeout  Duration          `yaml:"timeout,omitempty"`
	Retries  *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10ms", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10ms" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// NetworkConfig converts the engine section. Zero values keep the engine defaults.
func (c *Config) NetworkConfig() network.Config {
	return network.Config{
		MaxNodes:      c.Network.MaxNodes,
		MaxPorts:      c.Network.MaxPorts,
		QueueCapacity: c.Network.QueueCapacity,
		PanicOnFault:  c.Network.PanicOnFault,
	}
}

// Validate checks values that can be checked without running anything.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	n := c.Network
	if n.MaxNodes < 0 || n.MaxNodes > network.MaxNodesLimit {
		errs = append(errs, fmt.Errorf("network.max_nodes must be in [0, %d], got %d", network.MaxNodesLimit, n.MaxNodes))
	}
	if n.MaxPorts < 0 || n.MaxPorts > network.MaxPortsLimit {
		errs = append(errs, fmt.Errorf("network.max_ports must be in [0, %d], got %d", network.MaxPortsLimit, n.MaxPorts))
	}
	if n.QueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("network.queue_capacity must be >= 0, got %d", n.QueueCapacity))
	}
	if _, err := ipc.ParseRecovery(c.Protocol.Recovery); err != nil {
		errs = append(errs, fmt.Errorf("protocol.recovery: %w", err))
	}
	if c.Run.TickPeriod.Duration < 0 || c.Run.SimStep.Duration < 0 {
		errs = append(errs, errors.New("run.tick_period and run.sim_step must not be negative"))
	}
	if c.Run.MaxTicks < 0 {
		errs = append(errs, fmt.Errorf("run.max_ticks must be >= 0, got %d", c.Run.MaxTicks))
	}
	switch c.Adapter.Type {
	case "", "webhook", "redis":
	default:
		errs = append(errs, fmt.Errorf("adapter.type must be webhook or redis, got %q", c.Adapter.Type))
	}
	if c.Adapter.Type != "" && c.Adapter.URL == "" {
		errs = append(errs, fmt.Errorf("adapter.url is required for adapter.type %q", c.Adapter.Type))
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		errs = append(errs, fmt.Errorf("adapter.retries must be >= 0, got %d", *c.Adapter.Retries))
	}
	return errors.Join(errs...)
}
