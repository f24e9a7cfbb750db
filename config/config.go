package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/salernoelia/haptic-hand-controller-prototype/errors"
)

// Duration is a time.Duration written as a string such as "100ms" in every
// supported file format.
type Duration time.Duration

// UnmarshalText parses a Go duration string
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// UnmarshalYAML parses a scalar duration node
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// MarshalText formats the duration as a Go duration string
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the complete bridge configuration
type Config struct {
	Inbound   InboundConfig     `json:"inbound" yaml:"inbound" toml:"inbound"`
	Outbound  OutboundConfig    `json:"outbound" yaml:"outbound" toml:"outbound"`
	Consumers ConsumersConfig   `json:"consumers" yaml:"consumers" toml:"consumers"`
	Actuation ActuationConfig   `json:"actuation" yaml:"actuation" toml:"actuation"`
	Telemetry TelemetryConfig   `json:"telemetry" yaml:"telemetry" toml:"telemetry"`
	Routes    map[string]string `json:"routes" yaml:"routes" toml:"routes"` // address -> broadcast|record|log
	NATS      NATSConfig        `json:"nats" yaml:"nats" toml:"nats"`
	Metrics   MetricsConfig     `json:"metrics" yaml:"metrics" toml:"metrics"`
	Log       LogConfig         `json:"log" yaml:"log" toml:"log"`
}

// InboundConfig is where device datagrams arrive
type InboundConfig struct {
	Bind string `json:"bind" yaml:"bind" toml:"bind"`
	Port int    `json:"port" yaml:"port" toml:"port"`
}

// OutboundConfig is the device endpoint for actuator commands
type OutboundConfig struct {
	Host      string `json:"host" yaml:"host" toml:"host"`
	Port      int    `json:"port" yaml:"port" toml:"port"`
	LocalBind string `json:"local_bind" yaml:"local_bind" toml:"local_bind"`
	LocalPort int    `json:"local_port" yaml:"local_port" toml:"local_port"`
}

// ConsumersConfig is the WebSocket push channel
type ConsumersConfig struct {
	Bind         string   `json:"bind" yaml:"bind" toml:"bind"`
	Port         int      `json:"port" yaml:"port" toml:"port"`
	Path         string   `json:"path" yaml:"path" toml:"path"`
	PingInterval Duration `json:"ping_interval" yaml:"ping_interval" toml:"ping_interval"`
	WriteTimeout Duration `json:"write_timeout" yaml:"write_timeout" toml:"write_timeout"`
	SendQueue    int      `json:"send_queue" yaml:"send_queue" toml:"send_queue"`
}

// ActuationConfig controls consumer-triggered vibration
type ActuationConfig struct {
	Trigger  string   `json:"trigger" yaml:"trigger" toml:"trigger"`
	Duration Duration `json:"duration" yaml:"duration" toml:"duration"`
}

// TelemetryConfig selects what is persisted and where
type TelemetryConfig struct {
	Address   string `json:"address" yaml:"address" toml:"address"`
	Path      string `json:"path" yaml:"path" toml:"path"`
	Sync      bool   `json:"sync" yaml:"sync" toml:"sync"`
	QueueSize int    `json:"queue_size" yaml:"queue_size" toml:"queue_size"` // inbound dispatch queue
}

// NATSConfig configures the optional telemetry mirror and remote trigger
type NATSConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	URL            string `json:"url" yaml:"url" toml:"url"`
	Subject        string `json:"subject" yaml:"subject" toml:"subject"`
	JetStream      bool   `json:"jetstream" yaml:"jetstream" toml:"jetstream"`
	Stream         string `json:"stream" yaml:"stream" toml:"stream"`
	ActuateSubject string `json:"actuate_subject" yaml:"actuate_subject" toml:"actuate_subject"`
	Username       string `json:"username,omitempty" yaml:"username,omitempty" toml:"username,omitempty"`
	Password       string `json:"password,omitempty" yaml:"password,omitempty" toml:"password,omitempty"`
	Token          string `json:"token,omitempty" yaml:"token,omitempty" toml:"token,omitempty"`
}

// MetricsConfig mounts the Prometheus and health endpoints on the consumer server
type MetricsConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Path       string `json:"path" yaml:"path" toml:"path"`
	HealthPath string `json:"health_path" yaml:"health_path" toml:"health_path"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level"`
	Format string `json:"format" yaml:"format" toml:"format"`
}

// Default returns the configuration the prototype runs with out of the box
func Default() *Config {
	return &Config{
		Inbound: InboundConfig{Bind: "0.0.0.0", Port: 50002},
		Outbound: OutboundConfig{
			Host:      "192.168.1.118",
			Port:      50001,
			LocalBind: "0.0.0.0",
		},
		Consumers: ConsumersConfig{
			Port:         8080,
			Path:         "/",
			PingInterval: Duration(30 * time.Second),
			WriteTimeout: Duration(10 * time.Second),
			SendQueue:    64,
		},
		Actuation: ActuationConfig{
			Trigger:  "vibrate",
			Duration: Duration(100 * time.Millisecond),
		},
		Telemetry: TelemetryConfig{
			Address:   "/gyro",
			Path:      "gyro_data.jsonl",
			QueueSize: 256,
		},
		NATS: NATSConfig{
			URL:            "nats://localhost:4222",
			Subject:        "hapticbridge.telemetry.gyro",
			Stream:         "HAPTIC_TELEMETRY",
			ActuateSubject: "hapticbridge.actuate",
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			Path:       "/metrics",
			HealthPath: "/healthz",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Inbound.Port < 0 || c.Inbound.Port > 65535 {
		add("inbound.port %d out of range", c.Inbound.Port)
	}
	if c.Outbound.Host == "" {
		add("outbound.host is required")
	}
	if c.Outbound.Port <= 0 || c.Outbound.Port > 65535 {
		add("outbound.port %d out of range", c.Outbound.Port)
	}
	if c.Outbound.LocalPort < 0 || c.Outbound.LocalPort > 65535 {
		add("outbound.local_port %d out of range", c.Outbound.LocalPort)
	}
	if c.Consumers.Port < 0 || c.Consumers.Port > 65535 {
		add("consumers.port %d out of range", c.Consumers.Port)
	}
	if !strings.HasPrefix(c.Consumers.Path, "/") {
		add("consumers.path %q must start with /", c.Consumers.Path)
	}
	if c.Consumers.PingInterval <= 0 {
		add("consumers.ping_interval must be positive")
	}
	if c.Consumers.WriteTimeout <= 0 {
		add("consumers.write_timeout must be positive")
	}
	if c.Actuation.Trigger == "" {
		add("actuation.trigger is required")
	}
	if c.Actuation.Duration <= 0 {
		add("actuation.duration must be positive")
	}
	if !strings.HasPrefix(c.Telemetry.Address, "/") {
		add("telemetry.address %q must start with /", c.Telemetry.Address)
	}
	if c.Telemetry.Path == "" {
		add("telemetry.path is required")
	}
	for addr, action := range c.Routes {
		if !strings.HasPrefix(addr, "/") {
			add("routes: address %q must start with /", addr)
		}
		switch action {
		case "broadcast", "record", "log":
		default:
			add("routes: %s has unknown action %q", addr, action)
		}
	}
	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			add("nats.url is required when nats is enabled")
		}
		if c.NATS.Subject == "" {
			add("nats.subject is required when nats is enabled")
		}
		if c.NATS.JetStream && c.NATS.Stream == "" {
			add("nats.stream is required when jetstream is enabled")
		}
	}
	if c.Metrics.Enabled {
		if c.Metrics.Path == c.Consumers.Path || c.Metrics.HealthPath == c.Consumers.Path {
			add("metrics paths must differ from consumers.path %q", c.Consumers.Path)
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") || !strings.HasPrefix(c.Metrics.HealthPath, "/") {
			add("metrics paths must start with /")
		}
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("log.level %q must be debug, info, warn or error", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		add("log.format %q must be json or text", c.Log.Format)
	}

	if len(problems) > 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrInvalidConfig, strings.Join(problems, "; ")),
			"Config", "Validate", "validate configuration")
	}
	return nil
}

// String returns the configuration as indented JSON with secrets masked
func (c *Config) String() string {
	redacted := *c
	if redacted.NATS.Password != "" {
		redacted.NATS.Password = "[REDACTED]"
	}
	if redacted.NATS.Token != "" {
		redacted.NATS.Token = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(&redacted, "", "  ")
	return string(data)
}
