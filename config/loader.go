package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/salernoelia/haptic-hand-controller-prototype/errors"
)

// DefaultEnvPrefix prefixes every environment override
const DefaultEnvPrefix = "HAPTICBRIDGE"

// Loader reads a configuration file over the defaults and applies
// environment overrides.
type Loader struct {
	envPrefix string
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a loader reading HAPTICBRIDGE_* variables
func NewLoader() *Loader {
	return &Loader{envPrefix: DefaultEnvPrefix, lookupEnv: os.LookupEnv}
}

// Load returns the defaults overlaid with path (if non-empty) and the
// environment, then validates the result.
func (l *Loader) Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := l.decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile is Load with a required file
func (l *Loader) LoadFile(path string) (*Config, error) {
	if path == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Loader", "LoadFile", "path is required")
	}
	return l.Load(path)
}

// decodeFile picks the decoder from the file extension. Keys absent from
// the file keep their default values; unknown keys are rejected.
func (l *Loader) decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.WrapInvalid(err, "Loader", "decodeFile", "read config file")
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json", ".jsonc":
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		err = dec.Decode(cfg)
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(cfg)
	case ".toml":
		var md toml.MetaData
		md, err = toml.Decode(string(data), cfg)
		if err == nil {
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				err = fmt.Errorf("unknown keys: %v", undecoded)
			}
		}
	default:
		return errors.WrapInvalid(fmt.Errorf("unsupported config extension %q", ext), "Loader", "decodeFile", "select decoder")
	}
	if err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %s: %v", errors.ErrInvalidConfig, path, err), "Loader", "decodeFile", "decode config file")
	}
	return nil
}

func (l *Loader) env(key string) (string, bool) {
	v, ok := l.lookupEnv(l.envPrefix + "_" + key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"INBOUND_BIND":       &cfg.Inbound.Bind,
		"OUTBOUND_HOST":      &cfg.Outbound.Host,
		"ACTUATION_TRIGGER":  &cfg.Actuation.Trigger,
		"TELEMETRY_PATH":     &cfg.Telemetry.Path,
		"TELEMETRY_ADDRESS":  &cfg.Telemetry.Address,
		"NATS_SUBJECT":       &cfg.NATS.Subject,
		"NATS_USERNAME":      &cfg.NATS.Username,
		"NATS_PASSWORD":      &cfg.NATS.Password,
		"NATS_TOKEN":         &cfg.NATS.Token,
		"LOG_LEVEL":          &cfg.Log.Level,
		"LOG_FORMAT":         &cfg.Log.Format,
		"CONSUMERS_BIND":     &cfg.Consumers.Bind,
		"METRICS_PATH":       &cfg.Metrics.Path,
		"METRICS_HEALTHPATH": &cfg.Metrics.HealthPath,
	}
	for key, dst := range strs {
		if v, ok := l.env(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"INBOUND_PORT":   &cfg.Inbound.Port,
		"OUTBOUND_PORT":  &cfg.Outbound.Port,
		"CONSUMERS_PORT": &cfg.Consumers.Port,
	}
	for key, dst := range ints {
		if v, ok := l.env(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return errors.WrapInvalid(fmt.Errorf("%s_%s=%q: %w", l.envPrefix, key, v, err), "Loader", "applyEnvOverrides", "parse integer")
			}
			*dst = n
		}
	}

	if v, ok := l.env("ACTUATION_DURATION"); ok {
		if err := cfg.Actuation.Duration.UnmarshalText([]byte(v)); err != nil {
			return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "parse duration")
		}
	}

	// Setting a URL is enough to turn the mirror on.
	if v, ok := l.env("NATS_URL"); ok {
		cfg.NATS.URL = v
		cfg.NATS.Enabled = true
	}
	if v, ok := l.env("NATS_JETSTREAM"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.WrapInvalid(fmt.Errorf("%s_NATS_JETSTREAM=%q: %w", l.envPrefix, v, err), "Loader", "applyEnvOverrides", "parse bool")
		}
		cfg.NATS.JetStream = b
	}
	return nil
}
