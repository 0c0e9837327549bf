// Package config loads the amble configuration from a YAML file and
// environment-independent defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/robomow/amble/internal/auth"
	"github.com/robomow/amble/internal/wire"
)

// Config is the full amble configuration. Zero values are filled from the
// default tags before the YAML file is applied, so a partial file works.
type Config struct {
	// Device selects which mower to talk to.
	Device DeviceConfig `yaml:"device"`

	// Timeouts tune the protocol deadlines. The defaults match typical
	// mower firmware behavior.
	Timeouts TimeoutConfig `yaml:"timeouts"`

	// Reconnect tunes recovery after link loss.
	Reconnect ReconnectConfig `yaml:"reconnect"`

	// PollInterval is how often telemetry is solicited. Zero disables
	// polling.
	PollInterval time.Duration `yaml:"poll_interval" default:"60s"`

	// ScanTimeout bounds device discovery.
	ScanTimeout time.Duration `yaml:"scan_timeout" default:"10s"`

	LogLevel  string `yaml:"log_level" default:"info"`
	LogFormat string `yaml:"log_format" default:"text"`
}

type DeviceConfig struct {
	// Address is the mower's BLE address (or CoreBluetooth UUID on
	// macOS).
	Address string `yaml:"address"`
	// PIN is the 4-digit pairing code, if the device is PIN-protected.
	PIN string `yaml:"pin"`
	// Profile names the device family dialect.
	Profile string `yaml:"profile" default:"husqvarna"`
}

type TimeoutConfig struct {
	Connect time.Duration `yaml:"connect" default:"30s"`
	Auth    time.Duration `yaml:"auth" default:"5s"`
	Command time.Duration `yaml:"command" default:"5s"`
	// Park covers dock and park acks, which arrive later than the rest.
	Park time.Duration `yaml:"park" default:"10s"`
}

type ReconnectConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval" default:"1s"`
	MaxInterval     time.Duration `yaml:"max_interval" default:"30s"`
	// MaxAttempts bounds one reconnection round; 0 retries until
	// disconnected.
	MaxAttempts uint64 `yaml:"max_attempts"`
}

// Default returns a configuration with every default applied and no
// device selected.
func Default() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML configuration file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints. A missing address is allowed
// here; commands that need one enforce it themselves.
func (c *Config) Validate() error {
	if _, err := wire.Lookup(c.Device.Profile); err != nil {
		return err
	}
	if c.Device.PIN != "" {
		if err := auth.ValidatePIN(c.Device.PIN); err != nil {
			return err
		}
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q (want text or json)", c.LogFormat)
	}
	return nil
}

// Profile resolves the configured device profile.
func (c *Config) Profile() (*wire.Profile, error) {
	return wire.Lookup(c.Device.Profile)
}

// NewLogger creates a logger honoring the configured level and format.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}
	return logger
}
