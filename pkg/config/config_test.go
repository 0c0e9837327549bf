package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "amble.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "husqvarna", cfg.Device.Profile)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.Connect)
	assert.Equal(t, 5*time.Second, cfg.Timeouts.Auth)
	assert.Equal(t, 5*time.Second, cfg.Timeouts.Command)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.Park)
	assert.Equal(t, time.Second, cfg.Reconnect.InitialInterval)
	assert.Equal(t, 30*time.Second, cfg.Reconnect.MaxInterval)
	assert.Equal(t, uint64(0), cfg.Reconnect.MaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.ScanTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)

	assert.NoError(t, cfg.Validate())
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := writeConfigFile(t, `
device:
  address: "AA:BB:CC:DD:EE:FF"
  pin: "1234"
poll_interval: 30s
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", cfg.Device.Address)
	assert.Equal(t, "1234", cfg.Device.PIN)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	// Untouched fields keep their defaults.
	assert.Equal(t, "husqvarna", cfg.Device.Profile)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.Connect)
}

func TestLoad_FullFile(t *testing.T) {
	path := writeConfigFile(t, `
device:
  address: "AA:BB:CC:DD:EE:FF"
  pin: "0042"
  profile: gardena
timeouts:
  connect: 15s
  command: 2s
  park: 20s
reconnect:
  initial_interval: 500ms
  max_interval: 10s
  max_attempts: 5
log_level: debug
log_format: json
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "gardena", cfg.Device.Profile)
	assert.Equal(t, 15*time.Second, cfg.Timeouts.Connect)
	assert.Equal(t, 2*time.Second, cfg.Timeouts.Command)
	assert.Equal(t, 20*time.Second, cfg.Timeouts.Park)
	assert.Equal(t, 500*time.Millisecond, cfg.Reconnect.InitialInterval)
	assert.Equal(t, uint64(5), cfg.Reconnect.MaxAttempts)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)

	profile, err := cfg.Profile()
	require.NoError(t, err)
	assert.Equal(t, "gardena", profile.Name)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "unknown profile", content: "device:\n  profile: flymo\n"},
		{name: "bad pin", content: "device:\n  pin: \"12\"\n"},
		{name: "bad log level", content: "log_level: loud\n"},
		{name: "bad log format", content: "log_format: xml\n"},
		{name: "not yaml", content: "{{{{"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfigFile(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name      string
		logLevel  string
		logFormat string
		wantLevel logrus.Level
	}{
		{name: "debug text", logLevel: "debug", logFormat: "text", wantLevel: logrus.DebugLevel},
		{name: "info json", logLevel: "info", logFormat: "json", wantLevel: logrus.InfoLevel},
		{name: "warn", logLevel: "warning", logFormat: "text", wantLevel: logrus.WarnLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.LogLevel = tt.logLevel
			cfg.LogFormat = tt.logFormat

			logger := cfg.NewLogger()

			require.NotNil(t, logger)
			assert.Equal(t, tt.wantLevel, logger.GetLevel())

			if tt.logFormat == "json" {
				_, ok := logger.Formatter.(*logrus.JSONFormatter)
				assert.True(t, ok)
			} else {
				formatter, ok := logger.Formatter.(*logrus.TextFormatter)
				require.True(t, ok)
				assert.True(t, formatter.FullTimestamp)
				assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
			}
		})
	}
}
