package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/robomow/amble/internal/metrics"
	"github.com/robomow/amble/internal/session"
	"github.com/robomow/amble/internal/transport/goble"
	"github.com/robomow/amble/pkg/config"
)

// loadConfig builds the effective configuration: defaults, then the
// optional config file, then command-line flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if addr, _ := cmd.Flags().GetString("address"); addr != "" {
		cfg.Device.Address = addr
	}
	if pin, _ := cmd.Flags().GetString("pin"); pin != "" {
		cfg.Device.PIN = pin
	}
	if profile, _ := cmd.Flags().GetString("profile"); profile != "" {
		cfg.Device.Profile = profile
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newSession wires a BLE session for the configured mower.
func newSession(cfg *config.Config, logger *logrus.Logger) (*session.Session, error) {
	if cfg.Device.Address == "" {
		return nil, fmt.Errorf("no mower address configured - pass --address or set device.address in the config file")
	}
	profile, err := cfg.Profile()
	if err != nil {
		return nil, err
	}

	return session.New(goble.New(logger), logger, session.Options{
		Address:                  cfg.Device.Address,
		PIN:                      cfg.Device.PIN,
		Profile:                  profile,
		ConnectTimeout:           cfg.Timeouts.Connect,
		AuthTimeout:              cfg.Timeouts.Auth,
		CommandTimeout:           cfg.Timeouts.Command,
		ParkCommandTimeout:       cfg.Timeouts.Park,
		PollInterval:             cfg.PollInterval,
		ReconnectInitialInterval: cfg.Reconnect.InitialInterval,
		ReconnectMaxInterval:     cfg.Reconnect.MaxInterval,
		MaxReconnectAttempts:     cfg.Reconnect.MaxAttempts,
		Metrics:                  metrics.New(prometheus.NewRegistry(), cfg.Device.Address),
	})
}

// signalContext returns a context cancelled by Ctrl+C or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Println("\nInterrupted, shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}
