// Package goble adapts github.com/go-ble/ble to the transport interfaces.
package goble

import (
	"context"
	"fmt"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/robomow/amble/internal/transport"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests).
//
//nolint:revive // DeviceFactory name is intentional for test mocking as goble.DeviceFactory
var DeviceFactory = func() (ble.Device, error) {
	return newDevice()
}

// Transport implements transport.Transport over go-ble.
type Transport struct {
	logger *logrus.Logger
}

func New(logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	return &Transport{logger: logger}
}

// Scan reports advertisements until ctx is done.
func (t *Transport) Scan(ctx context.Context, allowDup bool, handler func(transport.Advertisement)) error {
	dev, err := DeviceFactory()
	if err != nil {
		return fmt.Errorf("failed to create BLE device: %w", err)
	}
	ble.SetDefaultDevice(dev)

	return ble.Scan(ctx, allowDup, func(a ble.Advertisement) {
		handler(&advertisement{a})
	}, nil)
}

// Dial connects to the device at address and discovers its full GATT
// profile before returning.
func (t *Transport) Dial(ctx context.Context, address string) (transport.Connection, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}
	ble.SetDefaultDevice(dev)

	t.logger.WithField("address", address).Debug("Dialing BLE device")
	client, err := ble.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %q: %w", address, err)
	}

	t.logger.WithField("address", address).Debug("Discovering services and characteristics")
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			t.logger.WithField("error", cancelErr).Warn("Failed to cancel connection after discovery failure")
		}
		return nil, fmt.Errorf("failed to discover profile of %q: %w", address, err)
	}

	conn := newConnection(address, client, profile, t.logger)
	t.logger.WithFields(logrus.Fields{
		"address":  address,
		"services": len(conn.services),
	}).Info("BLE device connected")
	return conn, nil
}

// advertisement adapts ble.Advertisement.
type advertisement struct {
	adv ble.Advertisement
}

func (a *advertisement) Addr() string             { return a.adv.Addr().String() }
func (a *advertisement) LocalName() string        { return a.adv.LocalName() }
func (a *advertisement) ManufacturerData() []byte { return a.adv.ManufacturerData() }
func (a *advertisement) RSSI() int                { return a.adv.RSSI() }
func (a *advertisement) Connectable() bool        { return a.adv.Connectable() }

func (a *advertisement) Services() []string {
	uuids := a.adv.Services()
	out := make([]string, 0, len(uuids))
	for _, u := range uuids {
		out = append(out, u.String())
	}
	return out
}
