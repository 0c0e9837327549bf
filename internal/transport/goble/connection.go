package goble

import (
	"sort"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/robomow/amble/internal/transport"
)

// connection wraps one live ble.Client and its discovered profile.
type connection struct {
	address string
	client  ble.Client
	logger  *logrus.Logger

	// Characteristic writes are serialized; the underlying ATT channel
	// handles one request at a time.
	writeMu sync.Mutex

	services map[string]*service
}

func newConnection(address string, client ble.Client, profile *ble.Profile, logger *logrus.Logger) *connection {
	c := &connection{
		address:  address,
		client:   client,
		logger:   logger,
		services: make(map[string]*service),
	}

	for _, bleSvc := range profile.Services {
		svcUUID := transport.NormalizeUUID(bleSvc.UUID.String())
		svc, ok := c.services[svcUUID]
		if !ok {
			svc = &service{uuid: svcUUID}
			c.services[svcUUID] = svc
		}
		for _, bleChar := range bleSvc.Characteristics {
			svc.characteristics = append(svc.characteristics, &characteristic{
				uuid: transport.NormalizeUUID(bleChar.UUID.String()),
				char: bleChar,
				conn: c,
			})
		}
		sort.Slice(svc.characteristics, func(i, j int) bool {
			return svc.characteristics[i].uuid < svc.characteristics[j].uuid
		})
	}
	return c
}

func (c *connection) Address() string { return c.address }

func (c *connection) Services() []transport.Service {
	out := make([]transport.Service, 0, len(c.services))
	for _, s := range c.services {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID() < out[j].UUID() })
	return out
}

func (c *connection) GetService(uuid string) (transport.Service, error) {
	svc, ok := c.services[transport.NormalizeUUID(uuid)]
	if !ok {
		return nil, &transport.NotFoundError{Resource: "service", UUIDs: []string{uuid}}
	}
	return svc, nil
}

func (c *connection) GetCharacteristic(serviceUUID, charUUID string) (transport.Characteristic, error) {
	svc, ok := c.services[transport.NormalizeUUID(serviceUUID)]
	if !ok {
		return nil, &transport.NotFoundError{Resource: "service", UUIDs: []string{serviceUUID}}
	}
	normalized := transport.NormalizeUUID(charUUID)
	for _, char := range svc.characteristics {
		if char.uuid == normalized {
			return char, nil
		}
	}
	return nil, &transport.NotFoundError{Resource: "characteristic", UUIDs: []string{serviceUUID, charUUID}}
}

func (c *connection) Disconnected() <-chan struct{} {
	return c.client.Disconnected()
}

func (c *connection) Close() error {
	err := c.client.CancelConnection()
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"address": c.address,
			"error":   err,
		}).Warn("BLE device disconnected with errors")
		return err
	}
	c.logger.WithField("address", c.address).Info("BLE device disconnected")
	return nil
}

type service struct {
	uuid            string
	characteristics []*characteristic
}

func (s *service) UUID() string { return s.uuid }

func (s *service) Characteristics() []transport.Characteristic {
	out := make([]transport.Characteristic, 0, len(s.characteristics))
	for _, c := range s.characteristics {
		out = append(out, c)
	}
	return out
}
