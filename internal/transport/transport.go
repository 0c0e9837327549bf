// Package transport defines the BLE capability the protocol core consumes:
// scan, connect, service/characteristic lookup, read, write, and
// notification subscription. The core depends only on these interfaces;
// the goble subpackage adapts them onto a concrete stack.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Advertisement is a single scan result.
type Advertisement interface {
	Addr() string
	LocalName() string
	ManufacturerData() []byte
	Services() []string
	RSSI() int
	Connectable() bool
}

// Transport opens BLE links and discovers nearby devices.
type Transport interface {
	// Scan reports advertisements until ctx is done.
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error

	// Dial connects to the device at address and discovers its GATT
	// profile. The returned Connection is live and ready for lookups.
	Dial(ctx context.Context, address string) (Connection, error)
}

// Connection is one live BLE link with its discovered services.
type Connection interface {
	Address() string
	Services() []Service
	GetService(uuid string) (Service, error)
	GetCharacteristic(serviceUUID, charUUID string) (Characteristic, error)

	// Disconnected is closed when the link drops, whether requested or
	// not. Callers distinguish the two by tracking their own intent.
	Disconnected() <-chan struct{}

	// Close tears the link down. Best effort: an error means the
	// transport objected, not that the link is still usable.
	Close() error
}

// Service is a discovered GATT service.
type Service interface {
	UUID() string
	Characteristics() []Characteristic
}

// Characteristic is an addressable GATT endpoint on a live connection.
type Characteristic interface {
	UUID() string
	SupportsNotify() bool

	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte, withResponse bool) error

	// Subscribe registers fn for notifications. Delivery order matches
	// the order received from the transport. The data slice is only
	// valid for the duration of the callback.
	Subscribe(fn func(data []byte)) error
	Unsubscribe() error
}

// NotFoundError reports a missing BLE resource during lookup.
type NotFoundError struct {
	Resource string   // "service" or "characteristic"
	UUIDs    []string // [serviceUUID] or [serviceUUID, charUUID]
}

func (e *NotFoundError) Error() string {
	switch len(e.UUIDs) {
	case 0:
		return fmt.Sprintf("%s not found", e.Resource)
	case 1:
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	default:
		return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
	}
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// NormalizeUUID converts a UUID string to the canonical lookup form
// (lowercase, no dashes). Handles both dashed and already-normalized input.
func NormalizeUUID(uuid string) string {
	return strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
}
