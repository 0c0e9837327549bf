package goble

import (
	"context"
	"fmt"

	"github.com/go-ble/ble"

	"github.com/robomow/amble/internal/transport"
)

// characteristic is a live GATT endpoint bound to its parent connection.
// The ctx parameters on Read/Write are accepted for interface symmetry;
// go-ble performs ATT requests without per-call contexts and bounds them
// by its own connection parameters.
type characteristic struct {
	uuid string
	char *ble.Characteristic
	conn *connection
}

func (c *characteristic) UUID() string { return c.uuid }

func (c *characteristic) SupportsNotify() bool {
	return c.char.Property&(ble.CharNotify|ble.CharIndicate) != 0
}

func (c *characteristic) Read(_ context.Context) ([]byte, error) {
	data, err := c.conn.client.ReadCharacteristic(c.char)
	if err != nil {
		return nil, fmt.Errorf("failed to read characteristic %s: %w", c.uuid, err)
	}
	return data, nil
}

func (c *characteristic) Write(_ context.Context, data []byte, withResponse bool) error {
	c.conn.writeMu.Lock()
	defer c.conn.writeMu.Unlock()

	if err := c.conn.client.WriteCharacteristic(c.char, data, !withResponse); err != nil {
		return fmt.Errorf("failed to write characteristic %s: %w", c.uuid, err)
	}
	return nil
}

func (c *characteristic) Subscribe(fn func(data []byte)) error {
	indicate := c.char.Property&ble.CharNotify == 0
	if err := c.conn.client.Subscribe(c.char, indicate, func(data []byte) {
		fn(data)
	}); err != nil {
		return fmt.Errorf("failed to subscribe to characteristic %s: %w", c.uuid, err)
	}
	return nil
}

// Unsubscribe attempts both notify and indicate modes and fails only when
// both do.
func (c *characteristic) Unsubscribe() error {
	err1 := c.conn.client.Unsubscribe(c.char, false)
	err2 := c.conn.client.Unsubscribe(c.char, true)
	if err1 != nil && err2 != nil {
		return fmt.Errorf("failed to unsubscribe from %s: notify=%v, indicate=%v", c.uuid, err1, err2)
	}
	return nil
}

var _ transport.Characteristic = (*characteristic)(nil)
