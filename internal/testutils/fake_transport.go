// Package testutils provides an in-memory BLE transport for tests: fake
// peripherals with a fluent builder, plus a mower firmware simulator that
// answers authentication and command traffic the way a real device does.
package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/robomow/amble/internal/transport"
)

// FakeAdvertisement is a canned scan result.
type FakeAdvertisement struct {
	Address        string
	Name           string
	Rssi           int
	ServiceUUIDs   []string
	ManufData      []byte
	NotConnectable bool
}

func (a *FakeAdvertisement) Addr() string             { return a.Address }
func (a *FakeAdvertisement) LocalName() string        { return a.Name }
func (a *FakeAdvertisement) ManufacturerData() []byte { return a.ManufData }
func (a *FakeAdvertisement) Services() []string       { return a.ServiceUUIDs }
func (a *FakeAdvertisement) RSSI() int                { return a.Rssi }
func (a *FakeAdvertisement) Connectable() bool        { return !a.NotConnectable }

var _ transport.Advertisement = (*FakeAdvertisement)(nil)

// FakeTransport implements transport.Transport against in-memory
// peripherals. Scan replays the configured advertisements once and
// returns; Dial connects to a registered peripheral by address.
type FakeTransport struct {
	mu             sync.Mutex
	peripherals    map[string]*FakePeripheral
	advertisements []transport.Advertisement
	conns          []*FakeConnection
	dialAttempts   int
}

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		peripherals: make(map[string]*FakePeripheral),
	}
}

// AddPeripheral registers p for dialing and returns the transport for
// chaining.
func (t *FakeTransport) AddPeripheral(p *FakePeripheral) *FakeTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peripherals[p.address] = p
	return t
}

// Advertise queues scan results. Each call appends; a Scan replays them
// all in order.
func (t *FakeTransport) Advertise(advs ...transport.Advertisement) *FakeTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.advertisements = append(t.advertisements, advs...)
	return t
}

func (t *FakeTransport) Scan(ctx context.Context, _ bool, handler func(transport.Advertisement)) error {
	t.mu.Lock()
	advs := append([]transport.Advertisement(nil), t.advertisements...)
	t.mu.Unlock()

	for _, adv := range advs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		handler(adv)
	}
	return nil
}

func (t *FakeTransport) Dial(ctx context.Context, address string) (transport.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.dialAttempts++
	p := t.peripherals[address]
	t.mu.Unlock()

	if p == nil {
		// An absent peripheral behaves like a device out of range: the
		// dial blocks until the caller's deadline expires.
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := p.takeDialError(); err != nil {
		return nil, err
	}

	conn := &FakeConnection{
		peripheral:   p,
		disconnected: make(chan struct{}),
	}
	t.mu.Lock()
	t.conns = append(t.conns, conn)
	t.mu.Unlock()
	return conn, nil
}

// DialAttempts reports how many times Dial was called.
func (t *FakeTransport) DialAttempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dialAttempts
}

// LastConnection returns the most recently dialed connection, or nil.
func (t *FakeTransport) LastConnection() *FakeConnection {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

// FakePeripheral is one in-memory device: its GATT database plus failure
// injection knobs. Characteristics are shared across connections, so
// write hooks and recorded traffic survive reconnects the way firmware
// state does.
type FakePeripheral struct {
	address string
	name    string

	mu       sync.Mutex
	services map[string]*FakeService
	order    []string
	dialErrs []error
}

// NewPeripheral starts a peripheral builder. Chain WithService and
// WithCharacteristic, then register it with FakeTransport.AddPeripheral.
func NewPeripheral(address string) *FakePeripheral {
	return &FakePeripheral{
		address:  address,
		services: make(map[string]*FakeService),
	}
}

func (p *FakePeripheral) WithName(name string) *FakePeripheral {
	p.name = name
	return p
}

func (p *FakePeripheral) WithService(uuid string) *FakePeripheral {
	key := transport.NormalizeUUID(uuid)
	if _, ok := p.services[key]; !ok {
		p.services[key] = &FakeService{uuid: uuid}
		p.order = append(p.order, key)
	}
	return p
}

// WithCharacteristic adds a characteristic to an already-added service.
func (p *FakePeripheral) WithCharacteristic(serviceUUID, charUUID string, notify bool) *FakePeripheral {
	svc, ok := p.services[transport.NormalizeUUID(serviceUUID)]
	if !ok {
		panic(fmt.Sprintf("testutils: service %s not added before characteristic %s", serviceUUID, charUUID))
	}
	svc.chars = append(svc.chars, &FakeCharacteristic{uuid: charUUID, notify: notify})
	return p
}

// Characteristic returns the fake characteristic for direct manipulation
// in tests (write hooks, notifications, recorded writes).
func (p *FakePeripheral) Characteristic(serviceUUID, charUUID string) *FakeCharacteristic {
	svc, ok := p.services[transport.NormalizeUUID(serviceUUID)]
	if !ok {
		return nil
	}
	want := transport.NormalizeUUID(charUUID)
	for _, c := range svc.chars {
		if transport.NormalizeUUID(c.uuid) == want {
			return c
		}
	}
	return nil
}

// FailNextDials makes the next n Dial calls for this peripheral return
// err, then succeed again. Used to exercise reconnection backoff.
func (p *FakePeripheral) FailNextDials(n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < n; i++ {
		p.dialErrs = append(p.dialErrs, err)
	}
}

func (p *FakePeripheral) takeDialError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.dialErrs) == 0 {
		return nil
	}
	err := p.dialErrs[0]
	p.dialErrs = p.dialErrs[1:]
	return err
}

// FakeConnection is one live link to a FakePeripheral.
type FakeConnection struct {
	peripheral   *FakePeripheral
	disconnected chan struct{}
	dropOnce     sync.Once
}

func (c *FakeConnection) Address() string { return c.peripheral.address }

func (c *FakeConnection) Services() []transport.Service {
	out := make([]transport.Service, 0, len(c.peripheral.order))
	for _, key := range c.peripheral.order {
		out = append(out, c.peripheral.services[key])
	}
	return out
}

func (c *FakeConnection) GetService(uuid string) (transport.Service, error) {
	svc, ok := c.peripheral.services[transport.NormalizeUUID(uuid)]
	if !ok {
		return nil, &transport.NotFoundError{Resource: "service", UUIDs: []string{uuid}}
	}
	return svc, nil
}

func (c *FakeConnection) GetCharacteristic(serviceUUID, charUUID string) (transport.Characteristic, error) {
	if _, err := c.GetService(serviceUUID); err != nil {
		return nil, err
	}
	char := c.peripheral.Characteristic(serviceUUID, charUUID)
	if char == nil {
		return nil, &transport.NotFoundError{Resource: "characteristic", UUIDs: []string{serviceUUID, charUUID}}
	}
	return char, nil
}

func (c *FakeConnection) Disconnected() <-chan struct{} { return c.disconnected }

// DropLink simulates an unexpected link loss.
func (c *FakeConnection) DropLink() {
	c.dropOnce.Do(func() { close(c.disconnected) })
}

func (c *FakeConnection) Close() error {
	c.DropLink()
	return nil
}

var _ transport.Connection = (*FakeConnection)(nil)

// FakeService is a GATT service on a fake peripheral.
type FakeService struct {
	uuid  string
	chars []*FakeCharacteristic
}

func (s *FakeService) UUID() string { return s.uuid }

func (s *FakeService) Characteristics() []transport.Characteristic {
	out := make([]transport.Characteristic, 0, len(s.chars))
	for _, c := range s.chars {
		out = append(out, c)
	}
	return out
}

// FakeCharacteristic records writes and lets tests push notifications.
type FakeCharacteristic struct {
	uuid   string
	notify bool

	mu          sync.Mutex
	value       []byte
	writes      [][]byte
	writeErr    error
	onWrite     func(data []byte, withResponse bool)
	onSubscribe func()
	handler     func([]byte)
}

func (c *FakeCharacteristic) UUID() string         { return c.uuid }
func (c *FakeCharacteristic) SupportsNotify() bool { return c.notify }

func (c *FakeCharacteristic) Read(_ context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.value...), nil
}

func (c *FakeCharacteristic) Write(_ context.Context, data []byte, withResponse bool) error {
	c.mu.Lock()
	if c.writeErr != nil {
		err := c.writeErr
		c.mu.Unlock()
		return err
	}
	buf := append([]byte(nil), data...)
	c.writes = append(c.writes, buf)
	hook := c.onWrite
	c.mu.Unlock()

	if hook != nil {
		hook(buf, withResponse)
	}
	return nil
}

func (c *FakeCharacteristic) Subscribe(fn func([]byte)) error {
	c.mu.Lock()
	c.handler = fn
	hook := c.onSubscribe
	c.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

func (c *FakeCharacteristic) Unsubscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = nil
	return nil
}

// Notify delivers data to the current subscriber, mimicking a peripheral
// notification. It is a no-op when nothing is subscribed.
func (c *FakeCharacteristic) Notify(data []byte) {
	c.mu.Lock()
	fn := c.handler
	c.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

// SetValue sets the buffer returned by Read.
func (c *FakeCharacteristic) SetValue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = append([]byte(nil), data...)
}

// SetWriteError makes subsequent writes fail with err; nil restores
// normal behavior.
func (c *FakeCharacteristic) SetWriteError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

// OnWrite installs a hook that observes every successful write. The hook
// runs on the writer's goroutine, outside the characteristic lock.
func (c *FakeCharacteristic) OnWrite(fn func(data []byte, withResponse bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onWrite = fn
}

// OnSubscribe installs a hook that fires whenever a subscriber attaches.
func (c *FakeCharacteristic) OnSubscribe(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSubscribe = fn
}

// Writes returns a snapshot of all recorded write payloads.
func (c *FakeCharacteristic) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	for i, w := range c.writes {
		out[i] = append([]byte(nil), w...)
	}
	return out
}

var _ transport.Characteristic = (*FakeCharacteristic)(nil)
