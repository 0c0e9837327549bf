package testutils

import (
	"bytes"
	"sync"

	"github.com/robomow/amble/internal/auth"
	"github.com/robomow/amble/internal/wire"
)

// Simulator behaves like mower firmware behind a FakePeripheral: it
// answers the authentication handshake and acknowledges commands on the
// response characteristic. Tests flip its knobs to produce rejections,
// silence, or telemetry.
type Simulator struct {
	Profile    *wire.Profile
	Peripheral *FakePeripheral

	mu sync.Mutex
	// knobs
	pin        string
	nonce      uint32
	authResult uint8
	ackResult  uint8
	silent     bool
	// observed traffic
	commands []wire.Command
}

// NewSimulator builds a peripheral exposing the profile's full GATT
// database and wires firmware behavior onto it. pin is the credential the
// device accepts; ignored for profiles without authentication.
func NewSimulator(profile *wire.Profile, pin string) *Simulator {
	p := NewPeripheral("AA:BB:CC:DD:EE:FF").
		WithName("Automower 305").
		WithService(profile.ServiceUUID).
		WithCharacteristic(profile.ServiceUUID, profile.CommandChar, false).
		WithCharacteristic(profile.ServiceUUID, profile.ResponseChar, true)
	if profile.RequiresAuth() {
		p.WithCharacteristic(profile.ServiceUUID, profile.AuthChar, false)
	}

	sim := &Simulator{
		Profile:    profile,
		Peripheral: p,
		pin:        pin,
		nonce:      0x5A17C0DE,
		authResult: wire.AuthResultOK,
		ackResult:  wire.AckResultOK,
	}

	p.Characteristic(profile.ServiceUUID, profile.CommandChar).OnWrite(sim.handleCommandWrite)
	if profile.RequiresAuth() {
		p.Characteristic(profile.ServiceUUID, profile.AuthChar).OnWrite(sim.handleAuthWrite)
		if derivation, err := auth.DerivationFor(profile.PINDerivation); err == nil && derivation.NeedsChallenge() {
			// Real firmware pushes the challenge as soon as the central
			// subscribes for responses.
			sim.response().OnSubscribe(func() {
				sim.response().Notify(wire.EncodeAuthChallenge(sim.Nonce()))
			})
		}
	}
	return sim
}

func (s *Simulator) response() *FakeCharacteristic {
	return s.Peripheral.Characteristic(s.Profile.ServiceUUID, s.Profile.ResponseChar)
}

// Nonce returns the challenge nonce the simulator hands out.
func (s *Simulator) Nonce() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nonce
}

// RejectAuth makes the handshake fail with the given result code.
func (s *Simulator) RejectAuth(code uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authResult = code
}

// RejectCommands makes every ack carry the given non-zero result code.
func (s *Simulator) RejectCommands(code uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ackResult = code
}

// GoSilent stops the simulator from acknowledging commands, so submissions
// time out. Writes are still recorded.
func (s *Simulator) GoSilent(silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent = silent
}

// Commands returns every decoded command write seen so far, including
// re-sends.
func (s *Simulator) Commands() []wire.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wire.Command(nil), s.commands...)
}

// SendStatus pushes a telemetry notification to the subscribed central.
func (s *Simulator) SendStatus(fields wire.StatusFields) {
	s.response().Notify(wire.EncodeStatus(fields))
}

func (s *Simulator) handleCommandWrite(data []byte, _ bool) {
	if req := s.Profile.StatusRequestPayload(); req != nil && bytes.Equal(data, req) {
		return
	}

	cmd, ok := s.decodeCommand(data)
	if !ok {
		return
	}

	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	silent := s.silent
	result := s.ackResult
	s.mu.Unlock()

	if silent {
		return
	}
	s.response().Notify(wire.EncodeAck(result))
}

func (s *Simulator) decodeCommand(data []byte) (wire.Command, bool) {
	for _, cmd := range wire.Commands {
		if bytes.Equal(data, s.Profile.Encode(cmd)) {
			return cmd, true
		}
	}
	return 0, false
}

func (s *Simulator) handleAuthWrite(data []byte, _ bool) {
	derivation, err := auth.DerivationFor(s.Profile.PINDerivation)
	if err != nil {
		return
	}

	s.mu.Lock()
	pin := s.pin
	nonce := s.nonce
	result := s.authResult
	s.mu.Unlock()

	expected, err := derivation.Derive(pin, nonce)
	if err != nil {
		return
	}
	if result == wire.AuthResultOK && !bytes.Equal(data, expected) {
		result = 0x01
	}
	s.response().Notify(wire.EncodeAuthResult(result))
}
