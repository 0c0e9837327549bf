package wire

import (
	"fmt"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Profile describes one device family's dialect: the GATT endpoints it
// exposes, the byte payload for each command, and how a PIN is turned into
// an auth response. Firmware variants (Gardena vs Husqvarna boards) differ
// in all three, so this is configuration data rather than code.
type Profile struct {
	Name         string
	Manufacturer string

	ServiceUUID  string
	CommandChar  string
	ResponseChar string
	// AuthChar is the PIN challenge characteristic. Devices running
	// non-PIN firmware simply do not expose it; an empty value means the
	// profile never authenticates.
	AuthChar string

	// PINDerivation names the strategy that turns the 4-digit PIN into
	// the bytes written to AuthChar. Resolved by the auth package.
	PINDerivation string

	// NextStartRelative marks firmware that reports the next scheduled
	// start as seconds from now instead of epoch seconds.
	NextStartRelative bool

	// StatusRequest, when set, is a payload written to the command
	// characteristic to solicit a status telemetry notification.
	StatusRequest []byte

	payloads map[Command][]byte
}

// Encode returns the wire payload for cmd. It is total over the Command
// set: registration guarantees every variant has a payload, so Encode
// cannot fail for any constructible Command.
func (p *Profile) Encode(cmd Command) []byte {
	payload := p.payloads[cmd]
	out := make([]byte, len(payload))
	copy(out, payload)
	return out
}

// StatusRequestPayload returns a copy of the status poll payload, or nil
// when the profile has none.
func (p *Profile) StatusRequestPayload() []byte {
	if len(p.StatusRequest) == 0 {
		return nil
	}
	out := make([]byte, len(p.StatusRequest))
	copy(out, p.StatusRequest)
	return out
}

// RequiresAuth reports whether the profile defines a PIN exchange at all.
func (p *Profile) RequiresAuth() bool {
	return p.AuthChar != ""
}

var (
	registryMu sync.RWMutex
	registry   = orderedmap.New[string, *Profile]()
)

// Register adds a profile to the registry, validating that it is complete
// enough to drive a session. Registration order is preserved for listing.
func Register(p *Profile, payloads map[Command][]byte) error {
	if p.Name == "" {
		return fmt.Errorf("profile name is empty")
	}
	if p.ServiceUUID == "" || p.CommandChar == "" || p.ResponseChar == "" {
		return fmt.Errorf("profile %q: service, command and response UUIDs are required", p.Name)
	}
	if p.AuthChar != "" && p.PINDerivation == "" {
		return fmt.Errorf("profile %q: auth characteristic set without a PIN derivation", p.Name)
	}
	for _, cmd := range Commands {
		if len(payloads[cmd]) == 0 {
			return fmt.Errorf("profile %q: no payload for command %s", p.Name, cmd)
		}
	}

	p.payloads = make(map[Command][]byte, len(payloads))
	for cmd, payload := range payloads {
		cp := make([]byte, len(payload))
		copy(cp, payload)
		p.payloads[cmd] = cp
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry.Get(p.Name); exists {
		return fmt.Errorf("profile %q already registered", p.Name)
	}
	registry.Set(p.Name, p)
	return nil
}

// Lookup returns a registered profile by name.
func Lookup(name string) (*Profile, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown device profile %q", name)
	}
	return p, nil
}

// Profiles returns all registered profiles in registration order.
func Profiles() []*Profile {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]*Profile, 0, registry.Len())
	for pair := registry.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// mustRegister is for built-in profiles whose tables are compile-time
// constants.
func mustRegister(p *Profile, payloads map[Command][]byte) {
	if err := Register(p, payloads); err != nil {
		panic(err)
	}
}

// Built-in profiles. The GATT UUIDs are the proprietary mower service as
// seen in hardware captures; the command payload tables and the PIN
// derivation differ per board family.
func init() {
	mustRegister(&Profile{
		Name:          "husqvarna",
		Manufacturer:  "Husqvarna",
		ServiceUUID:   "98bd0001-0b0e-421a-84e5-ddbf75dc6de4",
		CommandChar:   "98bd0002-0b0e-421a-84e5-ddbf75dc6de4",
		ResponseChar:  "98bd0003-0b0e-421a-84e5-ddbf75dc6de4",
		AuthChar:      "98bd0004-0b0e-421a-84e5-ddbf75dc6de4",
		PINDerivation: "challenge-xor",
		StatusRequest: []byte{0x01, 0x00},
	}, map[Command][]byte{
		CommandStart:            {0x02, 0x01},
		CommandPause:            {0x02, 0x02},
		CommandDock:             {0x02, 0x03},
		CommandParkIndefinitely: {0x02, 0x04},
		CommandResumeSchedule:   {0x02, 0x05},
	})

	mustRegister(&Profile{
		Name:              "gardena",
		Manufacturer:      "Gardena",
		ServiceUUID:       "98bd0001-0b0e-421a-84e5-ddbf75dc6de4",
		CommandChar:       "98bd0002-0b0e-421a-84e5-ddbf75dc6de4",
		ResponseChar:      "98bd0003-0b0e-421a-84e5-ddbf75dc6de4",
		AuthChar:          "98bd0004-0b0e-421a-84e5-ddbf75dc6de4",
		PINDerivation:     "uint16le",
		NextStartRelative: true,
		StatusRequest:     []byte{0x01, 0x00},
	}, map[Command][]byte{
		CommandStart:            {0x04, 0x01},
		CommandPause:            {0x04, 0x02},
		CommandDock:             {0x04, 0x03},
		CommandParkIndefinitely: {0x04, 0x04},
		CommandResumeSchedule:   {0x04, 0x05},
	})

	// Early firmware without PIN protection.
	mustRegister(&Profile{
		Name:          "open",
		Manufacturer:  "Husqvarna",
		ServiceUUID:   "98bd0001-0b0e-421a-84e5-ddbf75dc6de4",
		CommandChar:   "98bd0002-0b0e-421a-84e5-ddbf75dc6de4",
		ResponseChar:  "98bd0003-0b0e-421a-84e5-ddbf75dc6de4",
		StatusRequest: []byte{0x01, 0x00},
	}, map[Command][]byte{
		CommandStart:            {0x02, 0x01},
		CommandPause:            {0x02, 0x02},
		CommandDock:             {0x02, 0x03},
		CommandParkIndefinitely: {0x02, 0x04},
		CommandResumeSchedule:   {0x02, 0x05},
	})
}
