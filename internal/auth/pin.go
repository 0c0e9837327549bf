package auth

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// Derivation turns a 4-digit PIN into the byte sequence written to the
// auth characteristic. The algorithm is firmware-specific, so profiles
// select one by name; validating a new family means capturing its exchange
// on real hardware and adding a strategy here.
type Derivation interface {
	Name() string

	// NeedsChallenge reports whether the device sends an AuthChallenge
	// nonce before the response can be derived.
	NeedsChallenge() bool

	// Derive computes the auth response. nonce is zero for strategies
	// that do not use a challenge.
	Derive(pin string, nonce uint32) ([]byte, error)
}

// ErrInvalidPIN reports a credential that is not a 4-digit code.
var ErrInvalidPIN = fmt.Errorf("PIN must be exactly 4 digits")

// ValidatePIN checks the credential shape without deriving anything.
func ValidatePIN(pin string) error {
	if len(pin) != 4 {
		return ErrInvalidPIN
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return ErrInvalidPIN
		}
	}
	return nil
}

var derivations = map[string]Derivation{
	"digits":        digitsDerivation{},
	"uint16le":      uint16Derivation{},
	"challenge-xor": xorDerivation{},
}

// DerivationFor resolves a derivation strategy by the name a profile
// carries.
func DerivationFor(name string) (Derivation, error) {
	d, ok := derivations[name]
	if !ok {
		return nil, fmt.Errorf("unknown PIN derivation %q", name)
	}
	return d, nil
}

// digitsDerivation writes each digit as its numeric value, matching
// firmware that replays the physical keypad presses.
type digitsDerivation struct{}

func (digitsDerivation) Name() string         { return "digits" }
func (digitsDerivation) NeedsChallenge() bool { return false }

func (digitsDerivation) Derive(pin string, _ uint32) ([]byte, error) {
	if err := ValidatePIN(pin); err != nil {
		return nil, err
	}
	out := make([]byte, len(pin))
	for i, r := range pin {
		out[i] = byte(r - '0')
	}
	return out, nil
}

// uint16Derivation writes the PIN as a little-endian 16-bit integer.
type uint16Derivation struct{}

func (uint16Derivation) Name() string         { return "uint16le" }
func (uint16Derivation) NeedsChallenge() bool { return false }

func (uint16Derivation) Derive(pin string, _ uint32) ([]byte, error) {
	if err := ValidatePIN(pin); err != nil {
		return nil, err
	}
	v, err := strconv.ParseUint(pin, 10, 16)
	if err != nil {
		return nil, ErrInvalidPIN
	}
	out := make([]byte, 2)
	binary.LittleEndian.PutUint16(out, uint16(v))
	return out, nil
}

// xorDerivation XORs the PIN, as a little-endian 32-bit integer, with the
// challenge nonce.
type xorDerivation struct{}

func (xorDerivation) Name() string         { return "challenge-xor" }
func (xorDerivation) NeedsChallenge() bool { return true }

func (xorDerivation) Derive(pin string, nonce uint32) ([]byte, error) {
	if err := ValidatePIN(pin); err != nil {
		return nil, err
	}
	v, err := strconv.ParseUint(pin, 10, 32)
	if err != nil {
		return nil, ErrInvalidPIN
	}
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, uint32(v)^nonce)
	return out, nil
}
