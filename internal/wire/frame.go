package wire

import (
	"encoding/binary"
	"fmt"
)

// Frame type discriminants as emitted by mower firmware on the response
// characteristic. Values outside this set decode to FrameUnknown.
const (
	typeAuthChallenge byte = 0x11
	typeAuthResult    byte = 0x12
	typeCommandAck    byte = 0x21
	typeStatus        byte = 0x31
)

// Fixed frame lengths, discriminant byte included.
const (
	authChallengeLen = 5
	authResultLen    = 2
	commandAckLen    = 2
	statusLen        = 23

	// MinFrameLen is the shortest well-formed frame on the wire.
	MinFrameLen = 2
)

// AuthResultOK is the result byte the firmware uses for a successful
// PIN exchange. Any other value is a rejection code.
const AuthResultOK byte = 0x00

// AckResultOK is the result byte for an accepted command.
const AckResultOK byte = 0x00

// FrameKind identifies the decoded frame variant.
type FrameKind uint8

const (
	FrameUnknown FrameKind = iota
	FrameAuthChallenge
	FrameAuthResult
	FrameCommandAck
	FrameStatus
)

func (k FrameKind) String() string {
	switch k {
	case FrameAuthChallenge:
		return "auth_challenge"
	case FrameAuthResult:
		return "auth_result"
	case FrameCommandAck:
		return "command_ack"
	case FrameStatus:
		return "status"
	default:
		return "unknown"
	}
}

// StatusFields carries the raw telemetry payload of a status frame.
// Values are exactly as sent by the firmware; interpretation (error code
// sentinel, next-start normalization) is left to the caller.
type StatusFields struct {
	Battery      uint8
	Charging     bool
	Mode         uint8
	Activity     uint8
	State        uint8
	ErrorCode    uint8  // 0 means no error
	NextStart    uint32 // 0 means no scheduled start
	RunningSecs  uint32
	CuttingSecs  uint32
	ChargingSecs uint32
}

// Frame is a decoded notification or response buffer.
// Only the fields relevant to Kind are populated.
type Frame struct {
	Kind   FrameKind
	Nonce  uint32        // FrameAuthChallenge
	Result uint8         // FrameAuthResult, FrameCommandAck
	Status *StatusFields // FrameStatus
	Raw    []byte        // FrameUnknown: copy of the original buffer
}

// MalformedError reports a buffer that could not be decoded into a frame.
// A malformed notification is dropped by callers; it never terminates a
// session.
type MalformedError struct {
	Reason string
	Len    int
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed frame (%d bytes): %s", e.Len, e.Reason)
}

// Is allows errors.Is(err, ErrMalformed) regardless of reason.
func (e *MalformedError) Is(target error) bool {
	_, ok := target.(*MalformedError)
	return ok
}

// ErrMalformed is the sentinel for errors.Is checks against decode failures.
var ErrMalformed = &MalformedError{Reason: "malformed"}

// Decode parses a raw characteristic notification into a Frame.
//
// Truncated or length-mismatched buffers fail with a MalformedError.
// Unknown discriminants succeed and return FrameUnknown so that newer
// firmware cannot crash the session. All multi-byte fields are
// little-endian.
func Decode(buf []byte) (Frame, error) {
	if len(buf) < MinFrameLen {
		return Frame{}, &MalformedError{Reason: "shorter than minimum frame length", Len: len(buf)}
	}

	switch buf[0] {
	case typeAuthChallenge:
		if len(buf) != authChallengeLen {
			return Frame{}, &MalformedError{Reason: "bad auth challenge length", Len: len(buf)}
		}
		return Frame{
			Kind:  FrameAuthChallenge,
			Nonce: binary.LittleEndian.Uint32(buf[1:5]),
		}, nil

	case typeAuthResult:
		if len(buf) != authResultLen {
			return Frame{}, &MalformedError{Reason: "bad auth result length", Len: len(buf)}
		}
		return Frame{Kind: FrameAuthResult, Result: buf[1]}, nil

	case typeCommandAck:
		if len(buf) != commandAckLen {
			return Frame{}, &MalformedError{Reason: "bad command ack length", Len: len(buf)}
		}
		return Frame{Kind: FrameCommandAck, Result: buf[1]}, nil

	case typeStatus:
		if len(buf) != statusLen {
			return Frame{}, &MalformedError{Reason: "bad status length", Len: len(buf)}
		}
		return Frame{
			Kind: FrameStatus,
			Status: &StatusFields{
				Battery:      buf[1],
				Charging:     buf[2]&0x01 != 0,
				Mode:         buf[3],
				Activity:     buf[4],
				State:        buf[5],
				ErrorCode:    buf[6],
				NextStart:    binary.LittleEndian.Uint32(buf[7:11]),
				RunningSecs:  binary.LittleEndian.Uint32(buf[11:15]),
				CuttingSecs:  binary.LittleEndian.Uint32(buf[15:19]),
				ChargingSecs: binary.LittleEndian.Uint32(buf[19:23]),
			},
		}, nil

	default:
		raw := make([]byte, len(buf))
		copy(raw, buf)
		return Frame{Kind: FrameUnknown, Raw: raw}, nil
	}
}

// EncodeAuthChallenge builds an auth challenge frame. Used by device
// simulators and firmware capture replays.
func EncodeAuthChallenge(nonce uint32) []byte {
	buf := make([]byte, authChallengeLen)
	buf[0] = typeAuthChallenge
	binary.LittleEndian.PutUint32(buf[1:], nonce)
	return buf
}

// EncodeAuthResult builds an auth result frame.
func EncodeAuthResult(result byte) []byte {
	return []byte{typeAuthResult, result}
}

// EncodeAck builds a command acknowledgment frame.
func EncodeAck(result byte) []byte {
	return []byte{typeCommandAck, result}
}

// EncodeStatus builds a status telemetry frame from raw fields.
func EncodeStatus(s StatusFields) []byte {
	buf := make([]byte, statusLen)
	buf[0] = typeStatus
	buf[1] = s.Battery
	if s.Charging {
		buf[2] = 0x01
	}
	buf[3] = s.Mode
	buf[4] = s.Activity
	buf[5] = s.State
	buf[6] = s.ErrorCode
	binary.LittleEndian.PutUint32(buf[7:], s.NextStart)
	binary.LittleEndian.PutUint32(buf[11:], s.RunningSecs)
	binary.LittleEndian.PutUint32(buf[15:], s.CuttingSecs)
	binary.LittleEndian.PutUint32(buf[19:], s.ChargingSecs)
	return buf
}
