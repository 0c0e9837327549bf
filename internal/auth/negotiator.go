// Package auth performs the PIN challenge/response handshake against the
// mower's auth characteristic and tracks its outcome.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/robomow/amble/internal/wire"
)

// State is the negotiator's position in the handshake.
type State int32

const (
	StateNotRequired State = iota
	StateAwaitingChallenge
	StateChallengeSent
	StateAuthenticated
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateNotRequired:
		return "not_required"
	case StateAwaitingChallenge:
		return "awaiting_challenge"
	case StateChallengeSent:
		return "challenge_sent"
	case StateAuthenticated:
		return "authenticated"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

var (
	// ErrRejected means the device explicitly refused the PIN. Callers
	// must not retry with the same PIN; repeated wrong attempts can lock
	// the device.
	ErrRejected = errors.New("authentication rejected by device")

	// ErrTimeout means the device never answered the handshake.
	ErrTimeout = errors.New("authentication timed out")

	// ErrMissingPIN means the device requires a PIN but none was
	// configured.
	ErrMissingPIN = errors.New("device requires a PIN but none is configured")
)

// DefaultTimeout bounds each wait in the handshake.
const DefaultTimeout = 5 * time.Second

// Negotiator runs one PIN handshake. It is single-use; create a new one
// for every connection attempt.
type Negotiator struct {
	pin        string
	derivation Derivation
	timeout    time.Duration
	logger     *logrus.Logger
	state      atomic.Int32
}

func NewNegotiator(pin string, derivation Derivation, timeout time.Duration, logger *logrus.Logger) *Negotiator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Negotiator{
		pin:        pin,
		derivation: derivation,
		timeout:    timeout,
		logger:     logger,
	}
}

// State returns the current handshake position.
func (n *Negotiator) State() State {
	return State(n.state.Load())
}

func (n *Negotiator) setState(s State) {
	n.state.Store(int32(s))
}

// Run performs the handshake: optionally await the device's challenge,
// write the PIN-derived response, and await the auth result. write sends
// bytes to the auth characteristic; frames delivers decoded auth frames
// from the response pipeline.
//
// A rejection or timeout is terminal for this attempt and must be
// surfaced, never silently retried.
func (n *Negotiator) Run(ctx context.Context, write func(context.Context, []byte) error, frames <-chan wire.Frame) error {
	if n.pin == "" {
		n.setState(StateRejected)
		return ErrMissingPIN
	}

	var nonce uint32
	if n.derivation.NeedsChallenge() {
		n.setState(StateAwaitingChallenge)
		n.logger.Debug("Awaiting auth challenge from device")

		frame, err := n.awaitFrame(ctx, frames, wire.FrameAuthChallenge)
		if err != nil {
			return err
		}
		nonce = frame.Nonce
	}

	response, err := n.derivation.Derive(n.pin, nonce)
	if err != nil {
		n.setState(StateRejected)
		return fmt.Errorf("failed to derive auth response: %w", err)
	}

	if err := write(ctx, response); err != nil {
		n.setState(StateRejected)
		return fmt.Errorf("failed to write auth response: %w", err)
	}
	n.setState(StateChallengeSent)
	n.logger.WithField("derivation", n.derivation.Name()).Debug("Auth response written, awaiting result")

	frame, err := n.awaitFrame(ctx, frames, wire.FrameAuthResult)
	if err != nil {
		return err
	}

	if frame.Result != wire.AuthResultOK {
		n.setState(StateRejected)
		n.logger.WithField("result", frame.Result).Warn("Device rejected PIN")
		return fmt.Errorf("%w (code %d)", ErrRejected, frame.Result)
	}

	n.setState(StateAuthenticated)
	n.logger.Info("Authenticated with device")
	return nil
}

// awaitFrame waits for the next auth frame of the wanted kind, ignoring
// others, bounded by the negotiator timeout.
func (n *Negotiator) awaitFrame(ctx context.Context, frames <-chan wire.Frame, kind wire.FrameKind) (wire.Frame, error) {
	timer := time.NewTimer(n.timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return wire.Frame{}, ctx.Err()
		case <-timer.C:
			n.logger.WithField("awaiting", kind).Warn("Auth handshake timed out")
			return wire.Frame{}, ErrTimeout
		case frame, open := <-frames:
			if !open {
				return wire.Frame{}, ErrTimeout
			}
			if frame.Kind == kind {
				return frame, nil
			}
			n.logger.WithField("kind", frame.Kind).Debug("Ignoring unexpected frame during auth")
		}
	}
}
