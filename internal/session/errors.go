package session

import (
	"errors"
	"fmt"

	"github.com/robomow/amble/internal/wire"
)

// Connection errors.
var (
	// ErrNotFound means the device or one of its required
	// characteristics could not be located.
	ErrNotFound = errors.New("device not found")

	// ErrLinkFailure means the transport failed to establish the link.
	ErrLinkFailure = errors.New("link failure")

	// ErrAlreadyConnected means Connect was called on a live session.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrClosed means the session has been disconnected and cannot be
	// reused.
	ErrClosed = errors.New("session closed")
)

// Command errors.
var (
	// ErrNotReady means a command was submitted while the session was
	// not in the Ready state. Commands are never transmitted outside
	// Ready.
	ErrNotReady = errors.New("session not ready")

	// ErrNoResponse means the device did not acknowledge the command
	// within the timeout, across all retries.
	ErrNoResponse = errors.New("no response from device")

	// ErrLinkLost means the link dropped while the command was pending.
	// The command is not resubmitted after reconnect; the caller
	// decides.
	ErrLinkLost = errors.New("link lost while command pending")

	// ErrRejected means the device acknowledged the command with a
	// failure code.
	ErrRejected = errors.New("command rejected by device")
)

// CommandError wraps a command submission failure with its context.
type CommandError struct {
	Command  wire.Command
	Attempts int
	Err      error
}

func (e *CommandError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("command %s failed after %d attempts: %v", e.Command, e.Attempts, e.Err)
	}
	return fmt.Sprintf("command %s failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }
