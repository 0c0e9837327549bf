package main

import (
	"errors"
	"fmt"

	"github.com/robomow/amble/internal/auth"
	"github.com/robomow/amble/internal/session"
)

// FormatUserError translates protocol errors into actionable messages.
// Technical details stay in the logs; the terminal gets advice.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return "mower not found - make sure it is in range and powered on, then try 'amble scan'"
	case errors.Is(err, auth.ErrRejected):
		return "the mower rejected the PIN - check the code on the mower's keypad (repeated wrong attempts can lock the device)"
	case errors.Is(err, auth.ErrMissingPIN):
		return "this mower requires a PIN - pass it with --pin or set device.pin in the config file"
	case errors.Is(err, auth.ErrTimeout):
		return "the mower did not answer the pairing handshake - move closer and try again"
	case errors.Is(err, session.ErrRejected):
		return "the mower refused the command - it may be in an error state or waiting for the safety PIN on its keypad"
	case errors.Is(err, session.ErrNoResponse):
		return "no acknowledgement from the mower - the command may not have been received, check its display"
	case errors.Is(err, session.ErrLinkLost):
		return "the Bluetooth link dropped while waiting for the mower's acknowledgement"
	case errors.Is(err, session.ErrLinkFailure):
		return fmt.Sprintf("failed to establish the Bluetooth link: %v", err)
	case errors.Is(err, session.ErrNotReady):
		return "the session is not ready for commands - the link may be reconnecting"
	}
	return err.Error()
}
