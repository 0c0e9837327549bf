package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/robomow/amble/internal/mower"
	"github.com/robomow/amble/internal/wire"
)

// pendingRequest is the single in-flight command slot. The protocol
// carries no correlation token, so an incoming ack is matched positionally
// to whatever request currently owns the slot; the token only guards
// against a slow timeout racing a fresh submission.
type pendingRequest struct {
	token   uint64
	command wire.Command
	issued  time.Time
	// done is buffered so the completer never blocks on a caller that
	// already gave up. Fulfilled at most once.
	done chan error
}

// Submit sends a control command and waits for the device's ack.
// Submissions are serialized: at most one command is in flight per device,
// and concurrent callers queue in FIFO order.
//
// A timed-out command is retried transparently. Commands that are safe to
// repeat (pause, dock, park) are re-sent as-is; for the rest a retry first
// consults fresh telemetry, because a lost ack does not mean a lost
// command and re-sending a start could undo a safety stop that happened
// in between.
func (s *Session) Submit(ctx context.Context, cmd wire.Command) error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	attempts := 1 + s.opts.CommandRetries
	started := time.Now()

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 && !cmd.Idempotent() {
			if s.commandTookEffect(cmd, started) {
				s.logger.WithFields(logrus.Fields{
					"address": s.opts.Address,
					"command": cmd,
				}).Debug("Telemetry confirms the command took effect, skipping retry")
				return nil
			}
		}

		err := s.attempt(ctx, cmd)
		switch {
		case err == nil:
			return nil

		case errors.Is(err, ErrNoResponse):
			s.logger.WithFields(logrus.Fields{
				"address": s.opts.Address,
				"command": cmd,
				"attempt": attempt,
			}).Warn("No ack from device, retrying")

		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrClosed):
			return err

		default:
			// Link loss, device rejection, and state errors are
			// terminal for this submission.
			s.metrics.CommandFailed(cmd.String(), failureReason(err))
			return &CommandError{Command: cmd, Attempts: attempt, Err: err}
		}
	}

	s.metrics.CommandFailed(cmd.String(), "no_response")
	return &CommandError{Command: cmd, Attempts: attempts, Err: ErrNoResponse}
}

// attempt performs one write-and-wait round for cmd.
func (s *Session) attempt(ctx context.Context, cmd wire.Command) error {
	if state := s.State(); state != StateReady {
		return fmt.Errorf("%w: cannot submit %s in state %s", ErrNotReady, cmd, state)
	}
	s.mu.Lock()
	char := s.cmdChar
	s.mu.Unlock()
	if char == nil {
		return fmt.Errorf("%w: no command characteristic", ErrNotReady)
	}

	p := &pendingRequest{
		token:   s.tokens.Add(1),
		command: cmd,
		issued:  time.Now(),
		done:    make(chan error, 1),
	}
	if err := s.setPending(p); err != nil {
		return err
	}

	if err := char.Write(ctx, s.profile.Encode(cmd), true); err != nil {
		s.clearPending(p.token)
		return fmt.Errorf("%w: %v", ErrLinkFailure, err)
	}
	s.metrics.CommandSent(cmd.String())

	timer := time.NewTimer(s.commandTimeout(cmd))
	defer timer.Stop()

	select {
	case err := <-p.done:
		return err
	case <-timer.C:
		// Release the slot before retrying; a late ack for this token
		// is discarded as unmatched.
		s.clearPending(p.token)
		return ErrNoResponse
	case <-ctx.Done():
		s.clearPending(p.token)
		return ctx.Err()
	}
}

// commandTimeout applies the per-command ack deadline. Dock and park acks
// arrive noticeably later than the rest because the mower plans a return
// path first.
func (s *Session) commandTimeout(cmd wire.Command) time.Duration {
	switch cmd {
	case wire.CommandDock, wire.CommandParkIndefinitely:
		return s.opts.ParkCommandTimeout
	}
	return s.opts.CommandTimeout
}

// commandTookEffect reports whether telemetry newer than the first send
// already shows cmd's intended outcome.
func (s *Session) commandTookEffect(cmd wire.Command, since time.Time) bool {
	status, ok, stale := s.model.Current()
	if !ok || stale || status.ReceivedAt.Before(since) {
		return false
	}
	switch cmd {
	case wire.CommandStart:
		return status.Activity == mower.ActivityMowing || status.Activity == mower.ActivityGoingOut
	case wire.CommandResumeSchedule:
		return status.Mode == mower.ModeAuto && status.State != mower.OpPaused
	}
	return false
}

func (s *Session) setPending(p *pendingRequest) error {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if s.pending != nil {
		return fmt.Errorf("command %s already in flight (token %d)", s.pending.command, s.pending.token)
	}
	s.pending = p
	return nil
}

// clearPending releases the slot if it is still owned by token.
func (s *Session) clearPending(token uint64) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if s.pending != nil && s.pending.token == token {
		s.pending = nil
	}
}

// completePending resolves the in-flight request with the device's ack
// result. Acks with no matching request (late arrivals after a timeout)
// are discarded.
func (s *Session) completePending(result uint8) {
	s.pendingMu.Lock()
	p := s.pending
	s.pending = nil
	s.pendingMu.Unlock()

	if p == nil {
		s.logger.WithField("result", result).Debug("Discarding ack with no command in flight")
		return
	}
	if result == wire.AckResultOK {
		p.done <- nil
		return
	}
	p.done <- fmt.Errorf("%w (code %d)", ErrRejected, result)
}

// failPending aborts the in-flight request, if any, with err.
func (s *Session) failPending(err error) {
	s.pendingMu.Lock()
	p := s.pending
	s.pending = nil
	s.pendingMu.Unlock()

	if p != nil {
		p.done <- err
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrLinkLost):
		return "link_lost"
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, ErrNotReady):
		return "not_ready"
	}
	return "error"
}
