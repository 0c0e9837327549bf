package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/robomow/amble/internal/auth"
	"github.com/robomow/amble/internal/mower"
	"github.com/robomow/amble/internal/session"
	"github.com/robomow/amble/internal/testutils"
	"github.com/robomow/amble/internal/wire"
)

// SessionTestSuite exercises the full protocol stack against a simulated
// mower: connection lifecycle, PIN handshake, command correlation, and
// telemetry.
type SessionTestSuite struct {
	suite.Suite

	helper    *testutils.TestHelper
	transport *testutils.FakeTransport
	simulator *testutils.Simulator
	session   *session.Session
}

func TestSessionTestSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}

func (s *SessionTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.transport = nil
	s.simulator = nil
	s.session = nil
}

func (s *SessionTestSuite) TearDownTest() {
	if s.session != nil {
		_ = s.session.Disconnect()
	}
}

// buildSession wires a session against a fresh simulated mower. pin is
// the credential the session presents; the simulator always accepts
// "1234".
func (s *SessionTestSuite) buildSession(profileName, pin string, mutate func(*session.Options)) {
	profile, err := wire.Lookup(profileName)
	s.Require().NoError(err, "built-in profile MUST resolve")

	s.simulator = testutils.NewSimulator(profile, "1234")
	s.transport = testutils.NewFakeTransport().AddPeripheral(s.simulator.Peripheral)

	opts := session.Options{
		Address:                  "AA:BB:CC:DD:EE:FF",
		PIN:                      pin,
		Profile:                  profile,
		ConnectTimeout:           200 * time.Millisecond,
		AuthTimeout:              200 * time.Millisecond,
		CommandTimeout:           40 * time.Millisecond,
		ParkCommandTimeout:       60 * time.Millisecond,
		ReconnectInitialInterval: 5 * time.Millisecond,
		ReconnectMaxInterval:     20 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}

	sess, err := session.New(s.transport, s.helper.Logger, opts)
	s.Require().NoError(err, "session construction MUST succeed")
	s.session = sess
}

func (s *SessionTestSuite) connect() {
	err := s.session.Connect(context.Background())
	s.Require().NoError(err, "MUST connect successfully")
	s.Require().Equal(session.StateReady, s.session.State())
}

func (s *SessionTestSuite) awaitState(want session.State) {
	s.Require().Eventually(func() bool {
		return s.session.State() == want
	}, time.Second, 2*time.Millisecond, "session MUST reach state %s", want)
}

func (s *SessionTestSuite) TestConnectWithoutAuth() {
	// GOAL: Verify a device without PIN protection goes straight to Ready
	//
	// TEST SCENARIO: Profile with no auth characteristic -> Connect ->
	// Ready with no auth traffic

	s.buildSession("open", "", nil)
	s.connect()
}

func (s *SessionTestSuite) TestConnectWithChallengeResponseAuth() {
	// GOAL: Verify the full challenge/response handshake during connect
	//
	// TEST SCENARIO: husqvarna profile -> device pushes challenge on
	// subscribe -> session derives response from PIN -> Ready

	s.buildSession("husqvarna", "1234", nil)
	s.connect()
}

func (s *SessionTestSuite) TestConnectWrongPIN() {
	// GOAL: Verify a rejected PIN fails the session and is never retried
	// automatically (repeated wrong attempts can lock the device)
	//
	// TEST SCENARIO: Wrong PIN -> Connect fails with ErrRejected ->
	// state Failed -> exactly one dial attempt

	s.buildSession("husqvarna", "9999", nil)

	err := s.session.Connect(context.Background())

	s.Require().Error(err)
	s.Assert().ErrorIs(err, auth.ErrRejected, "error MUST be the auth rejection")
	s.Assert().Equal(session.StateFailed, s.session.State())
	s.Assert().Equal(1, s.transport.DialAttempts(), "a rejected PIN MUST NOT trigger retries")
}

func (s *SessionTestSuite) TestConnectMissingPIN() {
	// GOAL: Verify a PIN-protected device without a configured PIN fails
	// cleanly instead of hanging in the handshake

	s.buildSession("husqvarna", "", nil)

	err := s.session.Connect(context.Background())

	s.Require().Error(err)
	s.Assert().ErrorIs(err, auth.ErrMissingPIN)
	s.Assert().Equal(session.StateFailed, s.session.State())
}

func (s *SessionTestSuite) TestConnectTwice() {
	s.buildSession("open", "", nil)
	s.connect()

	err := s.session.Connect(context.Background())

	s.Assert().ErrorIs(err, session.ErrAlreadyConnected)
}

func (s *SessionTestSuite) TestConnectDeviceOutOfRange() {
	// GOAL: Verify dialing an absent device fails with ErrNotFound once
	// the connect timeout expires

	s.buildSession("open", "", func(o *session.Options) {
		o.Address = "11:22:33:44:55:66" // not registered
		o.ConnectTimeout = 30 * time.Millisecond
	})

	err := s.session.Connect(context.Background())

	s.Require().Error(err)
	s.Assert().ErrorIs(err, session.ErrNotFound)
}

func (s *SessionTestSuite) TestSubmitAcknowledged() {
	// GOAL: Verify a command submission completes on the device's ack
	//
	// TEST SCENARIO: Submit dock -> simulator acks -> nil error ->
	// exactly one command written

	s.buildSession("husqvarna", "1234", nil)
	s.connect()

	err := s.session.Submit(context.Background(), wire.CommandDock)

	s.Require().NoError(err, "acknowledged command MUST succeed")
	s.Assert().Equal([]wire.Command{wire.CommandDock}, s.simulator.Commands())
}

func (s *SessionTestSuite) TestSubmitRejected() {
	// GOAL: Verify a non-zero ack surfaces ErrRejected without retrying
	//
	// TEST SCENARIO: Simulator acks with code 5 -> Submit fails with
	// CommandError wrapping ErrRejected -> single attempt

	s.buildSession("husqvarna", "1234", nil)
	s.connect()
	s.simulator.RejectCommands(5)

	err := s.session.Submit(context.Background(), wire.CommandPause)

	s.Require().Error(err)
	s.Assert().ErrorIs(err, session.ErrRejected)

	var cmdErr *session.CommandError
	s.Require().ErrorAs(err, &cmdErr)
	s.Assert().Equal(wire.CommandPause, cmdErr.Command)
	s.Assert().Equal(1, cmdErr.Attempts, "a rejection MUST NOT be retried")
}

func (s *SessionTestSuite) TestSubmitTimeoutRetriesIdempotent() {
	// GOAL: Verify a silent device triggers bounded re-sends for commands
	// that are safe to repeat
	//
	// TEST SCENARIO: Simulator never acks -> pause re-sent twice after
	// the initial attempt -> ErrNoResponse with attempt count

	s.buildSession("husqvarna", "1234", nil)
	s.connect()
	s.simulator.GoSilent(true)

	err := s.session.Submit(context.Background(), wire.CommandPause)

	s.Require().Error(err)
	s.Assert().ErrorIs(err, session.ErrNoResponse)

	var cmdErr *session.CommandError
	s.Require().ErrorAs(err, &cmdErr)
	s.Assert().Equal(3, cmdErr.Attempts, "pause MUST be sent once and re-sent twice")
	s.Assert().Len(s.simulator.Commands(), 3)
}

func (s *SessionTestSuite) TestSubmitStartRetryConsultsTelemetry() {
	// GOAL: Verify a lost ack for start does not cause a blind re-send
	// when telemetry already shows the mower running
	//
	// TEST SCENARIO: Simulator swallows the ack but reports mowing ->
	// retry path sees fresh telemetry -> Submit succeeds after one write

	s.buildSession("husqvarna", "1234", nil)
	s.connect()
	s.simulator.GoSilent(true)

	done := make(chan error, 1)
	go func() {
		done <- s.session.Submit(context.Background(), wire.CommandStart)
	}()

	// Wait for the first write, then publish telemetry proving the
	// command took effect before the retry fires.
	s.Require().Eventually(func() bool {
		return len(s.simulator.Commands()) == 1
	}, time.Second, 2*time.Millisecond)
	s.simulator.SendStatus(wire.StatusFields{
		Battery:  80,
		Mode:     uint8(mower.ModeManual),
		Activity: uint8(mower.ActivityMowing),
		State:    uint8(mower.OpInOperation),
	})

	select {
	case err := <-done:
		s.Require().NoError(err, "telemetry confirmation MUST satisfy the submission")
	case <-time.After(time.Second):
		s.FailNow("submit did not return")
	}
	s.Assert().Len(s.simulator.Commands(), 1, "start MUST NOT be re-sent blindly")
}

func (s *SessionTestSuite) TestSubmitSerialized() {
	// GOAL: Verify concurrent submissions queue FIFO with at most one
	// command in flight

	s.buildSession("husqvarna", "1234", nil)
	s.connect()

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.session.Submit(context.Background(), wire.CommandPause)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		s.Assert().NoError(err, "submission %d MUST succeed", i)
	}
	s.Assert().Len(s.simulator.Commands(), 4, "every submission MUST reach the device exactly once")
}

func (s *SessionTestSuite) TestSubmitCancellationReleasesSlot() {
	// GOAL: Verify cancelling a pending command frees the in-flight slot
	//
	// TEST SCENARIO: Silent device -> Submit cancelled mid-wait -> next
	// submission proceeds normally

	s.buildSession("husqvarna", "1234", nil)
	s.connect()
	s.simulator.GoSilent(true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.session.Submit(ctx, wire.CommandPause)
	}()
	s.Require().Eventually(func() bool {
		return len(s.simulator.Commands()) == 1
	}, time.Second, 2*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		s.Assert().ErrorIs(err, context.Canceled)
	case <-time.After(time.Second):
		s.FailNow("cancelled submit did not return")
	}

	s.simulator.GoSilent(false)
	err := s.session.Submit(context.Background(), wire.CommandDock)
	s.Assert().NoError(err, "slot MUST be free after cancellation")
}

func (s *SessionTestSuite) TestLinkLossFailsPendingAndReconnects() {
	// GOAL: Verify link loss fails the pending command immediately and
	// the session recovers on its own
	//
	// TEST SCENARIO: Silent device -> submit pending -> link drops ->
	// ErrLinkLost without waiting for the ack timeout -> session
	// reconnects back to Ready -> command is not resubmitted

	s.buildSession("husqvarna", "1234", func(o *session.Options) {
		// Ack timeout far above the test budget: a passing test proves
		// the failure came from the link drop, not the timer.
		o.CommandTimeout = 10 * time.Second
		o.CommandRetries = -1
	})
	s.connect()
	s.simulator.GoSilent(true)

	done := make(chan error, 1)
	go func() {
		done <- s.session.Submit(context.Background(), wire.CommandPause)
	}()
	s.Require().Eventually(func() bool {
		return len(s.simulator.Commands()) == 1
	}, time.Second, 2*time.Millisecond)

	s.transport.LastConnection().DropLink()

	select {
	case err := <-done:
		s.Require().Error(err)
		s.Assert().ErrorIs(err, session.ErrLinkLost, "pending command MUST fail with link loss")
	case <-time.After(time.Second):
		s.FailNow("pending submit did not fail on link loss")
	}

	s.awaitState(session.StateReady)
	s.Assert().Len(s.simulator.Commands(), 1, "command MUST NOT be resubmitted after reconnect")
}

func (s *SessionTestSuite) TestReconnectMarksStatusStale() {
	// GOAL: Verify the cached status survives a drop tagged stale, and
	// fresh telemetry clears the tag
	//
	// TEST SCENARIO: Telemetry arrives -> link drops -> status stale but
	// retained -> reconnect + new telemetry -> fresh again

	s.buildSession("husqvarna", "1234", nil)
	s.connect()

	s.simulator.SendStatus(wire.StatusFields{Battery: 57, Charging: true, Mode: uint8(mower.ModeAuto)})
	s.Require().Eventually(func() bool {
		status, ok, _ := s.session.Status()
		return ok && status.Battery == 57
	}, time.Second, 2*time.Millisecond)

	s.transport.LastConnection().DropLink()
	s.Require().Eventually(func() bool {
		status, ok, stale := s.session.Status()
		return ok && stale && status.Battery == 57
	}, time.Second, 2*time.Millisecond, "last known status MUST be retained and tagged stale")

	s.awaitState(session.StateReady)
	s.simulator.SendStatus(wire.StatusFields{Battery: 55, Mode: uint8(mower.ModeAuto)})
	s.Require().Eventually(func() bool {
		status, ok, stale := s.session.Status()
		return ok && !stale && status.Battery == 55
	}, time.Second, 2*time.Millisecond, "fresh telemetry MUST clear staleness")
}

func (s *SessionTestSuite) TestReconnectBacksOffThroughFailures() {
	// GOAL: Verify reconnection retries through transient dial failures

	s.buildSession("husqvarna", "1234", nil)
	s.connect()
	dialsBefore := s.transport.DialAttempts()

	s.simulator.Peripheral.FailNextDials(2, context.DeadlineExceeded)
	s.transport.LastConnection().DropLink()

	s.awaitState(session.StateReady)
	s.Assert().GreaterOrEqual(s.transport.DialAttempts()-dialsBefore, 3, "two failed attempts MUST precede the successful one")
}

func (s *SessionTestSuite) TestTelemetryMapping() {
	// GOAL: Verify raw telemetry maps into the caller-facing status
	//
	// TEST SCENARIO: Status frame with battery, error, schedule, and
	// statistics -> Status() exposes decoded values

	s.buildSession("husqvarna", "1234", nil)
	s.connect()

	nextStart := uint32(time.Now().Add(2 * time.Hour).Unix())
	s.simulator.SendStatus(wire.StatusFields{
		Battery:      57,
		Charging:     true,
		Mode:         uint8(mower.ModeAuto),
		Activity:     uint8(mower.ActivityCharging),
		State:        uint8(mower.OpRestricted),
		ErrorCode:    0,
		NextStart:    nextStart,
		RunningSecs:  7200,
		CuttingSecs:  6000,
		ChargingSecs: 1200,
	})

	s.Require().Eventually(func() bool {
		_, ok, _ := s.session.Status()
		return ok
	}, time.Second, 2*time.Millisecond)

	status, _, stale := s.session.Status()
	s.Assert().False(stale)
	s.Assert().Equal(uint8(57), status.Battery)
	s.Assert().True(status.Charging)
	s.Assert().Equal(mower.ModeAuto, status.Mode)
	s.Assert().Equal(mower.ActivityCharging, status.Activity)
	s.Assert().Equal(mower.OpRestricted, status.State)
	s.Assert().Nil(status.ErrorCode, "error code 0 MUST map to no error")
	s.Require().NotNil(status.NextStart)
	s.Assert().Equal(int64(nextStart), status.NextStart.Unix())
	s.Assert().Equal(2*time.Hour, status.TotalRunning)
	s.Assert().Equal(100*time.Minute, status.TotalCutting)
	s.Assert().Equal(20*time.Minute, status.TotalCharging)
}

func (s *SessionTestSuite) TestMalformedFrameIsDropped() {
	// GOAL: Verify garbage on the response characteristic never disturbs
	// the session

	s.buildSession("husqvarna", "1234", nil)
	s.connect()

	resp := s.simulator.Peripheral.Characteristic(
		s.simulator.Profile.ServiceUUID, s.simulator.Profile.ResponseChar)
	resp.Notify([]byte{0x31, 0x01}) // truncated status frame
	resp.Notify(nil)

	s.Assert().Equal(session.StateReady, s.session.State())
	err := s.session.Submit(context.Background(), wire.CommandPause)
	s.Assert().NoError(err, "session MUST keep working after malformed frames")
}

func (s *SessionTestSuite) TestDisconnectIdempotent() {
	// GOAL: Verify Disconnect always succeeds, repeatedly, and ends the
	// session for good

	s.buildSession("husqvarna", "1234", nil)
	s.connect()

	s.Require().NoError(s.session.Disconnect())
	s.Require().NoError(s.session.Disconnect(), "repeated Disconnect MUST succeed")
	s.Assert().Equal(session.StateDisconnected, s.session.State())

	err := s.session.Submit(context.Background(), wire.CommandPause)
	s.Assert().ErrorIs(err, session.ErrClosed)

	err = s.session.Connect(context.Background())
	s.Assert().ErrorIs(err, session.ErrClosed, "a closed session MUST NOT be reusable")
}

func (s *SessionTestSuite) TestStatusPolling() {
	// GOAL: Verify the poll loop solicits telemetry at the configured
	// interval while Ready

	s.buildSession("husqvarna", "1234", func(o *session.Options) {
		o.PollInterval = 15 * time.Millisecond
	})
	s.connect()

	cmdChar := s.simulator.Peripheral.Characteristic(
		s.simulator.Profile.ServiceUUID, s.simulator.Profile.CommandChar)
	request := s.simulator.Profile.StatusRequestPayload()

	s.Require().Eventually(func() bool {
		polls := 0
		for _, w := range cmdChar.Writes() {
			if string(w) == string(request) {
				polls++
			}
		}
		return polls >= 2
	}, time.Second, 5*time.Millisecond, "poll loop MUST keep soliciting telemetry")
}
