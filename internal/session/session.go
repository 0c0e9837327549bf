// Package session owns one mower's BLE link end to end: connection
// lifecycle, PIN authentication, command/response correlation, and the
// observable device state. One Session exists per managed device; nothing
// is shared between sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/robomow/amble/internal/auth"
	"github.com/robomow/amble/internal/groutine"
	"github.com/robomow/amble/internal/metrics"
	"github.com/robomow/amble/internal/mower"
	"github.com/robomow/amble/internal/transport"
	"github.com/robomow/amble/internal/wire"
)

// Options configures one session.
type Options struct {
	// Address is the device's BLE address, its stable identity.
	Address string
	// Name is the human-readable model/name captured at discovery.
	Name string
	// PIN is the optional 4-digit pairing credential. Required when the
	// device exposes the profile's auth characteristic.
	PIN string
	// Profile selects the device family dialect.
	Profile *wire.Profile

	ConnectTimeout     time.Duration
	AuthTimeout        time.Duration
	CommandTimeout     time.Duration
	ParkCommandTimeout time.Duration

	// CommandRetries is how many times a timed-out command is re-sent
	// before failing with ErrNoResponse.
	CommandRetries int

	// PollInterval, when positive, periodically writes the profile's
	// status request payload to solicit telemetry. Zero disables
	// polling; telemetry then arrives only on the device's own cadence.
	PollInterval time.Duration

	ReconnectInitialInterval time.Duration
	ReconnectMaxInterval     time.Duration
	// MaxReconnectAttempts bounds one reconnection round after link
	// loss. Zero means retry until the session is closed.
	MaxReconnectAttempts uint64

	// Metrics is optional; nil disables instrumentation.
	Metrics *metrics.Metrics
}

func (o *Options) withDefaults() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 30 * time.Second
	}
	if o.AuthTimeout <= 0 {
		o.AuthTimeout = auth.DefaultTimeout
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = 5 * time.Second
	}
	if o.ParkCommandTimeout <= 0 {
		// Park and dock acks take longer than other commands.
		o.ParkCommandTimeout = 10 * time.Second
	}
	if o.CommandRetries < 0 {
		o.CommandRetries = 0
	} else if o.CommandRetries == 0 {
		o.CommandRetries = 2
	}
	if o.ReconnectInitialInterval <= 0 {
		o.ReconnectInitialInterval = time.Second
	}
	if o.ReconnectMaxInterval <= 0 {
		o.ReconnectMaxInterval = 30 * time.Second
	}
}

// Session drives the mower protocol over one BLE link.
type Session struct {
	opts      Options
	logger    *logrus.Logger
	transport transport.Transport
	profile   *wire.Profile
	model     *mower.Model
	metrics   *metrics.Metrics

	mu           sync.Mutex
	state        State
	stateSubs    map[uint64]func(State)
	nextSubID    uint64
	conn         transport.Connection
	cmdChar      transport.Characteristic
	respChar     transport.Characteristic
	authRequired bool

	// Correlator state: at most one command in flight per device.
	submitMu  sync.Mutex
	pendingMu sync.Mutex
	pending   *pendingRequest
	tokens    atomic.Uint64

	authFrames chan wire.Frame

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	closed   atomic.Bool
	pollOnce sync.Once
}

// New creates a session for the device described by opts. The session does
// not touch the radio until Connect.
func New(t transport.Transport, logger *logrus.Logger, opts Options) (*Session, error) {
	if t == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if opts.Address == "" {
		return nil, fmt.Errorf("device address is required")
	}
	if opts.Profile == nil {
		return nil, fmt.Errorf("device profile is required")
	}
	if opts.PIN != "" {
		if err := auth.ValidatePIN(opts.PIN); err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = logrus.New()
	}
	opts.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		opts:       opts,
		logger:     logger,
		transport:  t,
		profile:    opts.Profile,
		model:      mower.NewModel(logger),
		metrics:    opts.Metrics,
		state:      StateDisconnected,
		stateSubs:  make(map[uint64]func(State)),
		authFrames: make(chan wire.Frame, 4),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Address returns the device's BLE address.
func (s *Session) Address() string { return s.opts.Address }

// Profile returns the active device profile.
func (s *Session) Profile() *wire.Profile { return s.profile }

// Status returns the last known mower status synchronously. ok is false
// before the first telemetry frame; stale is true when the value predates
// the most recent disconnect.
func (s *Session) Status() (status mower.Status, ok bool, stale bool) {
	return s.model.Current()
}

// SubscribeStatus registers an observer for status changes so callers can
// react without polling.
func (s *Session) SubscribeStatus(fn func(mower.Snapshot)) (unsubscribe func()) {
	return s.model.Subscribe(fn)
}

// RequestStatus solicits a telemetry notification immediately instead of
// waiting for the poll interval. The result arrives through the model;
// profiles without a status request payload rely on the device's own
// reporting cadence and return nil here.
func (s *Session) RequestStatus(ctx context.Context) error {
	payload := s.profile.StatusRequestPayload()
	if payload == nil {
		return nil
	}
	if state := s.State(); state != StateReady {
		return fmt.Errorf("%w: cannot request status in state %s", ErrNotReady, state)
	}
	s.mu.Lock()
	char := s.cmdChar
	s.mu.Unlock()
	if char == nil {
		return fmt.Errorf("%w: no command characteristic", ErrNotReady)
	}
	if err := char.Write(ctx, payload, false); err != nil {
		return fmt.Errorf("%w: %v", ErrLinkFailure, err)
	}
	return nil
}

// Connect establishes the link: dial, discover the mower service, subscribe
// to the response characteristic, and authenticate when the device requires
// it. On success the session is Ready and stays managed (reconnecting on
// link loss) until Disconnect.
//
// An authentication failure leaves the session Failed and is never retried
// internally: replaying a wrong PIN risks locking the device.
func (s *Session) Connect(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if !s.transition(StateConnecting, StateDisconnected, StateFailed) {
		return fmt.Errorf("%w (state %s)", ErrAlreadyConnected, s.State())
	}

	conn, err := s.establish(ctx)
	if err != nil {
		if isAuthError(err) {
			s.setState(StateFailed)
		} else {
			s.setState(StateDisconnected)
		}
		return err
	}

	s.setState(StateReady)

	s.wg.Add(1)
	groutine.Go(s.ctx, "ble-link-watch", func(ctx context.Context) {
		defer s.wg.Done()
		s.runLink(ctx, conn)
	})
	s.pollOnce.Do(func() {
		if s.opts.PollInterval > 0 && s.profile.StatusRequestPayload() != nil {
			s.wg.Add(1)
			groutine.Go(s.ctx, "status-poll", func(ctx context.Context) {
				defer s.wg.Done()
				s.runPoll(ctx)
			})
		}
	})
	return nil
}

// Disconnect releases the link. It is idempotent and always succeeds from
// the caller's perspective: transport teardown errors are logged, and the
// state transitions to Disconnected unconditionally. The session cannot be
// reused afterwards.
func (s *Session) Disconnect() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	s.failPending(ErrClosed)

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.cmdChar = nil
	s.respChar = nil
	s.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			s.logger.WithFields(logrus.Fields{
				"address": s.opts.Address,
				"error":   err,
			}).Warn("Best-effort link teardown reported an error")
		}
	}

	s.setState(StateDisconnected)
	s.wg.Wait()
	return nil
}

// establish performs one full connection attempt: dial, resolve the
// profile's characteristics, subscribe, authenticate. It does not decide
// the resulting session state; callers do.
func (s *Session) establish(ctx context.Context) (transport.Connection, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()

	conn, err := s.transport.Dial(dialCtx, s.opts.Address)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrLinkFailure, err)
	}

	cmdChar, err := conn.GetCharacteristic(s.profile.ServiceUUID, s.profile.CommandChar)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	respChar, err := conn.GetCharacteristic(s.profile.ServiceUUID, s.profile.ResponseChar)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if !respChar.SupportsNotify() {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: response characteristic %s does not support notifications", ErrNotFound, s.profile.ResponseChar)
	}

	// Firmware without PIN protection simply does not expose the auth
	// characteristic; its absence is not an error.
	var authChar transport.Characteristic
	authRequired := false
	if s.profile.RequiresAuth() {
		c, err := conn.GetCharacteristic(s.profile.ServiceUUID, s.profile.AuthChar)
		switch {
		case err == nil:
			authChar = c
			authRequired = true
		case transport.IsNotFound(err):
			s.logger.WithField("address", s.opts.Address).Debug("Device does not advertise the auth characteristic, skipping authentication")
		default:
			_ = conn.Close()
			return nil, fmt.Errorf("%w: %v", ErrLinkFailure, err)
		}
	}

	s.drainAuthFrames()
	if err := respChar.Subscribe(s.handleNotification); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrLinkFailure, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.cmdChar = cmdChar
	s.respChar = respChar
	s.authRequired = authRequired
	s.mu.Unlock()
	s.setState(StateConnected)

	if authRequired {
		s.setState(StateAuthenticating)
		if err := s.authenticate(ctx, authChar); err != nil {
			s.metrics.AuthFailure()
			_ = conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

func (s *Session) authenticate(ctx context.Context, authChar transport.Characteristic) error {
	derivation, err := auth.DerivationFor(s.profile.PINDerivation)
	if err != nil {
		return err
	}

	negotiator := auth.NewNegotiator(s.opts.PIN, derivation, s.opts.AuthTimeout, s.logger)
	write := func(ctx context.Context, data []byte) error {
		return authChar.Write(ctx, data, true)
	}
	if err := negotiator.Run(ctx, write, s.authFrames); err != nil {
		return fmt.Errorf("authentication with %s failed: %w", s.opts.Address, err)
	}
	return nil
}

// runLink watches the live connection and drives reconnection after
// unexpected link loss. One invocation manages the session until it is
// closed or reconnection gives up.
func (s *Session) runLink(ctx context.Context, conn transport.Connection) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Disconnected():
		}
		if s.closed.Load() {
			return
		}

		s.logger.WithField("address", s.opts.Address).Warn("BLE link lost unexpectedly")
		// A pending command fails immediately rather than waiting out
		// its timeout; it is not resubmitted after reconnect.
		s.failPending(ErrLinkLost)
		s.setState(StateReconnecting)
		s.metrics.Reconnect()

		next, err := s.reconnect(ctx)
		if err != nil {
			if s.closed.Load() || errors.Is(err, context.Canceled) {
				return
			}
			s.logger.WithFields(logrus.Fields{
				"address": s.opts.Address,
				"error":   err,
			}).Error("Reconnection gave up")
			s.setState(StateFailed)
			return
		}

		conn = next
		s.setState(StateReady)
	}
}

// reconnect retries establish with exponential backoff and jitter. Every
// attempt re-runs discovery and authentication, since BLE bonding state
// can reset across drops. Authentication failures abort the round
// immediately.
func (s *Session) reconnect(ctx context.Context) (transport.Connection, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = s.opts.ReconnectInitialInterval
	expo.MaxInterval = s.opts.ReconnectMaxInterval
	expo.MaxElapsedTime = 0

	var policy backoff.BackOff = expo
	if s.opts.MaxReconnectAttempts > 0 {
		policy = backoff.WithMaxRetries(expo, s.opts.MaxReconnectAttempts)
	}
	policy = backoff.WithContext(policy, ctx)

	var conn transport.Connection
	err := backoff.Retry(func() error {
		c, err := s.establish(ctx)
		if err != nil {
			if isAuthError(err) {
				return backoff.Permanent(err)
			}
			s.logger.WithFields(logrus.Fields{
				"address": s.opts.Address,
				"error":   err,
			}).Warn("Reconnection attempt failed")
			return err
		}
		conn = c
		return nil
	}, policy)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// runPoll periodically solicits a telemetry notification while Ready.
func (s *Session) runPoll(ctx context.Context) {
	payload := s.profile.StatusRequestPayload()
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if s.State() != StateReady {
			continue
		}
		s.mu.Lock()
		char := s.cmdChar
		s.mu.Unlock()
		if char == nil {
			continue
		}
		if err := char.Write(ctx, payload, false); err != nil {
			s.logger.WithFields(logrus.Fields{
				"address": s.opts.Address,
				"error":   err,
			}).Debug("Status poll write failed")
		}
	}
}

// handleNotification is the single entry point for raw response bytes.
// Frames are dispatched in the order the transport delivers them. A
// malformed buffer is logged and dropped; it never affects the session.
func (s *Session) handleNotification(data []byte) {
	frame, err := wire.Decode(data)
	if err != nil {
		s.metrics.DecodeError()
		s.logger.WithFields(logrus.Fields{
			"address": s.opts.Address,
			"error":   err,
		}).Warn("Dropping malformed frame")
		return
	}

	switch frame.Kind {
	case wire.FrameAuthChallenge, wire.FrameAuthResult:
		select {
		case s.authFrames <- frame:
		default:
			s.logger.WithField("kind", frame.Kind).Debug("Dropping auth frame with no negotiator waiting")
		}

	case wire.FrameCommandAck:
		s.completePending(frame.Result)

	case wire.FrameStatus:
		if s.State() != StateReady {
			s.logger.Debug("Dropping telemetry received outside Ready")
			return
		}
		s.model.Update(s.statusFromFrame(frame))
		s.metrics.StatusUpdate()

	default:
		s.logger.WithField("bytes", len(frame.Raw)).Debug("Ignoring unknown frame type")
	}
}

// statusFromFrame maps raw telemetry fields into the caller-facing status,
// normalizing the next-start timestamp to absolute wall time.
func (s *Session) statusFromFrame(frame wire.Frame) mower.Status {
	raw := frame.Status
	status := mower.Status{
		Battery:       raw.Battery,
		Charging:      raw.Charging,
		Mode:          mower.Mode(raw.Mode),
		Activity:      mower.Activity(raw.Activity),
		State:         mower.OpState(raw.State),
		TotalRunning:  time.Duration(raw.RunningSecs) * time.Second,
		TotalCutting:  time.Duration(raw.CuttingSecs) * time.Second,
		TotalCharging: time.Duration(raw.ChargingSecs) * time.Second,
		ReceivedAt:    time.Now(),
	}
	if raw.ErrorCode != 0 {
		code := raw.ErrorCode
		status.ErrorCode = &code
	}
	if raw.NextStart != 0 {
		var next time.Time
		if s.profile.NextStartRelative {
			next = time.Now().Add(time.Duration(raw.NextStart) * time.Second)
		} else {
			next = time.Unix(int64(raw.NextStart), 0)
		}
		status.NextStart = &next
	}
	return status
}

func (s *Session) drainAuthFrames() {
	for {
		select {
		case <-s.authFrames:
		default:
			return
		}
	}
}

func isAuthError(err error) bool {
	return errors.Is(err, auth.ErrRejected) ||
		errors.Is(err, auth.ErrTimeout) ||
		errors.Is(err, auth.ErrMissingPIN) ||
		errors.Is(err, auth.ErrInvalidPIN)
}
