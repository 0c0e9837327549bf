package session

// State is the session's connection state. Exactly one State exists per
// managed device; transitions are serialized by the session mutex.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateAuthenticating
	StateReady
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnStateChange registers an observer for connection state transitions.
// The returned function removes the observer. Observers run outside the
// session lock and must not block.
func (s *Session) OnStateChange(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.stateSubs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.stateSubs, id)
		s.mu.Unlock()
	}
}

// setState transitions the connection state and notifies observers.
// Leaving Ready tags the cached mower status as stale.
func (s *Session) setState(next State) {
	s.transition(next)
}

// transition moves to next only when the current state is one of from
// (or unconditionally when from is empty) and reports whether it did.
func (s *Session) transition(next State, from ...State) bool {
	s.mu.Lock()
	allowed := len(from) == 0
	for _, f := range from {
		if s.state == f {
			allowed = true
			break
		}
	}
	if !allowed {
		s.mu.Unlock()
		return false
	}
	prev := s.state
	if prev == next {
		s.mu.Unlock()
		return true
	}
	s.state = next
	subs := make([]func(State), 0, len(s.stateSubs))
	for _, fn := range s.stateSubs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	if prev == StateReady {
		s.model.MarkStale()
	}

	s.logger.WithFields(map[string]interface{}{
		"address": s.opts.Address,
		"from":    prev,
		"to":      next,
	}).Info("Connection state changed")
	s.metrics.SetConnectionState(int32(next))

	for _, fn := range subs {
		fn(next)
	}
	return true
}
