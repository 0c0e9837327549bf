package mower

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Snapshot is what observers receive: the latest status plus whether it
// predates the most recent disconnect.
type Snapshot struct {
	Status Status
	Stale  bool
}

// Model caches the latest Status and notifies observers of changes.
// A stale snapshot is retained, not cleared, across transient disconnects;
// callers see the last known value tagged as stale until fresh telemetry
// arrives.
type Model struct {
	mu     sync.RWMutex
	status Status
	valid  bool
	stale  bool
	subs   map[uint64]func(Snapshot)
	nextID uint64
	logger *logrus.Logger
}

func NewModel(logger *logrus.Logger) *Model {
	if logger == nil {
		logger = logrus.New()
	}
	return &Model{
		subs:   make(map[uint64]func(Snapshot)),
		logger: logger,
	}
}

// Update replaces the cached status wholesale and clears staleness.
func (m *Model) Update(s Status) {
	m.mu.Lock()
	m.status = s
	m.valid = true
	m.stale = false
	snapshot := Snapshot{Status: s}
	subs := m.subscribersLocked()
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"battery":  s.Battery,
		"charging": s.Charging,
		"mode":     s.Mode,
		"activity": s.Activity,
		"state":    s.State,
	}).Debug("Mower status updated")

	for _, fn := range subs {
		fn(snapshot)
	}
}

// MarkStale tags the cached value as predating a disconnect. The value
// itself is retained. No-op when there is no cached value or it is already
// stale.
func (m *Model) MarkStale() {
	m.mu.Lock()
	if !m.valid || m.stale {
		m.mu.Unlock()
		return
	}
	m.stale = true
	snapshot := Snapshot{Status: m.status, Stale: true}
	subs := m.subscribersLocked()
	m.mu.Unlock()

	m.logger.Debug("Mower status marked stale")
	for _, fn := range subs {
		fn(snapshot)
	}
}

// Current returns the last known status synchronously. ok is false until
// the first telemetry frame has been decoded.
func (m *Model) Current() (status Status, ok bool, stale bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.valid, m.stale
}

// Subscribe registers an observer for status changes and staleness
// transitions. The returned function removes the observer.
func (m *Model) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// subscribersLocked snapshots the observer list; callbacks run outside the
// lock.
func (m *Model) subscribersLocked() []func(Snapshot) {
	out := make([]func(Snapshot), 0, len(m.subs))
	for _, fn := range m.subs {
		out = append(out, fn)
	}
	return out
}
