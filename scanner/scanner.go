// Package scanner discovers nearby mowers by matching advertisement
// service UUIDs against the registered device profiles.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/robomow/amble/internal/transport"
	"github.com/robomow/amble/internal/wire"
)

// ProgressCallback is called when the scan phase changes.
type ProgressCallback func(phase string)

// EventType marks whether the device was newly discovered or updated.
type EventType int

const (
	EventNew EventType = iota
	EventUpdated
)

// Device is a discovered mower candidate.
type Device struct {
	Address string
	Name    string
	// Profile is the name of the device profile whose service UUID the
	// advertisement carried; empty when scanning unfiltered.
	Profile          string
	RSSI             int
	Connectable      bool
	ManufacturerData []byte
	FirstSeen        time.Time
	LastSeen         time.Time
	Advertisements   int
}

// Event reports a discovery to a live observer.
type Event struct {
	Type   EventType
	Device Device
}

// Options configures scanning behavior.
type Options struct {
	Duration        time.Duration
	DuplicateFilter bool
	// Profiles restricts results to devices advertising one of these
	// profiles' service UUIDs. Empty means all registered profiles.
	Profiles []*wire.Profile
	// AllDevices disables profile filtering entirely.
	AllDevices bool
	AllowList  []string
	BlockList  []string
}

// DefaultOptions returns default scanning options.
func DefaultOptions() *Options {
	return &Options{
		Duration:        10 * time.Second,
		DuplicateFilter: false,
	}
}

type record struct {
	mu  sync.Mutex
	dev Device
}

// Scanner drives BLE discovery over a transport.
type Scanner struct {
	transport transport.Transport
	logger    *logrus.Logger

	devices *hashmap.Map[string, *record]
	opts    *Options
	// serviceToProfile maps normalized service UUIDs to profile names
	// for the duration of one scan.
	serviceToProfile map[string]string
	onEvent          func(Event)
}

// New creates a scanner on top of the given transport.
func New(t transport.Transport, logger *logrus.Logger) (*Scanner, error) {
	if t == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{
		transport: t,
		logger:    logger,
	}, nil
}

// Scan performs discovery for opts.Duration and returns the matching
// devices sorted by signal strength. onEvent, when non-nil, receives live
// discovery events from the transport's callback goroutine.
func (s *Scanner) Scan(ctx context.Context, opts *Options, onEvent func(Event), progress ProgressCallback) ([]Device, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if progress == nil {
		progress = func(string) {}
	}

	s.devices = hashmap.New[string, *record]()
	s.opts = opts
	s.onEvent = onEvent
	s.serviceToProfile = buildServiceIndex(opts)
	defer func() {
		s.opts = nil
		s.onEvent = nil
		s.serviceToProfile = nil
	}()

	s.logger.WithFields(logrus.Fields{
		"duration": opts.Duration,
		"profiles": len(s.serviceToProfile),
	}).Info("Starting mower discovery")
	progress("Scanning")

	scanCtx := ctx
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	err := s.transport.Scan(scanCtx, !opts.DuplicateFilter, s.handleAdvertisement)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	progress("Processing results")

	devices := make([]Device, 0, s.devices.Len())
	s.devices.Range(func(_ string, r *record) bool {
		r.mu.Lock()
		devices = append(devices, r.dev)
		r.mu.Unlock()
		return true
	})
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].RSSI > devices[j].RSSI
	})

	s.logger.WithField("device_count", len(devices)).Info("Mower discovery completed")
	return devices, nil
}

// handleAdvertisement updates an existing record or admits a new device.
func (s *Scanner) handleAdvertisement(adv transport.Advertisement) {
	addr := adv.Addr()

	r, existing := s.devices.Get(addr)
	if !existing {
		profile, ok := s.matchProfile(adv)
		if !ok {
			return
		}
		now := time.Now()
		fresh := &record{dev: Device{
			Address:          addr,
			Name:             adv.LocalName(),
			Profile:          profile,
			RSSI:             adv.RSSI(),
			Connectable:      adv.Connectable(),
			ManufacturerData: append([]byte(nil), adv.ManufacturerData()...),
			FirstSeen:        now,
			LastSeen:         now,
			Advertisements:   1,
		}}
		r, existing = s.devices.GetOrInsert(addr, fresh)
	}

	if existing {
		r.mu.Lock()
		if name := adv.LocalName(); name != "" {
			r.dev.Name = name
		}
		r.dev.RSSI = adv.RSSI()
		r.dev.LastSeen = time.Now()
		r.dev.Advertisements++
		dev := r.dev
		r.mu.Unlock()
		s.emit(Event{Type: EventUpdated, Device: dev})
		return
	}

	r.mu.Lock()
	dev := r.dev
	r.mu.Unlock()
	s.logger.WithFields(logrus.Fields{
		"device":  dev.Name,
		"address": dev.Address,
		"profile": dev.Profile,
		"rssi":    dev.RSSI,
	}).Info("Discovered mower")
	s.emit(Event{Type: EventNew, Device: dev})
}

func (s *Scanner) emit(e Event) {
	if s.onEvent != nil {
		s.onEvent(e)
	}
}

// matchProfile applies allow/block lists and profile filtering. The
// returned name identifies the matched profile, empty when filtering is
// disabled.
func (s *Scanner) matchProfile(adv transport.Advertisement) (string, bool) {
	addr := adv.Addr()

	for _, blocked := range s.opts.BlockList {
		if addr == blocked {
			return "", false
		}
	}
	if len(s.opts.AllowList) > 0 {
		allowed := false
		for _, a := range s.opts.AllowList {
			if addr == a {
				allowed = true
				break
			}
		}
		if !allowed {
			return "", false
		}
	}

	if s.opts.AllDevices {
		return "", true
	}

	for _, svc := range adv.Services() {
		if name, ok := s.serviceToProfile[transport.NormalizeUUID(svc)]; ok {
			return name, true
		}
	}
	return "", false
}

func buildServiceIndex(opts *Options) map[string]string {
	profiles := opts.Profiles
	if len(profiles) == 0 {
		profiles = wire.Profiles()
	}
	index := make(map[string]string, len(profiles))
	for _, p := range profiles {
		index[transport.NormalizeUUID(p.ServiceUUID)] = p.Name
	}
	return index
}
