// Package metrics instruments one mower session. The registry is never
// served by this module; embedders decide whether and how to expose it.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics collects per-session protocol counters.
type Metrics struct {
	commandsSent    *prometheus.CounterVec
	commandFailures *prometheus.CounterVec
	decodeErrors    prometheus.Counter
	reconnects      prometheus.Counter
	authFailures    prometheus.Counter
	statusUpdates   prometheus.Counter
	connectionState prometheus.Gauge
}

// New registers the session metrics with reg. The device address becomes a
// constant label so multiple sessions can share one registry.
func New(reg prometheus.Registerer, address string) *Metrics {
	constLabels := prometheus.Labels{"address": address}
	m := &Metrics{
		commandsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "amble_commands_sent_total",
			Help:        "Commands written to the command characteristic.",
			ConstLabels: constLabels,
		}, []string{"command"}),
		commandFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "amble_command_failures_total",
			Help:        "Commands that failed after exhausting retries.",
			ConstLabels: constLabels,
		}, []string{"command", "reason"}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "amble_decode_errors_total",
			Help:        "Malformed frames dropped by the codec.",
			ConstLabels: constLabels,
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "amble_reconnects_total",
			Help:        "Reconnection rounds entered after unexpected link loss.",
			ConstLabels: constLabels,
		}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "amble_auth_failures_total",
			Help:        "PIN handshakes that ended rejected or timed out.",
			ConstLabels: constLabels,
		}),
		statusUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "amble_status_updates_total",
			Help:        "Telemetry frames applied to the state model.",
			ConstLabels: constLabels,
		}),
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "amble_connection_state",
			Help:        "Session connection state as an enum value.",
			ConstLabels: constLabels,
		}),
	}

	reg.MustRegister(
		m.commandsSent,
		m.commandFailures,
		m.decodeErrors,
		m.reconnects,
		m.authFailures,
		m.statusUpdates,
		m.connectionState,
	)
	return m
}

// The increment helpers are nil-safe so sessions without a registry can
// skip instrumentation entirely.

func (m *Metrics) CommandSent(command string) {
	if m == nil {
		return
	}
	m.commandsSent.WithLabelValues(command).Inc()
}

func (m *Metrics) CommandFailed(command, reason string) {
	if m == nil {
		return
	}
	m.commandFailures.WithLabelValues(command, reason).Inc()
}

func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) AuthFailure() {
	if m == nil {
		return
	}
	m.authFailures.Inc()
}

func (m *Metrics) StatusUpdate() {
	if m == nil {
		return
	}
	m.statusUpdates.Inc()
}

func (m *Metrics) SetConnectionState(state int32) {
	if m == nil {
		return
	}
	m.connectionState.Set(float64(state))
}
