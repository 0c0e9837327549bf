// Package mower holds the device state model: the decoded telemetry
// snapshot and the observable cache of the latest one.
package mower

import "time"

// Mode is the mower's configured mode of operation.
type Mode uint8

const (
	ModeAuto Mode = iota
	ModeManual
	ModeHome
	ModeDemo
)

func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeManual:
		return "manual"
	case ModeHome:
		return "home"
	case ModeDemo:
		return "demo"
	default:
		return "unknown"
	}
}

// Activity is what the mower is physically doing right now.
type Activity uint8

const (
	ActivityNone Activity = iota
	ActivityCharging
	ActivityGoingOut
	ActivityMowing
	ActivityGoingHome
	ActivityParked
	ActivityStoppedInGarden
)

func (a Activity) String() string {
	switch a {
	case ActivityNone:
		return "none"
	case ActivityCharging:
		return "charging"
	case ActivityGoingOut:
		return "going_out"
	case ActivityMowing:
		return "mowing"
	case ActivityGoingHome:
		return "going_home"
	case ActivityParked:
		return "parked"
	case ActivityStoppedInGarden:
		return "stopped_in_garden"
	default:
		return "unknown"
	}
}

// OpState is the mower's operational state machine position.
type OpState uint8

const (
	OpOff OpState = iota
	OpWaitForSafetyPIN
	OpStopped
	OpRestricted
	OpPendingStart
	OpInOperation
	OpPaused
	OpError
)

func (s OpState) String() string {
	switch s {
	case OpOff:
		return "off"
	case OpWaitForSafetyPIN:
		return "wait_for_safety_pin"
	case OpStopped:
		return "stopped"
	case OpRestricted:
		return "restricted"
	case OpPendingStart:
		return "pending_start"
	case OpInOperation:
		return "in_operation"
	case OpPaused:
		return "paused"
	case OpError:
		return "error"
	default:
		return "unknown"
	}
}

// Status is one decoded telemetry snapshot. Each successful decode replaces
// the previous snapshot wholesale; fields are never merged, so a Status is
// always internally consistent.
type Status struct {
	Battery  uint8 // percent, 0-100
	Charging bool
	Mode     Mode
	Activity Activity
	State    OpState

	// ErrorCode is nil when the mower reports no error.
	ErrorCode *uint8

	// NextStart is the next scheduled start, normalized to absolute wall
	// time regardless of how the firmware reported it. Nil when nothing
	// is scheduled.
	NextStart *time.Time

	// Cumulative lifetime counters.
	TotalRunning  time.Duration
	TotalCutting  time.Duration
	TotalCharging time.Duration

	// ReceivedAt is when the snapshot was decoded.
	ReceivedAt time.Time
}
