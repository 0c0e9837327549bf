package wire

// Command is an operator request the protocol can carry to the mower.
// The set is closed; each variant maps to a fixed byte payload defined by
// the active device profile.
type Command uint8

const (
	CommandStart Command = iota
	CommandPause
	CommandDock
	CommandParkIndefinitely
	CommandResumeSchedule
)

// Commands lists every variant in wire order. Profiles must define a
// payload for each.
var Commands = []Command{
	CommandStart,
	CommandPause,
	CommandDock,
	CommandParkIndefinitely,
	CommandResumeSchedule,
}

func (c Command) String() string {
	switch c {
	case CommandStart:
		return "start"
	case CommandPause:
		return "pause"
	case CommandDock:
		return "dock"
	case CommandParkIndefinitely:
		return "park"
	case CommandResumeSchedule:
		return "resume-schedule"
	default:
		return "invalid"
	}
}

// Idempotent reports whether re-sending the command after a missed ack is
// safe. Start and ResumeSchedule can double-trigger a state transition that
// already succeeded silently, so their retries must first consult the last
// known mower status.
func (c Command) Idempotent() bool {
	switch c {
	case CommandPause, CommandDock, CommandParkIndefinitely:
		return true
	default:
		return false
	}
}
