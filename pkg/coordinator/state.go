package coordinator

// State is the coordinator lifecycle. A stopped coordinator cannot be
// restarted.
type State int32

const (
	StateInit State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Outcome is what happened to one inbound message.
type Outcome int

const (
	OutcomeEchoed Outcome = iota
	OutcomeAttack
	OutcomeDroppedBlacklisted
	OutcomeDroppedCapacity
)

const outcomeInboxFull = "dropped_inbox_full"

func (o Outcome) String() string {
	switch o {
	case OutcomeEchoed:
		return "echoed"
	case OutcomeAttack:
		return "attack"
	case OutcomeDroppedBlacklisted:
		return "dropped_blacklisted"
	case OutcomeDroppedCapacity:
		return "dropped_capacity"
	default:
		return "unknown"
	}
}
