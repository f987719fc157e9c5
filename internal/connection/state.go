package connection

// State is one of the six Publisher Connection states (spec.md §4.G).
type State int

const (
	StateInit State = iota
	StateConnecting
	StateOpen
	StateBackoff
	StateDead
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateBackoff:
		return "backoff"
	case StateDead:
		return "dead"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	// baseReconnectDelaySeconds is the linear backoff unit (spec.md §4.G: "base 5s, linear").
	baseReconnectDelaySeconds = 5
	// maxReconnectAttempts bounds total unavailability per publisher (spec.md §8 property 9).
	maxReconnectAttempts = 10
)
