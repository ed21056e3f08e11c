package peer

// State is a peer session's connection state.
type State string

const (
	StateNew          State = "new"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateFailed       State = "failed"
	StateClosed       State = "closed"
)

// Terminal states accept no further events.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

// Event is a transport-level connectivity change.
type Event string

const (
	EventConnecting   Event = "connecting"
	EventConnected    Event = "connected"
	EventDisconnected Event = "disconnected"
	EventFailed       Event = "failed"
	EventClosed       Event = "closed"
)

var (
	AllStates = []State{StateNew, StateConnecting, StateConnected, StateDisconnected, StateFailed, StateClosed}
	AllEvents = []Event{EventConnecting, EventConnected, EventDisconnected, EventFailed, EventClosed}
)

// Transition returns the state reached from s on e. It is defined for every
// pair; events that make no sense in s leave it unchanged.
func Transition(s State, e Event) State {
	switch s {
	case StateNew:
		switch e {
		case EventConnecting:
			return StateConnecting
		case EventConnected:
			return StateConnected
		case EventFailed:
			return StateFailed
		case EventClosed:
			return StateClosed
		}
	case StateConnecting:
		switch e {
		case EventConnected:
			return StateConnected
		case EventFailed:
			return StateFailed
		case EventClosed:
			return StateClosed
		}
	case StateConnected:
		switch e {
		case EventDisconnected:
			return StateDisconnected
		case EventFailed:
			return StateFailed
		case EventClosed:
			return StateClosed
		}
	case StateDisconnected:
		switch e {
		case EventConnecting:
			return StateConnecting
		case EventConnected:
			return StateConnected
		case EventFailed:
			return StateFailed
		case EventClosed:
			return StateClosed
		}
	}
	return s
}
