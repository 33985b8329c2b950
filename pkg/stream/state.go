package stream

import "github.com/processlens/backend/pkg/api"

type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateError        ConnState = "error"
)

type connEvent string

const (
	evDial     connEvent = "dial"
	evOpened   connEvent = "opened"
	evLost     connEvent = "lost"
	evGiveUp   connEvent = "giveup"
	evTerminal connEvent = "terminal"
	evReset    connEvent = "reset"
)

var transitions = map[ConnState]map[connEvent]ConnState{
	StateDisconnected: {
		evDial:   StateConnecting,
		evGiveUp: StateError,
		evReset:  StateDisconnected,
	},
	StateConnecting: {
		evOpened: StateConnected,
		evLost:   StateDisconnected,
		evGiveUp: StateError,
		evReset:  StateDisconnected,
	},
	StateConnected: {
		evLost:     StateDisconnected,
		evGiveUp:   StateError,
		evTerminal: StateDisconnected,
		evReset:    StateDisconnected,
	},
	StateError: {
		evDial:  StateConnecting,
		evReset: StateDisconnected,
	},
}

func nextState(from ConnState, ev connEvent) (ConnState, bool) {
	to, ok := transitions[from][ev]
	return to, ok
}

// Snapshot is what a consumer observes about one task stream.
type Snapshot struct {
	TaskID   string
	Conn     ConnState
	Status   api.TaskStatus
	Progress int
	Thoughts []api.Thought
	Results  *api.Results
	Error    string
	// Attempt is the reconnect attempt in flight, 0 while healthy.
	Attempt int
}

func (s Snapshot) clone() Snapshot {
	out := s
	if s.Thoughts != nil {
		out.Thoughts = make([]api.Thought, len(s.Thoughts))
		copy(out.Thoughts, s.Thoughts)
	}
	return out
}
