package scanner

import (
	"errors"
	"fmt"
)

// State is the controller's session state.
type State int

const (
	// StateIdle means no session is open and the buffer is empty.
	StateIdle State = iota
	// StateBuffering means a session is open with at least one key.
	StateBuffering
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuffering:
		return "buffering"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Event drives a state transition.
type Event int

const (
	// EventKeystroke is a printable key accepted by the focus filter.
	EventKeystroke Event = iota
	// EventTerminator is an Enter or Tab that ends the burst.
	EventTerminator
	// EventTimeoutFired is the end-of-burst inactivity timer.
	EventTimeoutFired
)

// String returns the event name.
func (e Event) String() string {
	switch e {
	case EventKeystroke:
		return "keystroke"
	case EventTerminator:
		return "terminator"
	case EventTimeoutFired:
		return "timeout"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// ErrInvalidTransition is returned for an event the current state does not
// accept. A timeout firing in Idle is the common case: the timer was
// cancelled after it had already been queued.
var ErrInvalidTransition = errors.New("invalid state transition")

// transitions is the full table. A terminator in Idle is allowed so an
// Enter with nothing buffered finalizes an empty buffer and is rejected.
var transitions = map[State]map[Event]State{
	StateIdle: {
		EventKeystroke:  StateBuffering,
		EventTerminator: StateIdle,
	},
	StateBuffering: {
		EventKeystroke:    StateBuffering,
		EventTerminator:   StateIdle,
		EventTimeoutFired: StateIdle,
	},
}

// CanTransition reports whether ev is accepted in from.
func CanTransition(from State, ev Event) bool {
	_, ok := transitions[from][ev]
	return ok
}

// Next returns the state after ev.
func Next(from State, ev Event) (State, error) {
	to, ok := transitions[from][ev]
	if !ok {
		return from, fmt.Errorf("%w: %s in %s", ErrInvalidTransition, ev, from)
	}
	return to, nil
}

