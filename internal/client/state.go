package client

import "fmt"

// State is a connection's position in the handshake and session
// lifecycle. Denied and Disconnecting are terminal.
type State uint8

const (
	StateInvalid State = iota
	StateCreated
	StateHelloSent
	StateAwaitingInit2
	StateInitDone
	StateDefinitionsSent
	StateActive
	StateSudoMode
	StateDenied
	StateDisconnecting
)

var stateNames = [...]string{
	"Invalid",
	"Created",
	"HelloSent",
	"AwaitingInit2",
	"InitDone",
	"DefinitionsSent",
	"Active",
	"SudoMode",
	"Denied",
	"Disconnecting",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Terminal reports whether the state absorbs all further events.
func (s State) Terminal() bool {
	return s == StateDenied || s == StateDisconnecting
}

// StateEvent advances a client's State.
type StateEvent uint8

const (
	EventHello StateEvent = iota
	EventInitLegacy
	EventAuthAccept
	EventSetDenied
	EventGotInit2
	EventSetDefinitionsSent
	EventSetClientReady
	EventSudoSuccess
	EventSudoLeave
	EventDisconnect
)

var eventNames = [...]string{
	"Hello",
	"InitLegacy",
	"AuthAccept",
	"SetDenied",
	"GotInit2",
	"SetDefinitionsSent",
	"SetClientReady",
	"SudoSuccess",
	"SudoLeave",
	"Disconnect",
}

func (e StateEvent) String() string {
	if int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("StateEvent(%d)", uint8(e))
}

// InvalidTransitionError reports an event delivered in a state that
// defines no transition for it. It is fatal to the offending client
// only; the caller tears the connection down.
type InvalidTransitionError struct {
	State State
	Event StateEvent
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("client state %s has no transition for event %s", e.State, e.Event)
}

// nextState resolves one lifecycle step. releaseAuth reports that the
// step leaves a state that may hold credential material; the caller
// discards it then. On error the state is unchanged and nothing is
// released.
func nextState(s State, ev StateEvent) (next State, releaseAuth bool, err error) {
	// Terminal states and the zero value absorb everything.
	switch s {
	case StateInvalid, StateDenied, StateDisconnecting:
		return s, false, nil
	}

	// HelloSent holds the login verifier; Active may hold a pending
	// sudo verifier.
	held := s == StateHelloSent || s == StateActive

	switch ev {
	case EventDisconnect:
		return StateDisconnecting, held, nil
	case EventSetDenied:
		return StateDenied, held, nil
	}

	switch s {
	case StateCreated:
		switch ev {
		case EventHello:
			return StateHelloSent, false, nil
		case EventInitLegacy:
			return StateAwaitingInit2, false, nil
		}
	case StateHelloSent:
		if ev == EventAuthAccept {
			return StateAwaitingInit2, true, nil
		}
	case StateAwaitingInit2:
		if ev == EventGotInit2 {
			return StateInitDone, false, nil
		}
	case StateInitDone:
		if ev == EventSetDefinitionsSent {
			return StateDefinitionsSent, false, nil
		}
	case StateDefinitionsSent:
		if ev == EventSetClientReady {
			return StateActive, false, nil
		}
	case StateActive:
		if ev == EventSudoSuccess {
			return StateSudoMode, true, nil
		}
	case StateSudoMode:
		if ev == EventSudoLeave {
			return StateActive, false, nil
		}
	}
	return s, false, &InvalidTransitionError{State: s, Event: ev}
}
