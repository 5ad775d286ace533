package protocol

import "fmt"

// State is the driver's protocol state. StateUnknown is the only initial state;
// there is no terminal state, the driver runs until torn down externally.
type State int

const (
	StateUnknown State = iota
	StateCommand
	StateAutosample
	StateAcquiringSample // transient, returns to StateCommand on its own
	StateDirectAccess
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateUnknown:
		return "UNKNOWN"
	case StateCommand:
		return "COMMAND"
	case StateAutosample:
		return "AUTOSAMPLE"
	case StateAcquiringSample:
		return "ACQUIRING_SAMPLE"
	case StateDirectAccess:
		return "DIRECT_ACCESS"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Event is a driver event routed through the state transition table.
type Event int

const (
	EventDiscover Event = iota
	EventSet
	EventStartAutosample
	EventStopAutosample
	EventClockSync
	EventAcquireStatus
	EventAcquireSample
	EventStartDirect
	EventExecuteDirect
	EventStopDirect
)

// String implements fmt.Stringer.
func (e Event) String() string {
	switch e {
	case EventDiscover:
		return "DISCOVER"
	case EventSet:
		return "SET"
	case EventStartAutosample:
		return "START_AUTOSAMPLE"
	case EventStopAutosample:
		return "STOP_AUTOSAMPLE"
	case EventClockSync:
		return "CLOCK_SYNC"
	case EventAcquireStatus:
		return "ACQUIRE_STATUS"
	case EventAcquireSample:
		return "ACQUIRE_SAMPLE"
	case EventStartDirect:
		return "START_DIRECT"
	case EventExecuteDirect:
		return "EXECUTE_DIRECT"
	case EventStopDirect:
		return "STOP_DIRECT"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// handlerFunc runs one (state, event) pair. It returns the next state (the
// current state when no transition happens) and any result payload.
type handlerFunc func(arg interface{}) (State, interface{}, error)

// fsm is a table-driven state machine: handlers are keyed by (state, event),
// and each state may carry enter/exit hooks that fire on transitions.
type fsm struct {
	state    State
	handlers map[State]map[Event]handlerFunc
	onEnter  map[State]func()
	onExit   map[State]func()
}

func newFSM(initial State) *fsm {
	return &fsm{
		state:    initial,
		handlers: make(map[State]map[Event]handlerFunc),
		onEnter:  make(map[State]func()),
		onExit:   make(map[State]func()),
	}
}

func (f *fsm) handle(s State, e Event, h handlerFunc) {
	if f.handlers[s] == nil {
		f.handlers[s] = make(map[Event]handlerFunc)
	}
	f.handlers[s][e] = h
}

// dispatch routes an event through the table. An event with no handler in
// the current state is a StateError. The handler's returned state is honored
// even when it also returns an error: a failed operation can still have
// moved the device, and the machine must track where it actually ended up.
func (f *fsm) dispatch(e Event, arg interface{}) (interface{}, error) {
	h, ok := f.handlers[f.state][e]
	if !ok {
		return nil, &StateError{Detail: fmt.Sprintf("event %s not handled in state %s", e, f.state)}
	}
	next, result, err := h(arg)
	f.transition(next)
	return result, err
}

// transition moves the machine to next, firing exit and enter hooks. Moving
// to the current state is a no-op.
func (f *fsm) transition(next State) {
	if next == f.state {
		return
	}
	if exit := f.onExit[f.state]; exit != nil {
		exit()
	}
	f.state = next
	if enter := f.onEnter[next]; enter != nil {
		enter()
	}
}
