package protocol

import (
	"fmt"
	"time"
)

// TimeoutError reports that no recognizable response arrived within the
// command's wait. It cancels only the current wait; the caller decides
// between retry and fatal.
type TimeoutError struct {
	Op   string
	Wait time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: no response within %s", e.Op, e.Wait)
}

// ProtocolError reports a garbled or unrecognized instrument response; it is
// surfaced to the caller and never retried automatically.
type ProtocolError struct {
	Op     string
	Detail string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Detail)
}

// StateError is fatal: the device reported a mode the driver cannot operate
// in, or an event fired in a state that has no handler for it.
type StateError struct {
	Detail string
}

// Error implements the error interface.
func (e *StateError) Error() string {
	return "state error: " + e.Detail
}

// CommandError is fatal: a command completed on the wire but its verified
// outcome is wrong, such as a clock sync leaving the device outside the
// allowed drift.
type CommandError struct {
	Op     string
	Detail string
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Detail)
}
