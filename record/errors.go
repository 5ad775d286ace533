package record

import (
	"errors"
	"fmt"
)

// ErrProtected is returned by Set when the target parameter is read-only, or
// immutable outside a startup context.
var ErrProtected = errors.New("parameter is protected")

// ErrUnknownField is returned by Get/Set for names the schema does not know.
var ErrUnknownField = errors.New("unknown parameter")

// FrameError reports a whole-record decode failure (wrong length, bad sync).
// It is distinct from a single field's decode failure, which is recovered
// locally and recorded in Decoded.FieldErrors.
type FrameError struct {
	Stream string
	Reason string
}

// Error implements the error interface.
func (e *FrameError) Error() string {
	return fmt.Sprintf("%s: bad frame: %s", e.Stream, e.Reason)
}
