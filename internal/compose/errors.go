package compose

import (
	"errors"
	"fmt"
)

// inputError rejects malformed compositing input before any pixel work.
type inputError struct{ msg string }

func (e inputError) Error() string { return "invalid compositing input: " + e.msg }

// ErrInput constructs an inputError.
func ErrInput(format string, args ...any) error {
	return inputError{msg: fmt.Sprintf(format, args...)}
}

// IsInput reports whether err indicates malformed compositing input, anywhere
// in its wrap chain.
func IsInput(err error) bool {
	var e inputError
	return errors.As(err, &e)
}

// compositingError signals that both the offload and the fallback path
// failed; only then does a failure surface to the caller.
type compositingError struct{ err error }

func (e compositingError) Error() string { return "compositing failed: " + e.err.Error() }
func (e compositingError) Unwrap() error { return e.err }

// ErrCompositing constructs a compositingError.
func ErrCompositing(err error) error { return compositingError{err: err} }

// IsCompositing reports whether err indicates a compositing failure, anywhere
// in its wrap chain.
func IsCompositing(err error) bool {
	var e compositingError
	return errors.As(err, &e)
}
