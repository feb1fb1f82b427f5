package engine

import (
	"errors"
	"fmt"
)

// inputError covers unusable caller input (empty or undecodable source).
type inputError struct{ msg string }

func (e inputError) Error() string { return "invalid input: " + e.msg }

// ErrInput constructs an inputError.
func ErrInput(format string, args ...any) error {
	return inputError{msg: fmt.Sprintf(format, args...)}
}

// IsInput reports whether err indicates unusable caller input, anywhere in
// its wrap chain.
func IsInput(err error) bool {
	var e inputError
	return errors.As(err, &e)
}

// maskMismatchError signals a mask whose length does not cover the source
// dimensions. Raised before any pixel processing occurs.
type maskMismatchError struct {
	got, want int
}

func (e maskMismatchError) Error() string {
	return fmt.Sprintf("mask length %d does not match expected %d pixels", e.got, e.want)
}

// ErrMaskMismatch constructs a maskMismatchError.
func ErrMaskMismatch(got, want int) error { return maskMismatchError{got: got, want: want} }

// IsMaskMismatch reports whether err indicates a mask/source size mismatch,
// anywhere in its wrap chain.
func IsMaskMismatch(err error) bool {
	var e maskMismatchError
	return errors.As(err, &e)
}
