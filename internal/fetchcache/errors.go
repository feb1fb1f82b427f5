package fetchcache

import (
	"errors"
	"fmt"
)

// transferError signals a network/stream failure while fetching an artifact.
// The failed URL's in-flight entry is cleared so a later request may retry.
type transferError struct {
	url string
	err error
}

func (e transferError) Error() string {
	return fmt.Sprintf("artifact transfer failed: %s: %v", e.url, e.err)
}

func (e transferError) Unwrap() error { return e.err }

// ErrTransfer constructs a transferError.
func ErrTransfer(url string, err error) error { return transferError{url: url, err: err} }

// IsTransfer reports whether err indicates an artifact transfer failure,
// anywhere in its wrap chain.
func IsTransfer(err error) bool {
	var e transferError
	return errors.As(err, &e)
}
