package inference

import "errors"

// modelLoadError signals a collaborator initialization failure. The session
// manager invalidates its memoized session when it sees one.
type modelLoadError struct {
	modelID string
	err     error
}

func (e modelLoadError) Error() string { return "model load failed: " + e.modelID + ": " + e.err.Error() }
func (e modelLoadError) Unwrap() error { return e.err }

// ErrModelLoad constructs a modelLoadError.
func ErrModelLoad(modelID string, err error) error { return modelLoadError{modelID: modelID, err: err} }

// IsModelLoad reports whether err indicates a model initialization failure,
// anywhere in its wrap chain.
func IsModelLoad(err error) bool {
	var e modelLoadError
	return errors.As(err, &e)
}

// runtimeUnavailableError signals a missing inference runtime so the HTTP
// layer can return 503 Service Unavailable instead of 500.
type runtimeUnavailableError struct{ msg string }

func (e runtimeUnavailableError) Error() string { return e.msg }

// ErrRuntimeUnavailable constructs a runtimeUnavailableError.
func ErrRuntimeUnavailable(msg string) error { return runtimeUnavailableError{msg: msg} }

// IsRuntimeUnavailable reports whether err indicates a missing runtime,
// anywhere in its wrap chain.
func IsRuntimeUnavailable(err error) bool {
	var e runtimeUnavailableError
	return errors.As(err, &e)
}
