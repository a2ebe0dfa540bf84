package manager

import "errors"

// tooBusyError signals that the engine slot could not be obtained in time (429).
type tooBusyError struct{ model string }

func (e tooBusyError) Error() string { return "too busy: " + e.model }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	var e tooBusyError
	return errors.As(err, &e)
}

// modelUnavailableError signals that the engine handle could not be constructed.
type modelUnavailableError struct {
	model string
	cause error
}

func (e modelUnavailableError) Error() string {
	if e.cause == nil {
		return "model unavailable: " + e.model
	}
	return "model unavailable: " + e.model + ": " + e.cause.Error()
}

func (e modelUnavailableError) Unwrap() error { return e.cause }

// ErrModelUnavailable constructs a modelUnavailableError.
func ErrModelUnavailable(model string, cause error) error {
	return modelUnavailableError{model: model, cause: cause}
}

// IsModelUnavailable reports whether err indicates a failed or refused load (return 503).
func IsModelUnavailable(err error) bool {
	var e modelUnavailableError
	return errors.As(err, &e)
}

// dependencyUnavailableError signals a missing external dependency (e.g., llama.cpp)
// so the HTTP layer can return 503 Service Unavailable instead of 500.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing/failed runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var e dependencyUnavailableError
	return errors.As(err, &e)
}

// ErrLeaseReleased is returned when Generate is called on a released lease.
var ErrLeaseReleased = errors.New("lease already released")
