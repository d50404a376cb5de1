package backend

import "errors"

// generationError is a failed generation call. The orchestrator shows it to
// the user and leaves the editor text unchanged.
type generationError struct {
	msg string
	err error
}

func (e generationError) Error() string {
	switch {
	case e.err == nil:
		return "backend: " + e.msg
	case e.msg == "":
		return "backend: " + e.err.Error()
	}
	return "backend: " + e.msg + ": " + e.err.Error()
}

func (e generationError) Unwrap() error { return e.err }

// NewError wraps a generation failure.
func NewError(msg string, err error) error { return generationError{msg: msg, err: err} }

// IsBackendError reports whether err is a generation failure.
func IsBackendError(err error) bool {
	var ge generationError
	return errors.As(err, &ge)
}

// dependencyUnavailableError signals a backend that cannot be loaded in this
// build or configuration (e.g. llama without the build tag).
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var de dependencyUnavailableError
	return errors.As(err, &de)
}
