package payload

import "errors"

// readError reports an inaccessible channel on read. Callers usually absorb it.
type readError struct {
	path string
	err  error
}

func (e readError) Error() string { return "payload channel read " + e.path + ": " + e.err.Error() }
func (e readError) Unwrap() error { return e.err }

// writeError reports an inaccessible channel on write. It is fatal to the
// current request: the payload was not delivered.
type writeError struct {
	path string
	err  error
}

func (e writeError) Error() string { return "payload channel write " + e.path + ": " + e.err.Error() }
func (e writeError) Unwrap() error { return e.err }

// IsReadError reports whether err came from reading the channel.
func IsReadError(err error) bool {
	var re readError
	return errors.As(err, &re)
}

// IsWriteError reports whether err came from writing the channel.
func IsWriteError(err error) bool {
	var we writeError
	return errors.As(err, &we)
}
