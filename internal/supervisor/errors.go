package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrWorkerStuck is returned after a timed-out request until Restart.
	ErrWorkerStuck = errors.New("worker is stuck after a timed out request; restart it")
	// ErrNotRunning is returned when no worker was started.
	ErrNotRunning = errors.New("worker not running")
	// ErrAlreadyRunning is returned by Start over a live worker.
	ErrAlreadyRunning = errors.New("worker already running")
	// ErrModelSwitchUnsupported is returned by SwitchModel without a ModelFlag.
	ErrModelSwitchUnsupported = errors.New("worker command has no model flag")
	// ErrBusy signals that the single in-flight slot stayed taken for too long.
	ErrBusy = errors.New("worker busy")
)

// timeoutError: no done before the caller's context ended, by deadline or
// by cancellation. Either way the worker is left mid-request.
type timeoutError struct {
	after time.Duration
	err   error
}

func (e timeoutError) Error() string {
	if errors.Is(e.err, context.Canceled) {
		return fmt.Sprintf("request cancelled by the caller after %s while the worker was busy", e.after.Round(time.Millisecond))
	}
	return fmt.Sprintf("worker did not answer within %s", e.after.Round(time.Millisecond))
}

func (e timeoutError) Unwrap() error { return e.err }

// IsWorkerTimeout reports whether a request timed out waiting for done.
func IsWorkerTimeout(err error) bool {
	var te timeoutError
	return errors.As(err, &te)
}

// startupError: the worker died or stayed silent before ready.
type startupError struct {
	reason string
	tail   string
	err    error
}

func (e startupError) Error() string {
	msg := "worker startup failed: " + e.reason
	if e.err != nil {
		msg += ": " + e.err.Error()
	}
	if e.tail != "" {
		msg += "; stderr tail: " + e.tail
	}
	return msg
}

func (e startupError) Unwrap() error { return e.err }

// IsWorkerStartup reports whether err is a failed Start.
func IsWorkerStartup(err error) bool {
	var se startupError
	return errors.As(err, &se)
}

// exitedError: the worker process is gone.
type exitedError struct {
	pid int
	err error
}

func (e exitedError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("worker pid %d exited: %v", e.pid, e.err)
	}
	return fmt.Sprintf("worker pid %d exited", e.pid)
}

func (e exitedError) Unwrap() error { return e.err }

// IsWorkerExited reports whether the worker process has exited.
func IsWorkerExited(err error) bool {
	var ee exitedError
	return errors.As(err, &ee)
}

// IsBusy reports admission backpressure.
func IsBusy(err error) bool { return errors.Is(err, ErrBusy) }

// IsStuck reports whether the worker must be restarted before use.
func IsStuck(err error) bool { return errors.Is(err, ErrWorkerStuck) }
