package session

import (
	"errors"
	"fmt"
)

var (
	// ErrRemoteUnavailable means the assistant service could not be reached or refused the call.
	// The session is unchanged and the same call may be retried.
	ErrRemoteUnavailable = errors.New("assistant service unavailable")

	// ErrInvalidState means the operation is not allowed in the session's current state
	ErrInvalidState = errors.New("invalid session state")

	// ErrTimeout means a run did not finish within the poll policy or the caller's deadline.
	// The session stays awaiting; call AwaitCompletion or Finalize again.
	ErrTimeout = errors.New("timed out waiting for assistant")

	// ErrNoFinalAnswer means the finalize run finished without a reply satisfying the predicate
	ErrNoFinalAnswer = errors.New("no valid final answer")

	// ErrRunFailed means the run ended failed, cancelled or expired
	ErrRunFailed = fmt.Errorf("%w: run did not complete", ErrRemoteUnavailable)
)

// OpError records a failed session operation
type OpError struct {
	Op    string // open, submit, await, finalize, refresh
	State State  // state when the operation failed
	Kind  error  // one of the Err sentinels
	Err   error  // underlying cause, may be nil
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("session %s (%s): %v", e.Op, e.State, e.Kind)
	}
	return fmt.Sprintf("session %s (%s): %v: %v", e.Op, e.State, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As
func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsRetryable reports whether repeating the failed operation may succeed
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRemoteUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrNoFinalAnswer)
}

func opErr(op string, state State, kind, err error) error {
	if err == kind {
		err = nil
	}
	return &OpError{Op: op, State: state, Kind: kind, Err: err}
}
