package dberr

import "fmt"

// The lock manager surfaces exactly five error conditions. Each of these
// is a thin constructor over LockError so callers can type-switch on Kind
// or check Retryable, without the manager needing a family of distinct
// error types.

// TxnAborted reports that the caller's transaction was already aborted
// when the request reached the manager.
func TxnAborted(jobID int32, operation string) *LockError {
	return newError(KindTxnAborted, operation, fmt.Sprintf("job %d is already aborted", jobID))
}

// TxnTimedOut reports that the manager decided the caller must abort,
// either because a prior timeout was observed or because granting the
// request would introduce a deadlock.
func TxnTimedOut(jobID int32, operation, detail string) *LockError {
	err := newError(KindTxnTimedOut, operation, fmt.Sprintf("job %d timed out", jobID))
	err.Detail = detail
	return err
}

// InvariantViolation reports an impossible state: an unlock of an unknown
// resource, an incompatible holder set discovered during max-mode
// recomputation, or a request missing from an expected queue. These are
// unrecoverable programmer errors, not conditions a caller can retry past.
func InvariantViolation(operation, detail string) *LockError {
	err := newError(KindInvariantViolation, operation, "lock manager invariant violated")
	err.Detail = detail
	return err
}

// Interrupted reports that a blocking wait was interrupted by context
// cancellation before the request could be granted or refused.
func Interrupted(jobID int32, operation string, cause error) *LockError {
	err := newError(KindInterrupted, operation, fmt.Sprintf("wait interrupted for job %d", jobID))
	err.Cause = cause
	return err
}

// AlreadyStarted reports a second Start call on a Manager that is already
// running.
func AlreadyStarted() *LockError {
	return newError(KindAlreadyStarted, "Start", "lock manager already started")
}
