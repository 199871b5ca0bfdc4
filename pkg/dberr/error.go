package dberr

import (
	"fmt"
	"runtime"
	"strings"
)

// Kind enumerates the fixed set of conditions the lock manager reports as
// errors. Unlike a general-purpose database error type carrying an
// open-ended string code, the manager only ever raises one of these five
// things, so Kind is closed and typed rather than stringly extensible.
type Kind string

const (
	// KindTxnAborted reports that the caller's transaction was already
	// aborted when the request reached the manager.
	KindTxnAborted Kind = "TXN_ABORTED"

	// KindTxnTimedOut reports that the manager decided the caller must
	// abort, either because a prior timeout was observed or because
	// granting the request would introduce a deadlock.
	KindTxnTimedOut Kind = "TXN_TIMED_OUT"

	// KindInvariantViolation reports an impossible state: an unlock of an
	// unknown resource, an incompatible holder set discovered during
	// max-mode recomputation, or a request missing from an expected
	// queue.
	KindInvariantViolation Kind = "INVARIANT_VIOLATION"

	// KindInterrupted reports that a blocking wait was interrupted by
	// context cancellation before the request could be granted or
	// refused.
	KindInterrupted Kind = "INTERRUPTED"

	// KindAlreadyStarted reports a second Start call on a Manager that is
	// already running.
	KindAlreadyStarted Kind = "ALREADY_STARTED"
)

// Retryable reports whether a caller might reasonably retry after seeing
// this kind of error. An aborted or timed-out transaction is expected to
// be retried fresh by the caller, and an interrupted wait may succeed if
// retried with a live context. An invariant violation or a double Start
// never will - both point at a programming error, not a transient state.
func (k Kind) Retryable() bool {
	switch k {
	case KindTxnAborted, KindTxnTimedOut, KindInterrupted:
		return true
	default:
		return false
	}
}

// component identifies the lock manager as the sole origin of every
// LockError; there is no second component to distinguish it from.
const component = "lockmgr"

// LockError is the lock manager's only error type. Every error it returns
// is a *LockError distinguished by Kind, rather than an open-ended set of
// error types spread across the codebase.
type LockError struct {
	// Kind identifies which of the fixed error conditions this is.
	Kind Kind

	// Message is a human-readable description of what went wrong.
	Message string

	// Detail provides additional context about the specific instance,
	// e.g. which resource or wait-for cycle was involved.
	Detail string

	// Operation identifies the manager method that was being performed,
	// e.g. "Lock", "Unlock", "ReleaseLocks".
	Operation string

	// Cause is the underlying error that triggered this one, if any -
	// set only by Interrupted, wrapping the context error.
	Cause error

	// Stack contains the call stack where this error was created.
	Stack []uintptr
}

// newError builds a LockError of the given kind, capturing the current
// stack. Callers in lock_errors.go fill in Detail and Cause afterward
// where relevant.
func newError(kind Kind, operation, message string) *LockError {
	return &LockError{
		Kind:      kind,
		Message:   message,
		Operation: operation,
		Stack:     captureStack(),
	}
}

// captureStack captures the current call stack for debugging purposes.
// It skips the first 3 frames (runtime.Callers, captureStack, and
// newError), so the trace starts at the constructor that called newError.
func captureStack() []uintptr {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	return pcs[0:n]
}

// Error implements the standard Go error interface.
//
// The format follows the pattern:
// [KIND] Message: Detail (component: lockmgr, operation: Operation) caused by: underlying error
func (e *LockError) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.Kind, e.Message))

	if e.Detail != "" {
		b.WriteString(fmt.Sprintf(": %s", e.Detail))
	}

	if e.Operation != "" {
		b.WriteString(fmt.Sprintf(" (component: %s, operation: %s)", component, e.Operation))
	}

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(" caused by: %v", e.Cause))
	}

	return b.String()
}

// Unwrap returns the underlying cause error, enabling error chain
// traversal with Go's standard error handling functions like errors.Is
// and errors.As.
func (e *LockError) Unwrap() error {
	return e.Cause
}

// FormatStack returns a human-readable stack trace for debugging purposes.
func (e *LockError) FormatStack() string {
	if len(e.Stack) == 0 {
		return ""
	}

	var b strings.Builder
	frames := runtime.CallersFrames(e.Stack)

	b.WriteString("Stack trace:\n")
	for {
		f, more := frames.Next()
		b.WriteString(fmt.Sprintf("  %s\n    %s:%d\n",
			f.Function, f.File, f.Line))
		if !more {
			break
		}
	}

	return b.String()
}
