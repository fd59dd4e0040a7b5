// Package errors defines the error taxonomy shared by every core package.
// Errors never cross the core boundary as panics — every exported
// operation returns (ok, message) or (result, error), the error being a
// Kind-tagged *CoreError; lock denials for deadlock or a full waiter queue
// also carry one of the sentinels below as their cause. Callers switch on
// Kind rather than matching message strings.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies an error by what went wrong, not where.
type Kind int

const (
	KindInvalidName Kind = iota
	KindNotFound
	KindAlreadyExists
	KindParseError
	KindValidationError
	KindLockDenied
	KindTransactionState
	KindIOError
	KindBatchError
)

func (k Kind) String() string {
	switch k {
	case KindInvalidName:
		return "InvalidName"
	case KindNotFound:
		return "NotFound"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindParseError:
		return "ParseError"
	case KindValidationError:
		return "ValidationError"
	case KindLockDenied:
		return "LockDenied"
	case KindTransactionState:
		return "TransactionState"
	case KindIOError:
		return "IOError"
	case KindBatchError:
		return "BatchError"
	default:
		return "Unknown"
	}
}

// CoreError pairs a Kind with a human-readable message. It is the concrete
// type every public operation returns on failure.
type CoreError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *CoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CoreError) Unwrap() error { return e.Cause }

// New builds a CoreError with no underlying cause.
func New(kind Kind, message string) *CoreError {
	return &CoreError{Kind: kind, Message: message}
}

// Wrap builds a CoreError carrying an underlying cause (e.g. an os.*
// error) alongside the kind-specific message.
func Wrap(kind Kind, message string, cause error) *CoreError {
	return &CoreError{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the Kind of err if it is (or wraps) a *CoreError, and
// false otherwise.
func KindOf(err error) (Kind, bool) {
	var ce *CoreError
	if stderrors.As(err, &ce) {
		return ce.Kind, true
	}
	return 0, false
}

// Is reports whether err is a CoreError of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Sentinel deadlock/timeout sub-reasons for LockDenied, matched against
// with errors.Is against the returned CoreError's Cause.
var (
	// ErrDeadlock is the cause of a LockDenied error raised when granting
	// a lock would close a cycle in the wait-for graph.
	ErrDeadlock = stderrors.New("deadlock detected")

	// ErrWaitingQueueFull is the cause of a LockDenied error raised when a
	// waiter queue cannot accept another entry.
	ErrWaitingQueueFull = stderrors.New("waiting queue full")

	// ErrLockTimeout names a queued waiter aged past lock_timeout. No
	// package returns it: the lock manager drops such waiters silently
	// when the lock is released.
	ErrLockTimeout = stderrors.New("lock wait timed out")
)
