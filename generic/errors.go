/*
errors.go - Centralized error kinds for the workflow core

PURPOSE:
  All failure kinds in one place for consistency and discoverability.
  Every precondition failure in the time-off engine and the chat
  side-channel is one of these kinds, and the HTTP layer maps each kind to
  a distinct, stable, machine-readable code.

ERROR KINDS:
  InvalidInput           missing dates, short reason, unknown action
  NotFound               request (or user) id does not exist
  DateConflict           overlap with an approved request of the same user
  AlreadyProcessed       approve/reject on a non-pending request
  InsufficientPermission approver outside hierarchy / canceller not a party
  CannotCancelRejected   cancel on a rejected request
  AlreadyCancelled       cancel on a cancelled request
  TooLateToCancel        < 24h before the earliest requested date
  StorageUnavailable     persistence failed or timed out (retryable)

USAGE:
  Sentinels work with errors.Is, structured errors carry the message:

    if errors.Is(err, generic.ErrDateConflict) { ... }

    return generic.Errorf(generic.KindNotFound, "request %s not found", id)

SEE ALSO:
  - api/errors.go: Kind to HTTP status and code mapping
  - timeoff/request.go: Produces these errors
*/
package generic

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// KINDS
// =============================================================================

// Kind classifies a failure. The string value is the wire code.
type Kind string

const (
	KindInvalidInput           Kind = "INVALID_INPUT"
	KindNotFound               Kind = "NOT_FOUND"
	KindDateConflict           Kind = "DATE_CONFLICT"
	KindAlreadyProcessed       Kind = "ALREADY_PROCESSED"
	KindInsufficientPermission Kind = "INSUFFICIENT_PERMISSION"
	KindCannotCancelRejected   Kind = "CANNOT_CANCEL_REJECTED"
	KindAlreadyCancelled       Kind = "ALREADY_CANCELLED"
	KindTooLateToCancel        Kind = "TOO_LATE_TO_CANCEL"
	KindStorageUnavailable     Kind = "STORAGE_UNAVAILABLE"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrNotFound               = errors.New("not found")
	ErrDateConflict           = errors.New("requested dates overlap approved time off")
	ErrAlreadyProcessed       = errors.New("request already processed")
	ErrInsufficientPermission = errors.New("insufficient permission")
	ErrCannotCancelRejected   = errors.New("rejected requests cannot be cancelled")
	ErrAlreadyCancelled       = errors.New("request already cancelled")
	ErrTooLateToCancel        = errors.New("too late to cancel")
	ErrStorageUnavailable     = errors.New("storage unavailable")

	// ErrConcurrentModification is returned by stores when a compare-and-swap
	// update finds the record changed since it was read.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

var sentinels = map[Kind]error{
	KindInvalidInput:           ErrInvalidInput,
	KindNotFound:               ErrNotFound,
	KindDateConflict:           ErrDateConflict,
	KindAlreadyProcessed:       ErrAlreadyProcessed,
	KindInsufficientPermission: ErrInsufficientPermission,
	KindCannotCancelRejected:   ErrCannotCancelRejected,
	KindAlreadyCancelled:       ErrAlreadyCancelled,
	KindTooLateToCancel:        ErrTooLateToCancel,
	KindStorageUnavailable:     ErrStorageUnavailable,
}

// Sentinel returns the sentinel error for a kind.
func (k Kind) Sentinel() error { return sentinels[k] }

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// Error is a classified failure with a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error // underlying cause, optional
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes both the kind sentinel and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	errs := []error{e.Kind.Sentinel()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Errorf builds a classified error.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Storage wraps a persistence failure as StorageUnavailable.
func Storage(op string, err error) *Error {
	return &Error{Kind: KindStorageUnavailable, Message: op, Err: err}
}

// DateConflictError lists the dates that collide with approved time off.
type DateConflictError struct {
	UserID EntityID
	Dates  []Date
}

func (e *DateConflictError) Error() string {
	return fmt.Sprintf("dates already approved for %s: %v", e.UserID, e.Dates)
}

func (e *DateConflictError) Unwrap() error { return ErrDateConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// KindOf classifies err. The second result is false when err carries no kind.
// Context deadlines and cancellations count as StorageUnavailable.
func KindOf(err error) (Kind, bool) {
	if err == nil {
		return "", false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	for kind, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return kind, true
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindStorageUnavailable, true
	}
	return "", false
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	kind, _ := KindOf(err)
	return kind == KindStorageUnavailable || errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to the caller's input or state.
func IsClientError(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind != KindStorageUnavailable
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
