package provider

import "errors"

// Error represents a failed provider operation.
//
// The taxonomy is deliberately small: callers branch on five conditions and
// nothing else. Remote failures of every flavor fold into
// ErrServerUnreachable; the transport's finer distinctions are logged, not
// propagated.
type Error struct {
	Code    ErrorCode
	Message string
	Path    string
}

func (e *Error) Error() string {
	if e.Path != "" {
		return e.Message + ": " + e.Path
	}
	return e.Message
}

// ErrorCode represents the category of a provider error.
type ErrorCode int

const (
	// ErrNotFound indicates an identifier or parent could not be resolved
	// against local state.
	ErrNotFound ErrorCode = iota

	// ErrServerUnreachable indicates the remote call failed or returned a
	// non-success. Local state is unchanged.
	ErrServerUnreachable

	// ErrStoreWriteFailure indicates local persistence could not commit.
	// Fatal for the operation; not retried.
	ErrStoreWriteFailure

	// ErrUnauthenticated indicates no active account is bound to the
	// requesting context.
	ErrUnauthenticated

	// ErrInvalidArgument indicates a malformed identifier or page token.
	ErrInvalidArgument
)

func notFound(message, path string) *Error {
	return &Error{Code: ErrNotFound, Message: message, Path: path}
}

func serverUnreachable(message, path string) *Error {
	return &Error{Code: ErrServerUnreachable, Message: message, Path: path}
}

func storeWriteFailure(message, path string) *Error {
	return &Error{Code: ErrStoreWriteFailure, Message: message, Path: path}
}

func unauthenticated(message string) *Error {
	return &Error{Code: ErrUnauthenticated, Message: message}
}

func invalidArgument(message, path string) *Error {
	return &Error{Code: ErrInvalidArgument, Message: message, Path: path}
}

func is(err error, code ErrorCode) bool {
	var providerErr *Error
	if errors.As(err, &providerErr) {
		return providerErr.Code == code
	}
	return false
}

// IsNotFound reports whether err carries ErrNotFound.
func IsNotFound(err error) bool { return is(err, ErrNotFound) }

// IsServerUnreachable reports whether err carries ErrServerUnreachable.
func IsServerUnreachable(err error) bool { return is(err, ErrServerUnreachable) }

// IsStoreWriteFailure reports whether err carries ErrStoreWriteFailure.
func IsStoreWriteFailure(err error) bool { return is(err, ErrStoreWriteFailure) }

// IsUnauthenticated reports whether err carries ErrUnauthenticated.
func IsUnauthenticated(err error) bool { return is(err, ErrUnauthenticated) }

// IsInvalidArgument reports whether err carries ErrInvalidArgument.
func IsInvalidArgument(err error) bool { return is(err, ErrInvalidArgument) }
