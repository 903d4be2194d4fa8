package remote

import "errors"

// Error represents a failed remote operation.
type Error struct {
	// Code is the error category.
	Code ErrorCode

	// Message is a human-readable error description.
	Message string

	// Path is the server URL the operation targeted, if applicable.
	Path string

	// StatusCode is the HTTP status returned by the server, or 0 when the
	// request never reached it.
	StatusCode int
}

func (e *Error) Error() string {
	if e.Path != "" {
		return e.Message + ": " + e.Path
	}
	return e.Message
}

// ErrorCode represents the category of a remote error.
type ErrorCode int

const (
	// ErrUnavailable indicates the server could not be reached or answered
	// with an unexpected status. Transient by nature; callers degrade to
	// cached state rather than failing hard.
	ErrUnavailable ErrorCode = iota

	// ErrNotFound indicates the resource does not exist on the server.
	ErrNotFound

	// ErrUnauthorized indicates the credentials were rejected.
	ErrUnauthorized
)

// Unavailable builds an Error with code ErrUnavailable.
func Unavailable(message, path string) *Error {
	return &Error{Code: ErrUnavailable, Message: message, Path: path}
}

// NotFound builds an Error with code ErrNotFound.
func NotFound(message, path string) *Error {
	return &Error{Code: ErrNotFound, Message: message, Path: path}
}

// Unauthorized builds an Error with code ErrUnauthorized.
func Unauthorized(message, path string) *Error {
	return &Error{Code: ErrUnauthorized, Message: message, Path: path}
}

// IsNotFound reports whether err is a remote Error with code ErrNotFound.
func IsNotFound(err error) bool {
	var remoteErr *Error
	if errors.As(err, &remoteErr) {
		return remoteErr.Code == ErrNotFound
	}
	return false
}

// IsUnavailable reports whether err is a remote Error with code
// ErrUnavailable.
func IsUnavailable(err error) bool {
	var remoteErr *Error
	if errors.As(err, &remoteErr) {
		return remoteErr.Code == ErrUnavailable
	}
	return false
}

// IsUnauthorized reports whether err is a remote Error with code
// ErrUnauthorized.
func IsUnauthorized(err error) bool {
	var remoteErr *Error
	if errors.As(err, &remoteErr) {
		return remoteErr.Code == ErrUnauthorized
	}
	return false
}
