package metadata

import "errors"

// StoreError represents a domain error from store operations.
//
// These are business logic errors (record not found, invalid argument) or
// persistence failures, as opposed to infrastructure errors higher layers
// translate to their own taxonomies.
type StoreError struct {
	// Code is the error category.
	Code ErrorCode

	// Message is a human-readable error description.
	Message string

	// Path is the serverUrl or OcID related to the error, if applicable.
	Path string
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Path != "" {
		return e.Message + ": " + e.Path
	}
	return e.Message
}

// ErrorCode represents the category of a store error.
type ErrorCode int

const (
	// ErrNotFound indicates the requested record doesn't exist.
	ErrNotFound ErrorCode = iota

	// ErrAlreadyExists indicates a record with the same key already exists.
	ErrAlreadyExists

	// ErrInvalidArgument indicates invalid parameters were provided.
	// Examples: empty account, empty OcID.
	ErrInvalidArgument

	// ErrWriteFailure indicates the storage engine could not commit a write.
	// A failed write leaves prior state unchanged; the store performs no
	// partial commits.
	ErrWriteFailure
)

// NotFound builds a StoreError with code ErrNotFound.
func NotFound(message, path string) *StoreError {
	return &StoreError{Code: ErrNotFound, Message: message, Path: path}
}

// InvalidArgument builds a StoreError with code ErrInvalidArgument.
func InvalidArgument(message string) *StoreError {
	return &StoreError{Code: ErrInvalidArgument, Message: message}
}

// WriteFailure builds a StoreError with code ErrWriteFailure.
func WriteFailure(message, path string) *StoreError {
	return &StoreError{Code: ErrWriteFailure, Message: message, Path: path}
}

// IsNotFound reports whether err is a StoreError with code ErrNotFound.
func IsNotFound(err error) bool {
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return storeErr.Code == ErrNotFound
	}
	return false
}

// IsWriteFailure reports whether err is a StoreError with code ErrWriteFailure.
func IsWriteFailure(err error) bool {
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return storeErr.Code == ErrWriteFailure
	}
	return false
}
