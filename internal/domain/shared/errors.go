// Package shared contains the error taxonomy used across the diary client.
// This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base error kinds that can be checked with errors.Is().
var (
	// ErrTransport marks a failed call to the diary service: a non-2xx
	// response, a network failure, or an exhausted re-authentication.
	ErrTransport = errors.New("transport error")

	// ErrAuthExpired marks a response that says the session is no longer valid.
	ErrAuthExpired = errors.New("authentication expired")

	// ErrMalformedResponse marks a response that lacks the fields we expect.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrNoCredentials is returned when a re-login is needed but no
	// username/password digest is known.
	ErrNoCredentials = errors.New("no stored credentials")

	// ErrNotFound marks a missing entity (e.g. no persisted snapshot yet).
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidInput marks invalid arguments.
	ErrInvalidInput = errors.New("invalid input")
)

// DomainError represents an error with the component and operation it came from.
type DomainError struct {
	Domain  string // e.g. "eschool", "snapshot"
	Op      string // operation that failed
	Kind    error  // base error kind for errors.Is()
	Message string // human-readable message
	Err     error  // underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching against both the kind and the cause.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Malformed builds an ErrMalformedResponse for the given accessor.
func Malformed(op, message string) *DomainError {
	return NewDomainError("eschool", op, ErrMalformedResponse, message)
}

// IsAuthExpired checks if the error is an authentication-expired error.
func IsAuthExpired(err error) bool {
	return errors.Is(err, ErrAuthExpired)
}

// IsTransport checks if the error is a transport error.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

// IsMalformed checks if the error is a malformed response error.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedResponse)
}

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
