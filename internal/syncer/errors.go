package syncer

import (
	"errors"
	"fmt"
)

// ErrorClass buckets dispatch failures by how the engine reacts to them.
type ErrorClass int

const (
	// ClassTransient failures (timeouts, connection loss, 5xx) retry with
	// backoff up to the record's budget.
	ClassTransient ErrorClass = iota

	// ClassPermanent failures (non-auth 4xx) remove the record immediately;
	// retrying an invalid payload cannot succeed.
	ClassPermanent

	// ClassAuth failures (401/403) go through the token refresher once
	// before turning permanent.
	ClassAuth
)

// String returns a human-readable representation of the error class
func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	case ClassAuth:
		return "auth"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// DispatchError is a classified failure returned by remote clients. The
// status code is kept for logging; classification drives behavior.
type DispatchError struct {
	Class      ErrorClass
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("dispatch failed (%s, status %d): %v", e.Class, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("dispatch failed (%s): %v", e.Class, e.Err)
}

// Unwrap returns the underlying error.
func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable failure.
func Transient(err error) *DispatchError {
	return &DispatchError{Class: ClassTransient, Err: err}
}

// Permanent wraps err as a non-retryable validation failure.
func Permanent(err error) *DispatchError {
	return &DispatchError{Class: ClassPermanent, Err: err}
}

// AuthFailure wraps err as an authentication failure.
func AuthFailure(err error) *DispatchError {
	return &DispatchError{Class: ClassAuth, Err: err}
}

// FromStatusCode classifies an HTTP response status per the engine's error
// taxonomy.
func FromStatusCode(status int, err error) *DispatchError {
	e := &DispatchError{StatusCode: status, Err: err}

	switch {
	case status == 401 || status == 403:
		e.Class = ClassAuth
	case status >= 400 && status < 500:
		e.Class = ClassPermanent
	default:
		e.Class = ClassTransient
	}

	return e
}

// Classify buckets an arbitrary dispatch error. Anything that is not a
// DispatchError, such as a network-level failure or a timeout, is treated
// as transient.
func Classify(err error) ErrorClass {
	var dispatchErr *DispatchError
	if errors.As(err, &dispatchErr) {
		return dispatchErr.Class
	}

	return ClassTransient
}
