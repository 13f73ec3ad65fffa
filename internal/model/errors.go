package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for each error kind.
// Use errors.Is() to check against these.
var (
	ErrInvalidItem            = errors.New("invalid item")
	ErrAvailabilityRestricted = errors.New("availability restricted")
	ErrSyncConflict           = errors.New("sync conflict")
	ErrNetwork                = errors.New("network error")
	ErrServer                 = errors.New("server error")
	ErrNotFound               = errors.New("not found")
)

// ErrorKind classifies a failure for callers. The core never produces
// user-facing text beyond Message; callers map the kind to what they show.
type ErrorKind string

const (
	KindInvalidItem  ErrorKind = "invalid_item"
	KindAvailability ErrorKind = "availability_restriction"
	KindSyncConflict ErrorKind = "sync_conflict"
	KindNetwork      ErrorKind = "network"
	KindServer       ErrorKind = "server"
	KindNotFound     ErrorKind = "not_found"
)

// Error is the structured error returned by collection operations.
// Implements error interface and supports unwrapping to the kind's sentinel.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Key     string    `json:"key,omitempty"` // identity key the failure relates to, if any
	Err     error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, or KindServer for errors that carry no kind.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindServer
}

// NewInvalidItemError rejects malformed input before any mutation.
func NewInvalidItemError(field, reason string) *Error {
	return &Error{
		Kind:    KindInvalidItem,
		Message: fmt.Sprintf("invalid %s: %s", field, reason),
		Err:     ErrInvalidItem,
	}
}

// NewAvailabilityError rejects an add that the catalog does not currently allow.
func NewAvailabilityError(key Key, reason string) *Error {
	if reason == "" {
		reason = "item is not available right now"
	}
	return &Error{
		Kind:    KindAvailability,
		Message: reason,
		Key:     key.String(),
		Err:     ErrAvailabilityRestricted,
	}
}

// NewSyncConflictError reports a confirmation for an operation that was superseded.
func NewSyncConflictError(key Key) *Error {
	return &Error{
		Kind:    KindSyncConflict,
		Message: "confirmation arrived for a superseded operation",
		Key:     key.String(),
		Err:     ErrSyncConflict,
	}
}

// NewNetworkError wraps a transport failure talking to the remote service.
func NewNetworkError(service string, err error) *Error {
	return &Error{
		Kind:    KindNetwork,
		Message: fmt.Sprintf("%s unreachable", service),
		Err:     fmt.Errorf("%w: %v", ErrNetwork, err),
	}
}

// NewServerError reports a failure the remote service answered with.
func NewServerError(message string) *Error {
	if message == "" {
		message = "remote service failed"
	}
	return &Error{
		Kind:    KindServer,
		Message: message,
		Err:     ErrServer,
	}
}

// NewNotFoundError reports a missing remote entry.
func NewNotFoundError(resource string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     ErrNotFound,
	}
}

// WithKey returns a copy of e annotated with the identity key.
func (e *Error) WithKey(key Key) *Error {
	cp := *e
	cp.Key = key.String()
	return &cp
}
