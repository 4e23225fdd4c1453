package shared

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Error kinds surfaced by adapters and the reconciliation engine.
// Adapters convert transport errors into one of these at their boundary.
var (
	// ErrFeedUnavailable is transient and retryable: the external order feed could not be read or written
	ErrFeedUnavailable = NewDomainError("FEED_UNAVAILABLE", "Order feed is unavailable")
	// ErrStoreUnavailable is transient and retryable: a backing store could not be reached
	ErrStoreUnavailable = NewDomainError("STORE_UNAVAILABLE", "Data store is unavailable")
	// ErrNotFound is benign: the entity is already gone
	ErrNotFound = NewDomainError("NOT_FOUND", "Resource not found")
	// ErrInvalidStatus is a caller bug and is rejected before any write
	ErrInvalidStatus = NewDomainError("INVALID_STATUS", "Status value is not allowed")
	// ErrReconciliationFailed means every source failed in one cycle
	ErrReconciliationFailed = NewDomainError("RECONCILIATION_FAILED", "All data sources are unavailable")
	// ErrInvalidInput covers malformed arguments that are not status values
	ErrInvalidInput = NewDomainError("INVALID_INPUT", "Invalid input provided")
)

// KindError attaches an error kind to an underlying cause.
// errors.Is matches the kind; errors.Unwrap reaches the cause.
type KindError struct {
	Kind  *DomainError
	Cause error
}

// Error implements the error interface
func (e *KindError) Error() string {
	if e.Cause == nil {
		return e.Kind.Message
	}
	return fmt.Sprintf("%s: %v", e.Kind.Message, e.Cause)
}

// Is reports whether target is the attached kind
func (e *KindError) Is(target error) bool {
	return target == e.Kind
}

// Unwrap returns the underlying cause
func (e *KindError) Unwrap() error {
	return e.Cause
}

// Wrap tags err with the given kind. A nil err yields nil.
// If err already carries the same kind it is returned unchanged.
func Wrap(kind *DomainError, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kind) {
		return err
	}
	return &KindError{Kind: kind, Cause: err}
}

// Wrapf tags a formatted cause with the given kind
func Wrapf(kind *DomainError, format string, args ...any) error {
	return &KindError{Kind: kind, Cause: fmt.Errorf(format, args...)}
}

// KindOf returns the domain error kind carried by err, or nil
func KindOf(err error) *DomainError {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	var de *DomainError
	if errors.As(err, &de) {
		return de
	}
	return nil
}

// IsTransient reports whether err is a retryable source outage
func IsTransient(err error) bool {
	return errors.Is(err, ErrFeedUnavailable) || errors.Is(err, ErrStoreUnavailable)
}
