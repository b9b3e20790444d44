package domain

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for conditions the scheduler reacts to structurally
var (
	ErrNoProxyAvailable = errors.New("no proxy available")
)

// ValidationError rejects a malformed input; surfaced to the caller
type ValidationError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s=%v: %s", e.Field, e.Value, e.Reason)
}

func NewValidationError(field string, value interface{}, reason string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// NotFoundError reports a missing entity; Kind names the entity type
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func NewNotFoundError(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// ConflictError reports a uniqueness violation (duplicate username,
// duplicate (account, observedAt) sample key)
type ConflictError struct {
	Kind string
	Key  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict: %s", e.Kind, e.Key)
}

func NewConflictError(kind, key string) *ConflictError {
	return &ConflictError{Kind: kind, Key: key}
}

// NavigationError is a failed page load: timeout or non-2xx response.
// Local failure; the proxy is not penalised.
type NavigationError struct {
	Err        error
	URL        string
	StatusCode int
}

func (e *NavigationError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("navigation failed for %s: HTTP %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("navigation failed for %s: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

func NewNavigationError(url string, statusCode int, err error) *NavigationError {
	return &NavigationError{URL: url, StatusCode: statusCode, Err: err}
}

// AccountGoneError reports a profile redirect: the remote handle no
// longer resolves. Not retryable.
type AccountGoneError struct {
	Username  string
	LandedURL string
}

func (e *AccountGoneError) Error() string {
	return fmt.Sprintf("account not found: %s (redirected to %s)", e.Username, e.LandedURL)
}

func NewAccountGoneError(username, landedURL string) *AccountGoneError {
	return &AccountGoneError{Username: username, LandedURL: landedURL}
}

// ParseError reports a required selector or value missing from the DOM
type ParseError struct {
	Err      error
	URL      string
	Selector string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse failed for %s (selector %q): %v", e.URL, e.Selector, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func NewParseError(url, selector string, err error) *ParseError {
	return &ParseError{URL: url, Selector: selector, Err: err}
}

// TransportError is a proxy or network failure; attributed to the proxy
type TransportError struct {
	Err     error
	ProxyID string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failed via proxy %s: %v", e.ProxyID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func NewTransportError(proxyID string, err error) *TransportError {
	return &TransportError{ProxyID: proxyID, Err: err}
}

// InternalError wraps unexpected failures; logged at error level, never
// crashes the engine
type InternalError struct {
	Err error
	Op  string
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error in %s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

func NewInternalError(op string, err error) *InternalError {
	return &InternalError{Op: op, Err: err}
}

// IsCancelled reports whether err stems from context cancellation; such
// failures finalise resources quietly and are never logged as errors
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// IsRetryable classifies a fetch error for the scheduler: everything
// except a gone account or a caller mistake reschedules normally
func IsRetryable(err error) bool {
	var gone *AccountGoneError
	var validation *ValidationError
	var conflict *ConflictError
	if errors.As(err, &gone) || errors.As(err, &validation) || errors.As(err, &conflict) {
		return false
	}
	return true
}
