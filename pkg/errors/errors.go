package errors

import (
	"errors"
	"fmt"
)

// Common error types
var (
	// Settings errors
	ErrUpdateInFlight = errors.New("an update for this setting is already in flight")
	ErrInvalidValue   = errors.New("invalid setting value")
	ErrUnknownField   = errors.New("unknown setting")
	ErrStoreClosed    = errors.New("connection store is closed")

	// Toggle errors
	ErrControlDisabled = errors.New("control is disabled")
	ErrPending         = errors.New("toggle request already pending")
	ErrCooldown        = errors.New("toggle is cooling down")

	// Cache errors
	ErrNotCached = errors.New("no cached settings available")
)

// ErrorKind classifies errors into the categories surfaced to the user.
type ErrorKind string

const (
	KindNone          ErrorKind = ""
	KindInvalidState  ErrorKind = "invalid_state"
	KindAuthorization ErrorKind = "authorization"
	KindTransport     ErrorKind = "transport"
	KindActivation    ErrorKind = "activation"
	KindIgnored       ErrorKind = "ignored"
	KindInternal      ErrorKind = "internal"
)

// InvalidStateError is returned when a mutation is not allowed in the
// current connection state.
type InvalidStateError struct {
	Field  string
	Reason string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot change %s: %s", e.Field, e.Reason)
}

// AuthorizationError represents an entitlement or plan restriction.
type AuthorizationError struct {
	Feature    string
	StatusCode int
	Err        error
}

func (e *AuthorizationError) Error() string {
	switch {
	case e.Feature != "" && e.StatusCode != 0:
		return fmt.Sprintf("feature '%s' not available on current plan (HTTP %d)", e.Feature, e.StatusCode)
	case e.Feature != "":
		return fmt.Sprintf("feature '%s' not available on current plan", e.Feature)
	case e.StatusCode != 0:
		return fmt.Sprintf("not authorized (HTTP %d)", e.StatusCode)
	}
	return "not authorized"
}

func (e *AuthorizationError) Unwrap() error {
	return e.Err
}

// TransportError represents a network or server failure.
type TransportError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ActivationError is returned for an illegal kill switch transition.
type ActivationError struct {
	Op    string
	Phase string
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("kill switch cannot %s while %s", e.Op, e.Phase)
}

// Kind classifies err. Unknown errors are reported as KindInternal.
func Kind(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	var stateErr *InvalidStateError
	var authErr *AuthorizationError
	var transportErr *TransportError
	var activationErr *ActivationError

	switch {
	case errors.As(err, &stateErr):
		return KindInvalidState
	case errors.As(err, &authErr):
		return KindAuthorization
	case errors.As(err, &transportErr):
		return KindTransport
	case errors.As(err, &activationErr):
		return KindActivation
	case errors.Is(err, ErrUpdateInFlight), errors.Is(err, ErrPending),
		errors.Is(err, ErrCooldown), errors.Is(err, ErrControlDisabled):
		return KindIgnored
	}
	return KindInternal
}

// UserMessage returns the notice shown to the user for err.
func UserMessage(err error) string {
	switch Kind(err) {
	case KindNone:
		return ""
	case KindInvalidState:
		return "Disconnect from the VPN before changing this setting."
	case KindAuthorization:
		return "This feature requires a plan upgrade."
	case KindTransport:
		return "Failed to update settings. Please try again."
	case KindActivation:
		return "Kill switch is already in the requested state."
	case KindIgnored:
		return ""
	}
	return fmt.Sprintf("Unexpected error: %v", err)
}
