package bridge

import (
	"errors"
	"fmt"
)

// ErrorType categorizes bridge errors.
type ErrorType string

const (
	// ErrConfig covers pre-flight configuration problems (for example a
	// missing provider credential); no network attempt was made.
	ErrConfig ErrorType = "config_error"

	// ErrTransport covers connection and streaming failures surfaced by
	// a provider adapter. Always followed by a best-effort teardown and
	// recoverable by reconnecting.
	ErrTransport ErrorType = "transport_error"

	// ErrProtocol covers malformed provider payloads, including invalid
	// tool-call arguments. Non-fatal to the session.
	ErrProtocol ErrorType = "protocol_error"

	// ErrResource covers best-effort resource-release failures during
	// teardown. Logged, never escalated.
	ErrResource ErrorType = "resource_error"
)

// Error is the bridge error type.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewConfigError creates a configuration error.
func NewConfigError(message string) *Error {
	return &Error{Type: ErrConfig, Message: message}
}

// NewTransportError creates a transport error wrapping its cause.
func NewTransportError(message string, cause error) *Error {
	return &Error{Type: ErrTransport, Message: message, Cause: cause}
}

// NewProtocolError creates a protocol error wrapping its cause.
func NewProtocolError(message string, cause error) *Error {
	return &Error{Type: ErrProtocol, Message: message, Cause: cause}
}

// NewResourceError creates a resource-release error wrapping its cause.
func NewResourceError(message string, cause error) *Error {
	return &Error{Type: ErrResource, Message: message, Cause: cause}
}

// IsType reports whether err is a bridge *Error of the given type.
func IsType(err error, t ErrorType) bool {
	var be *Error
	return errors.As(err, &be) && be.Type == t
}
