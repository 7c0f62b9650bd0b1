package http

import (
	"fmt"

	"github.com/wippyai/wasihost/errors"
	"github.com/wippyai/wasihost/wasi/preview2"
)

// ErrorCodeKind classifies a failed HTTP exchange.
type ErrorCodeKind uint8

const (
	// ErrorInvalidURL means the target could not be reached or resolved.
	ErrorInvalidURL ErrorCodeKind = iota
	// ErrorTimeout means a phase of the exchange ran out of time.
	ErrorTimeout
	// ErrorProtocol is a wire protocol or TLS failure.
	ErrorProtocol
	// ErrorUnexpected covers everything else.
	ErrorUnexpected
)

func (k ErrorCodeKind) String() string {
	switch k {
	case ErrorInvalidURL:
		return "invalid-url"
	case ErrorTimeout:
		return "timeout-error"
	case ErrorProtocol:
		return "protocol-error"
	default:
		return "unexpected-error"
	}
}

// ErrorCode is the guest-visible error of an HTTP exchange.
type ErrorCode struct {
	Message string
	Kind    ErrorCodeKind
}

func (e *ErrorCode) Error() string {
	return e.Kind.String() + ": " + e.Message
}

// InvalidURL returns an invalid-url error.
func InvalidURL(msg string) *ErrorCode {
	return &ErrorCode{Kind: ErrorInvalidURL, Message: msg}
}

// TimeoutError returns a timeout error for the named phase, such as
// "connection", "first byte" or "between bytes".
func TimeoutError(phase string) *ErrorCode {
	return &ErrorCode{Kind: ErrorTimeout, Message: phase + " timed out"}
}

// ProtocolError returns a protocol error.
func ProtocolError(msg string) *ErrorCode {
	return &ErrorCode{Kind: ErrorProtocol, Message: msg}
}

// UnexpectedError returns an unexpected error.
func UnexpectedError(msg string) *ErrorCode {
	return &ErrorCode{Kind: ErrorUnexpected, Message: msg}
}

// HeaderError is the guest-visible error of a fields mutation.
type HeaderError uint8

const (
	HeaderErrorInvalidSyntax HeaderError = iota
	HeaderErrorForbidden
	HeaderErrorImmutable
)

func (e HeaderError) Error() string {
	switch e {
	case HeaderErrorInvalidSyntax:
		return "invalid-syntax"
	case HeaderErrorForbidden:
		return "forbidden"
	default:
		return "immutable"
	}
}

// ErrResponseConsumed is returned by future-incoming-response.get once the
// response has been handed out.
var ErrResponseConsumed = errors.InvalidState(errors.PhaseHTTP, "response already consumed")

// ErrBodyTaken is returned when a body or its stream is requested twice.
var ErrBodyTaken = errors.InvalidState(errors.PhaseHTTP, "body already taken")

// HTTPErrorCode extracts the HTTP error behind a wasi:io/error, if any.
func HTTPErrorCode(e *preview2.ErrorResource) *ErrorCode {
	var code *ErrorCode
	if errors.As(e.Err(), &code) {
		return code
	}
	return nil
}

func errorf(kind ErrorCodeKind, format string, args ...any) *ErrorCode {
	return &ErrorCode{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ErrRejected is the unit error of setters and constructors whose argument
// was refused, such as an invalid method or status code.
var ErrRejected = errors.InvalidInput(errors.PhaseHTTP, "value rejected")

// IsGuestError reports whether err is returned to the guest as a value
// rather than trapping.
func IsGuestError(err error) bool {
	var code *ErrorCode
	var herr HeaderError
	switch {
	case errors.As(err, &code), errors.As(err, &herr):
		return true
	}
	var e *errors.Error
	if !errors.As(err, &e) || e.Phase != errors.PhaseHTTP {
		return false
	}
	return e.Kind == errors.KindInvalidInput || e.Kind == errors.KindInvalidState
}
