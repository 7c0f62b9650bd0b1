package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Phase indicates which part of the host produced the error
type Phase string

const (
	PhaseTable   Phase = "table"   // resource table bookkeeping
	PhaseIO      Phase = "io"      // byte streams
	PhasePoll    Phase = "poll"    // readiness waits
	PhaseClocks  Phase = "clocks"  // clock subscriptions
	PhaseSockets Phase = "sockets" // network capability and name lookup
	PhaseHTTP    Phase = "http"    // outgoing/incoming HTTP
	PhaseTask    Phase = "task"    // background work
	PhaseHost    Phase = "host"    // host function binding
)

// Kind categorizes the error
type Kind string

const (
	KindNotFound       Kind = "not_found"
	KindTypeMismatch   Kind = "type_mismatch"
	KindHasChildren    Kind = "has_children"
	KindClosed         Kind = "closed"
	KindFull           Kind = "full"
	KindInvalidState   Kind = "invalid_state"
	KindInvalidInput   Kind = "invalid_input"
	KindUnsupported    Kind = "unsupported"
	KindOverflow       Kind = "overflow"
	KindTrap           Kind = "trap"
	KindAborted        Kind = "aborted"
	KindRegistration   Kind = "registration"
	KindNotInitialized Kind = "not_initialized"
)

// Error is the structured error type used for host faults.
// Guest-visible error values (stream errors, network error codes,
// HTTP error codes) are separate types owned by their packages.
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	Resource string
	Detail   string
	Handle   uint32
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Resource != "" {
		b.WriteString(": ")
		b.WriteString(e.Resource)
		if e.Handle != 0 {
			fmt.Fprintf(&b, " #%d", e.Handle)
		}
	} else if e.Handle != 0 {
		fmt.Fprintf(&b, ": handle %d", e.Handle)
	}

	if e.Detail != "" {
		if e.Resource != "" || e.Handle != 0 {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Resource sets the resource type name
func (b *Builder) Resource(name string) *Builder {
	b.err.Resource = name
	return b
}

// Handle sets the offending handle
func (b *Builder) Handle(h uint32) *Builder {
	b.err.Handle = h
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// NotFound creates a not-found error for a handle
func NotFound(phase Phase, handle uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Handle: handle,
		Detail: "no such resource",
	}
}

// TypeMismatch creates an error for a handle that refers to another resource type
func TypeMismatch(phase Phase, handle uint32, want, got string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindTypeMismatch,
		Resource: want,
		Handle:   handle,
		Detail:   fmt.Sprintf("handle refers to %s", got),
	}
}

// InvalidState creates an invalid state error
func InvalidState(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidState,
		Detail: detail,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// Overflow creates an overflow error
func Overflow(phase Phase, value any, targetType string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOverflow,
		Detail: fmt.Sprintf("value %v overflows %s", value, targetType),
		Value:  value,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Registration creates a host function registration error
func Registration(namespace, name string, cause error) *Error {
	return &Error{
		Phase:  PhaseHost,
		Kind:   KindRegistration,
		Detail: fmt.Sprintf("register %s#%s", namespace, name),
		Cause:  cause,
	}
}

// NotInitialized creates a not-initialized error
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// Trap creates an error for a guest contract violation. Traps abort the
// current guest call instead of being returned to it.
func Trap(phase Phase, format string, args ...any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTrap,
		Detail: fmt.Sprintf(format, args...),
	}
}

// IsTrap reports whether err is, or wraps, a trap
func IsTrap(err error) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == KindTrap {
			return true
		}
		err = e.Cause
	}
	return false
}

// IsKind reports whether err is, or wraps, a structured error of the given kind
// regardless of phase
func IsKind(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Cause
	}
	return false
}

// Is reports whether any error in err's tree matches target.
// It is errors.Is re-exported so callers need a single import.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}
