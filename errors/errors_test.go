package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:    PhaseTable,
				Kind:     KindHasChildren,
				Resource: "input-stream",
				Handle:   7,
				Detail:   "1 live child",
			},
			contains: []string{"[table]", "has_children", "input-stream #7", "1 live child"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseIO,
				Kind:  KindClosed,
			},
			contains: []string{"[io]", "closed"},
		},
		{
			name: "handle without resource",
			err: &Error{
				Phase:  PhaseTable,
				Kind:   KindNotFound,
				Handle: 3,
			},
			contains: []string{"handle 3"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseHTTP,
				Kind:   KindInvalidState,
				Detail: "body already taken",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[http]", "invalid_state", "body already taken", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseSockets,
		Kind:  KindInvalidInput,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is did not find cause")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase:  PhaseTable,
		Kind:   KindNotFound,
		Handle: 12,
	}

	if !err.Is(&Error{Phase: PhaseTable, Kind: KindNotFound}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseIO, Kind: KindNotFound}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseTable, Kind: KindTypeMismatch}) {
		t.Error("Is should not match different kind")
	}

	wrapped := fmt.Errorf("lookup: %w", err)
	if !errors.Is(wrapped, &Error{Phase: PhaseTable, Kind: KindNotFound}) {
		t.Error("errors.Is should match through fmt wrapping")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseTable, KindTypeMismatch).
		Resource("pollable").
		Handle(9).
		Value(42).
		Cause(cause).
		Detail("expected %s, got %s", "pollable", "fields").
		Build()

	if err.Phase != PhaseTable {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseTable)
	}
	if err.Kind != KindTypeMismatch {
		t.Errorf("Kind = %v, want %v", err.Kind, KindTypeMismatch)
	}
	if err.Resource != "pollable" || err.Handle != 9 {
		t.Errorf("Resource=%q Handle=%d", err.Resource, err.Handle)
	}
	if err.Value != 42 {
		t.Errorf("Value = %v, want 42", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "expected pollable, got fields" {
		t.Errorf("Detail = %q", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Run("NotFound", func(t *testing.T) {
		err := NotFound(PhaseTable, 4)
		if err.Kind != KindNotFound || err.Handle != 4 {
			t.Errorf("got %+v", err)
		}
	})

	t.Run("TypeMismatch", func(t *testing.T) {
		err := TypeMismatch(PhaseTable, 4, "pollable", "fields")
		if err.Kind != KindTypeMismatch {
			t.Errorf("Kind = %v, want %v", err.Kind, KindTypeMismatch)
		}
		if !strings.Contains(err.Error(), "fields") {
			t.Errorf("message %q should name the actual type", err.Error())
		}
	})

	t.Run("InvalidState", func(t *testing.T) {
		err := InvalidState(PhaseHTTP, "already consumed")
		if err.Kind != KindInvalidState {
			t.Errorf("Kind = %v, want %v", err.Kind, KindInvalidState)
		}
	})

	t.Run("Overflow", func(t *testing.T) {
		err := Overflow(PhaseClocks, uint64(1<<63), "duration")
		if err.Kind != KindOverflow {
			t.Errorf("Kind = %v, want %v", err.Kind, KindOverflow)
		}
	})

	t.Run("Registration", func(t *testing.T) {
		err := Registration("wasi:io/poll@0.2.8", "[method]pollable.ready", errors.New("dup"))
		if err.Phase != PhaseHost || err.Kind != KindRegistration {
			t.Errorf("got %+v", err)
		}
	})

	t.Run("Unsupported", func(t *testing.T) {
		err := Unsupported(PhaseHTTP, "tls on this architecture")
		if err.Kind != KindUnsupported {
			t.Errorf("Kind = %v, want %v", err.Kind, KindUnsupported)
		}
	})
}

func TestTrap(t *testing.T) {
	err := Trap(PhaseIO, "buffer too large (expected at most %d)", 4096)
	if !IsTrap(err) {
		t.Fatal("IsTrap should detect a trap")
	}
	if !strings.Contains(err.Error(), "4096") {
		t.Errorf("message %q should be formatted", err.Error())
	}

	wrapped := Wrap(PhaseHost, KindRegistration, err, "call")
	if !IsTrap(wrapped) {
		t.Error("IsTrap should look through structured causes")
	}
	if !IsTrap(fmt.Errorf("outer: %w", err)) {
		t.Error("IsTrap should look through fmt wrapping")
	}

	if IsTrap(NotFound(PhaseTable, 1)) {
		t.Error("not-found is not a trap")
	}
	if IsTrap(errors.New("plain")) {
		t.Error("plain error is not a trap")
	}
	if IsTrap(nil) {
		t.Error("nil is not a trap")
	}
}

func TestIsKind(t *testing.T) {
	err := Wrap(PhaseHTTP, KindInvalidInput, NotFound(PhaseTable, 2), "request")
	if !IsKind(err, KindInvalidInput) {
		t.Error("outer kind should match")
	}
	if !IsKind(err, KindNotFound) {
		t.Error("cause kind should match")
	}
	if IsKind(err, KindHasChildren) {
		t.Error("unrelated kind should not match")
	}
}
