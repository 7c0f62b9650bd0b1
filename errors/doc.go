// Package errors provides structured error types for the WASI host.
//
// Errors are categorized by Phase (which part of the host failed) and Kind
// (error category). The Error type carries the resource type name, handle,
// detail message and cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseTable, errors.KindHasChildren).
//		Resource("input-stream").
//		Handle(h).
//		Detail("2 live children").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.NotFound(errors.PhaseTable, h)
//	err := errors.Trap(errors.PhaseIO, "write of %d bytes exceeds permit %d", n, permit)
//
// Errors built here are host faults: a stale handle, a contract violation by
// the guest, a broken invariant. Guest-visible results such as stream errors
// or network error codes live next to the interfaces that return them.
//
// All errors implement the standard error interface and support errors.Is/As.
// Two errors match under errors.Is when Phase and Kind are equal.
package errors
