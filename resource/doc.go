// Package resource provides the handle table behind every host resource.
//
// Resources are host-side values a guest refers to through opaque uint32
// handles. A handle packs a slot index and an 8-bit slot generation, so a
// handle kept after its entry was deleted keeps failing with a not-found
// error even once the slot is reused.
//
// # Handle Table
//
// The UnifiedTable maps handles to Go values:
//
//	table := resource.NewTable()
//
//	// Insert a value, get a handle
//	handle, err := table.Push(typeID, myValue)
//
//	// Retrieve value by handle
//	value, err := table.Get(handle)
//
//	// Remove and get value (ownership transfer)
//	value, err := table.Delete(handle)
//
// Typed access asserts the Go type and reports a type-mismatch error
// otherwise:
//
//	stream, err := resource.GetAs[*MyStream](table, handle)
//
// # Parents and Children
//
// PushChild records an ownership edge. The parent cannot be deleted while
// any child is alive, which lets a child hold a reference into its parent's
// value (a header view into a request, a pollable on a stream):
//
//	req, _ := table.Push(requestType, request)
//	hdrs, _ := table.PushChild(fieldsType, headersView, req)
//
//	_, err := table.Delete(req) // errors.Is(err, resource.ErrHasChildren)
//
// # Cleanup
//
// Values implementing Dropper have Drop called after they leave the table,
// on Delete and on Close. Close removes children before parents.
//
// # Observers
//
// Register observers to track resource lifecycle events:
//
//	table.Subscribe(myObserver)
//
// Observers are called synchronously on the goroutine that mutated the table.
package resource
