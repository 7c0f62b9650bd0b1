package preview2

import (
	"fmt"

	"github.com/wippyai/wasihost/errors"
	"github.com/wippyai/wasihost/resource"
)

// DefaultBufferSize is the default chunk size for background stream readers (64 KB)
const DefaultBufferSize = 65536

// MaxReadSize bounds a single read request to prevent oversized allocations
const MaxReadSize = 1 << 20

// Resource is a WASI preview2 resource that can be managed by ResourceTable.
type Resource interface {
	// Type returns the resource type identifier.
	Type() ResourceType
	// Drop releases any underlying resources and cancels background work.
	// It runs after the entry left the table.
	Drop()
}

// ResourceType identifies the type of a WASI resource for type-safe handle management.
type ResourceType uint8

const (
	ResourcePollable ResourceType = iota + 1
	ResourceInputStream
	ResourceOutputStream
	ResourceError
	ResourceNetwork
	ResourceResolveAddressStream
	ResourceDeadline
	ResourceFields
	ResourceIncomingRequest
	ResourceOutgoingRequest
	ResourceRequestOptions
	ResourceIncomingBody
	ResourceOutgoingBody
	ResourceFutureTrailers
	ResourceIncomingResponse
	ResourceOutgoingResponse
	ResourceFutureIncomingResponse
	ResourceResponseOutparam
)

var resourceNames = map[ResourceType]string{
	ResourcePollable:               "pollable",
	ResourceInputStream:            "input-stream",
	ResourceOutputStream:           "output-stream",
	ResourceError:                  "error",
	ResourceNetwork:                "network",
	ResourceResolveAddressStream:   "resolve-address-stream",
	ResourceDeadline:               "deadline",
	ResourceFields:                 "fields",
	ResourceIncomingRequest:        "incoming-request",
	ResourceOutgoingRequest:        "outgoing-request",
	ResourceRequestOptions:         "request-options",
	ResourceIncomingBody:           "incoming-body",
	ResourceOutgoingBody:           "outgoing-body",
	ResourceFutureTrailers:         "future-trailers",
	ResourceIncomingResponse:       "incoming-response",
	ResourceOutgoingResponse:       "outgoing-response",
	ResourceFutureIncomingResponse: "future-incoming-response",
	ResourceResponseOutparam:       "response-outparam",
}

// String returns the WIT name of the resource type.
func (t ResourceType) String() string {
	if name, ok := resourceNames[t]; ok {
		return name
	}
	return fmt.Sprintf("resource(%d)", uint8(t))
}

// ResourceTable manages WASI preview2 resource handles.
// It is an adapter over the generational resource.UnifiedTable.
type ResourceTable struct {
	table *resource.UnifiedTable
}

// NewResourceTable creates a new resource table
func NewResourceTable() *ResourceTable {
	return &ResourceTable{
		table: resource.NewTable(),
	}
}

// Push stores a resource and returns its handle.
func (t *ResourceTable) Push(r Resource) (uint32, error) {
	h, err := t.table.Push(uint32(r.Type()), r)
	return uint32(h), err
}

// PushChild stores a resource owned by parent. The parent cannot be
// deleted while the child is alive.
func (t *ResourceTable) PushChild(r Resource, parent uint32) (uint32, error) {
	h, err := t.table.PushChild(uint32(r.Type()), r, resource.Handle(parent))
	return uint32(h), err
}

// Get returns the resource for a handle.
func (t *ResourceTable) Get(handle uint32) (Resource, error) {
	v, err := t.table.Get(resource.Handle(handle))
	if err != nil {
		return nil, err
	}
	return v.(Resource), nil
}

// Delete removes a resource, calls its Drop and returns it.
func (t *ResourceTable) Delete(handle uint32) (Resource, error) {
	v, err := t.table.Delete(resource.Handle(handle))
	if err != nil {
		return nil, err
	}
	return v.(Resource), nil
}

// Children returns the number of live children of a resource.
func (t *ResourceTable) Children(handle uint32) (int, error) {
	return t.table.Children(resource.Handle(handle))
}

// Subscribe registers an observer for resource lifecycle events.
func (t *ResourceTable) Subscribe(o resource.Observer) {
	t.table.Subscribe(o)
}

// Len returns the number of live resources.
func (t *ResourceTable) Len() int {
	return t.table.Len()
}

// Close drops every resource. Used during shutdown.
func (t *ResourceTable) Close() error {
	return t.table.Close()
}

// GetAs returns the resource for a handle if it implements T.
func GetAs[T any](t *ResourceTable, handle uint32) (T, error) {
	var zero T
	r, err := t.Get(handle)
	if err != nil {
		return zero, err
	}
	v, ok := r.(T)
	if !ok {
		return zero, errors.TypeMismatch(errors.PhaseTable, handle, typeName[T](), r.Type().String())
	}
	return v, nil
}

// DeleteAs removes a resource if it implements T. The entry stays in the
// table when the type does not match.
func DeleteAs[T any](t *ResourceTable, handle uint32) (T, error) {
	var zero T
	if _, err := GetAs[T](t, handle); err != nil {
		return zero, err
	}
	r, err := t.Delete(handle)
	if err != nil {
		return zero, err
	}
	return r.(T), nil
}

func typeName[T any]() string {
	var zero T
	if r, ok := any(zero).(Resource); ok && r != nil {
		return r.Type().String()
	}
	return fmt.Sprintf("%T", &zero)[1:]
}

// ErrorResource wraps a failure surfaced to the guest through wasi:io/error.
type ErrorResource struct {
	err error
}

// NewErrorResource creates an error resource for err.
func NewErrorResource(err error) *ErrorResource {
	return &ErrorResource{err: err}
}

func (e *ErrorResource) Type() ResourceType { return ResourceError }
func (e *ErrorResource) Drop()              {}

// ToDebugString returns a human-readable description of the failure.
func (e *ErrorResource) ToDebugString() string { return e.err.Error() }

// Err returns the wrapped error, for downcasts by other interfaces.
func (e *ErrorResource) Err() error { return e.err }

// NetworkResource is the network capability handed to the guest. It gates
// name resolution.
type NetworkResource struct {
	allowIPNameLookup bool
}

// NewNetworkResource creates a network capability.
func NewNetworkResource(allowIPNameLookup bool) *NetworkResource {
	return &NetworkResource{allowIPNameLookup: allowIPNameLookup}
}

func (n *NetworkResource) Type() ResourceType { return ResourceNetwork }
func (n *NetworkResource) Drop()              {}

// AllowIPNameLookup reports whether name lookups are permitted.
func (n *NetworkResource) AllowIPNameLookup() bool { return n.allowIPNameLookup }
