package resource

import (
	"github.com/wippyai/wasihost/errors"
)

// Handle is an opaque reference to a resource in a table.
// The low 24 bits hold the slot index plus one, the high 8 bits the slot
// generation. Handle 0 is reserved and always invalid.
type Handle uint32

const (
	indexBits = 24
	indexMask = 1<<indexBits - 1

	// MaxEntries is the number of live entries a single table can hold.
	MaxEntries = indexMask
)

func makeHandle(idx int, gen uint8) Handle {
	return Handle(uint32(gen)<<indexBits | uint32(idx+1))
}

// index returns the slot index, or -1 for the reserved zero index.
func (h Handle) index() int {
	return int(uint32(h)&indexMask) - 1
}

func (h Handle) generation() uint8 {
	return uint8(uint32(h) >> indexBits)
}

// Sentinel errors. Errors returned by the table match these under errors.Is
// and carry the offending handle.
var (
	ErrNotFound     = &errors.Error{Phase: errors.PhaseTable, Kind: errors.KindNotFound}
	ErrTypeMismatch = &errors.Error{Phase: errors.PhaseTable, Kind: errors.KindTypeMismatch}
	ErrHasChildren  = &errors.Error{Phase: errors.PhaseTable, Kind: errors.KindHasChildren}
	ErrClosed       = &errors.Error{Phase: errors.PhaseTable, Kind: errors.KindClosed}
	ErrFull         = &errors.Error{Phase: errors.PhaseTable, Kind: errors.KindFull}
)

// Event types for resource lifecycle notifications.
type EventType uint8

const (
	EventCreated EventType = iota
	EventDropped
)

// Event represents a resource lifecycle event.
type Event struct {
	Value  any
	Handle Handle
	Parent Handle
	TypeID uint32
	Type   EventType
}

// Observer receives notifications about resource lifecycle events.
type Observer interface {
	OnResourceEvent(Event)
}

// Backend provides the underlying storage mechanism for resources.
type Backend interface {
	// Create stores a value and returns a handle. A non-zero parent makes
	// the new entry a child of parent.
	Create(typeID uint32, value any, parent Handle) (Handle, error)

	// Get retrieves a value and its type ID by handle.
	Get(handle Handle) (any, uint32, error)

	// Drop removes an entry without children and returns its value.
	Drop(handle Handle) (any, error)

	// Close removes every entry, children before parents, and returns an
	// EventDropped for each in removal order.
	Close() ([]Event, error)
}

// Table manages resources with type information, parent/child ownership and
// observer support.
type Table interface {
	// Push adds a value and returns its handle.
	Push(typeID uint32, value any) (Handle, error)

	// PushChild adds a value owned by parent. The parent cannot be deleted
	// while the child is alive.
	PushChild(typeID uint32, value any, parent Handle) (Handle, error)

	// Get retrieves a value by handle.
	Get(handle Handle) (any, error)

	// GetTyped retrieves a value only if it was pushed with typeID.
	GetTyped(handle Handle, typeID uint32) (any, error)

	// Delete removes a resource, runs its Drop hook and returns the value.
	Delete(handle Handle) (any, error)

	// DeleteTyped is Delete guarded by a type check.
	DeleteTyped(handle Handle, typeID uint32) (any, error)

	// Subscribe adds an observer for lifecycle events.
	Subscribe(Observer)

	// Unsubscribe removes an observer.
	Unsubscribe(Observer)

	// Len returns the number of live resources.
	Len() int

	// Close drops all resources and stops accepting operations.
	Close() error
}

// Dropper is optionally implemented by resource values that need cleanup,
// such as cancelling background work. Drop runs after the entry has left the
// table.
type Dropper interface {
	Drop()
}
