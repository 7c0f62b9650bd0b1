package resource

import (
	"fmt"
	"sync"

	"github.com/wippyai/wasihost/errors"
)

// UnifiedTable implements the Table interface using a LocalBackend for storage.
type UnifiedTable struct {
	backend   *LocalBackend
	observers []Observer
	obsMu     sync.RWMutex
	closed    bool
	closeMu   sync.RWMutex
}

// NewTable creates a new unified table with a LocalBackend.
func NewTable() *UnifiedTable {
	return &UnifiedTable{
		backend: NewLocalBackend(),
	}
}

// Push adds a value and returns its handle.
func (t *UnifiedTable) Push(typeID uint32, value any) (Handle, error) {
	return t.PushChild(typeID, value, 0)
}

// PushChild adds a value owned by parent.
func (t *UnifiedTable) PushChild(typeID uint32, value any, parent Handle) (Handle, error) {
	t.closeMu.RLock()
	if t.closed {
		t.closeMu.RUnlock()
		return 0, ErrClosed
	}
	t.closeMu.RUnlock()

	handle, err := t.backend.Create(typeID, value, parent)
	if err != nil {
		return 0, err
	}

	t.notify(Event{
		Type:   EventCreated,
		Handle: handle,
		Parent: parent,
		TypeID: typeID,
		Value:  value,
	})

	return handle, nil
}

// Get retrieves a value by handle.
func (t *UnifiedTable) Get(handle Handle) (any, error) {
	value, _, err := t.backend.Get(handle)
	return value, err
}

// GetTyped retrieves a value only if it matches the expected type.
func (t *UnifiedTable) GetTyped(handle Handle, typeID uint32) (any, error) {
	value, actual, err := t.backend.Get(handle)
	if err != nil {
		return nil, err
	}
	if actual != typeID {
		return nil, errors.New(errors.PhaseTable, errors.KindTypeMismatch).
			Handle(uint32(handle)).
			Detail("type %d, want %d", actual, typeID).
			Build()
	}
	return value, nil
}

// Parent returns the parent of an entry, 0 for a root entry.
func (t *UnifiedTable) Parent(handle Handle) (Handle, error) {
	return t.backend.Parent(handle)
}

// Children returns the number of live children of an entry.
func (t *UnifiedTable) Children(handle Handle) (int, error) {
	return t.backend.Children(handle)
}

// Delete removes a resource and returns its value.
func (t *UnifiedTable) Delete(handle Handle) (any, error) {
	_, typeID, err := t.backend.Get(handle)
	if err != nil {
		return nil, err
	}
	return t.remove(handle, typeID)
}

// DeleteTyped removes a resource only if it matches the expected type.
func (t *UnifiedTable) DeleteTyped(handle Handle, typeID uint32) (any, error) {
	if _, err := t.GetTyped(handle, typeID); err != nil {
		return nil, err
	}
	return t.remove(handle, typeID)
}

func (t *UnifiedTable) remove(handle Handle, typeID uint32) (any, error) {
	parent, err := t.backend.Parent(handle)
	if err != nil {
		return nil, err
	}
	value, err := t.backend.Drop(handle)
	if err != nil {
		return nil, err
	}

	if d, ok := value.(Dropper); ok {
		d.Drop()
	}

	t.notify(Event{
		Type:   EventDropped,
		Handle: handle,
		Parent: parent,
		TypeID: typeID,
		Value:  value,
	})

	return value, nil
}

// Subscribe adds an observer for lifecycle events.
func (t *UnifiedTable) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Unsubscribe removes an observer.
func (t *UnifiedTable) Unsubscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	for i, obs := range t.observers {
		if obs == o {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

// Len returns the number of active resources.
func (t *UnifiedTable) Len() int {
	return t.backend.Len()
}

// Close drops every resource, children first, and stops accepting operations.
func (t *UnifiedTable) Close() error {
	t.closeMu.Lock()
	if t.closed {
		t.closeMu.Unlock()
		return nil
	}
	t.closed = true
	t.closeMu.Unlock()

	dropped, err := t.backend.Close()
	for _, e := range dropped {
		if d, ok := e.Value.(Dropper); ok {
			d.Drop()
		}
		t.notify(e)
	}
	return err
}

func (t *UnifiedTable) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnResourceEvent(e)
	}
}

// GetAs retrieves a value by handle and asserts its Go type.
func GetAs[T any](t Table, handle Handle) (T, error) {
	var zero T
	value, err := t.Get(handle)
	if err != nil {
		return zero, err
	}
	v, ok := value.(T)
	if !ok {
		return zero, errors.New(errors.PhaseTable, errors.KindTypeMismatch).
			Handle(uint32(handle)).
			Detail("value is %T, want %T", value, zero).
			Build()
	}
	return v, nil
}

// DeleteAs removes a resource after checking its Go type. The entry is left
// in place when the type does not match.
func DeleteAs[T any](t Table, handle Handle) (T, error) {
	var zero T
	if _, err := GetAs[T](t, handle); err != nil {
		return zero, err
	}
	value, err := t.Delete(handle)
	if err != nil {
		return zero, err
	}
	return value.(T), nil
}

// String implements fmt.Stringer for debugging output.
func (h Handle) String() string {
	return fmt.Sprintf("%d@%d", h.index()+1, h.generation())
}
