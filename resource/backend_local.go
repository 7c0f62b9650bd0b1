package resource

import (
	"sync"

	"github.com/wippyai/wasihost/errors"
)

// LocalBackend is an in-memory resource backend with generational handles
// and parent/child tracking.
type LocalBackend struct {
	entries  []entry
	freeList []int
	live     int
	mu       sync.RWMutex
	closed   bool
}

type entry struct {
	value    any
	children map[Handle]struct{}
	typeID   uint32
	parent   Handle
	gen      uint8
	valid    bool
}

// NewLocalBackend creates a new in-memory backend.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{
		entries:  make([]entry, 0, 64),
		freeList: make([]int, 0, 16),
	}
}

// lookup returns the live entry for handle. Caller holds mu.
func (b *LocalBackend) lookup(handle Handle) (*entry, error) {
	idx := handle.index()
	if idx < 0 || idx >= len(b.entries) {
		return nil, errors.New(errors.PhaseTable, errors.KindNotFound).Handle(uint32(handle)).Build()
	}
	e := &b.entries[idx]
	if !e.valid || e.gen != handle.generation() {
		return nil, errors.New(errors.PhaseTable, errors.KindNotFound).
			Handle(uint32(handle)).
			Detail("stale or deleted handle").
			Build()
	}
	return e, nil
}

// Create stores a value and returns a handle.
func (b *LocalBackend) Create(typeID uint32, value any, parent Handle) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrClosed
	}

	var p *entry
	if parent != 0 {
		var err error
		if p, err = b.lookup(parent); err != nil {
			return 0, errors.Wrap(errors.PhaseTable, errors.KindNotFound, err, "parent of new entry")
		}
	}

	var idx int
	if n := len(b.freeList); n > 0 {
		idx = b.freeList[n-1]
		b.freeList = b.freeList[:n-1]
	} else {
		if len(b.entries) >= MaxEntries {
			return 0, errors.New(errors.PhaseTable, errors.KindFull).Detail("%d live entries", b.live).Build()
		}
		b.entries = append(b.entries, entry{})
		idx = len(b.entries) - 1
	}

	e := &b.entries[idx]
	e.value = value
	e.typeID = typeID
	e.parent = parent
	e.children = nil
	e.valid = true
	handle := makeHandle(idx, e.gen)

	if p != nil {
		if p.children == nil {
			p.children = make(map[Handle]struct{})
		}
		p.children[handle] = struct{}{}
	}
	b.live++
	return handle, nil
}

// Get retrieves a value by handle.
func (b *LocalBackend) Get(handle Handle) (any, uint32, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, err := b.lookup(handle)
	if err != nil {
		return nil, 0, err
	}
	return e.value, e.typeID, nil
}

// Parent returns the parent handle of an entry, 0 for a root entry.
func (b *LocalBackend) Parent(handle Handle) (Handle, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, err := b.lookup(handle)
	if err != nil {
		return 0, err
	}
	return e.parent, nil
}

// Children returns the number of live children of an entry.
func (b *LocalBackend) Children(handle Handle) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, err := b.lookup(handle)
	if err != nil {
		return 0, err
	}
	return len(e.children), nil
}

// Drop removes a resource and returns its value.
func (b *LocalBackend) Drop(handle Handle) (any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, err := b.lookup(handle)
	if err != nil {
		return nil, err
	}
	if n := len(e.children); n > 0 {
		return nil, errors.New(errors.PhaseTable, errors.KindHasChildren).
			Handle(uint32(handle)).
			Detail("%d live children", n).
			Build()
	}
	return b.release(handle, e), nil
}

// release frees the slot of a childless entry. Caller holds mu.
func (b *LocalBackend) release(handle Handle, e *entry) any {
	if e.parent != 0 {
		if p, err := b.lookup(e.parent); err == nil {
			delete(p.children, handle)
		}
	}

	value := e.value
	e.valid = false
	e.value = nil
	e.children = nil
	e.parent = 0
	e.gen++
	b.freeList = append(b.freeList, handle.index())
	b.live--
	return value
}

// Close releases all resources, children before their parents.
func (b *LocalBackend) Close() ([]Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, nil
	}
	b.closed = true

	dropped := make([]Event, 0, b.live)
	for b.live > 0 {
		progressed := false
		for i := range b.entries {
			e := &b.entries[i]
			if !e.valid || len(e.children) > 0 {
				continue
			}
			h := makeHandle(i, e.gen)
			ev := Event{Type: EventDropped, Handle: h, Parent: e.parent, TypeID: e.typeID}
			ev.Value = b.release(h, e)
			dropped = append(dropped, ev)
			progressed = true
		}
		if !progressed {
			return dropped, errors.InvalidState(errors.PhaseTable, "ownership cycle between entries")
		}
	}

	b.entries = nil
	b.freeList = nil
	return dropped, nil
}

// Len returns the number of active resources.
func (b *LocalBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.live
}

// Each iterates over all active resources.
func (b *LocalBackend) Each(fn func(Handle, uint32, any) bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for i, e := range b.entries {
		if e.valid {
			if !fn(makeHandle(i, e.gen), e.typeID, e.value) {
				break
			}
		}
	}
}
