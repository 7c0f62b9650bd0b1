package preview2

import (
	"errors"
	"strings"
	"testing"

	"github.com/wippyai/wasihost/resource"
)

type dropRecorder struct {
	dropped int
}

func (d *dropRecorder) Type() ResourceType { return ResourceDeadline }
func (d *dropRecorder) Drop()              { d.dropped++ }

func TestResourceTable_PushGetDelete(t *testing.T) {
	table := NewResourceTable()

	r := NewMemoryInputPipe([]byte("x"))
	handle, err := table.Push(r)
	if err != nil || handle == 0 {
		t.Fatalf("Push failed: %v", err)
	}

	got, err := table.Get(handle)
	if err != nil {
		t.Fatalf("resource not found: %v", err)
	}
	if got != Resource(r) {
		t.Error("got different resource")
	}

	if _, err := table.Delete(handle); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := table.Get(handle); !errors.Is(err, resource.ErrNotFound) {
		t.Errorf("expected not found after delete, got %v", err)
	}
}

func TestResourceTable_StaleHandle(t *testing.T) {
	table := NewResourceTable()

	h1, _ := table.Push(&dropRecorder{})
	table.Delete(h1)
	h2, _ := table.Push(&dropRecorder{})

	if h1 == h2 {
		t.Fatal("reused slot must produce a distinct handle")
	}
	if _, err := table.Get(h1); !errors.Is(err, resource.ErrNotFound) {
		t.Errorf("stale handle resolved: %v", err)
	}
}

func TestResourceTable_GetAs(t *testing.T) {
	table := NewResourceTable()
	h, _ := table.Push(NewMemoryInputPipe(nil))

	if _, err := GetAs[InputStream](table, h); err != nil {
		t.Fatalf("GetAs[InputStream] failed: %v", err)
	}

	_, err := GetAs[OutputStream](table, h)
	if !errors.Is(err, resource.ErrTypeMismatch) {
		t.Fatalf("expected type mismatch, got %v", err)
	}
	if !strings.Contains(err.Error(), "input-stream") {
		t.Errorf("error %q should name the actual type", err)
	}

	if _, err := DeleteAs[*ErrorResource](table, h); !errors.Is(err, resource.ErrTypeMismatch) {
		t.Fatalf("expected type mismatch, got %v", err)
	}
	if table.Len() != 1 {
		t.Fatal("mismatched DeleteAs must keep the entry")
	}
}

func TestResourceTable_ChildrenBlockDelete(t *testing.T) {
	table := NewResourceTable()
	parent := &dropRecorder{}
	ph, _ := table.Push(parent)
	ch, err := table.PushChild(&dropRecorder{}, ph)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := table.Delete(ph); !errors.Is(err, resource.ErrHasChildren) {
		t.Fatalf("expected has-children, got %v", err)
	}
	if parent.dropped != 0 {
		t.Fatal("failed delete must not drop")
	}

	table.Delete(ch)
	if _, err := table.Delete(ph); err != nil {
		t.Fatal(err)
	}
	if parent.dropped != 1 {
		t.Fatalf("expected one drop, got %d", parent.dropped)
	}
}

func TestResourceTable_Close(t *testing.T) {
	table := NewResourceTable()

	d1, d2 := &dropRecorder{}, &dropRecorder{}
	h, _ := table.Push(d1)
	table.PushChild(d2, h)

	if err := table.Close(); err != nil {
		t.Fatal(err)
	}
	if d1.dropped != 1 || d2.dropped != 1 {
		t.Errorf("close must drop all, got %d %d", d1.dropped, d2.dropped)
	}
	if table.Len() != 0 {
		t.Errorf("expected empty table, got %d", table.Len())
	}
}

func TestResourceType_String(t *testing.T) {
	if ResourceFutureIncomingResponse.String() != "future-incoming-response" {
		t.Errorf("got %q", ResourceFutureIncomingResponse.String())
	}
	if !strings.HasPrefix(ResourceType(200).String(), "resource(") {
		t.Errorf("unknown types should print their number")
	}
}

func TestErrorResource(t *testing.T) {
	cause := errors.New("connection reset")
	e := NewErrorResource(cause)
	if e.ToDebugString() != "connection reset" {
		t.Errorf("got %q", e.ToDebugString())
	}
	if !errors.Is(e.Err(), cause) {
		t.Error("Err must return the cause")
	}
}
