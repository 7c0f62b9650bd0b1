package io

import (
	"context"
	"errors"
	"testing"
	"time"

	werrors "github.com/wippyai/wasihost/errors"
	"github.com/wippyai/wasihost/resource"
	"github.com/wippyai/wasihost/wasi/preview2"
)

// gate is a subscribable resource opened by the test.
type gate struct{ ch chan struct{} }

func newGate() *gate { return &gate{ch: make(chan struct{})} }

func (g *gate) Type() preview2.ResourceType { return preview2.ResourceDeadline }
func (g *gate) Drop()                       {}
func (g *gate) Ready() <-chan struct{}      { return g.ch }
func (g *gate) open()                       { close(g.ch) }

// brokenInput fails its first read.
type brokenInput struct {
	preview2.MemoryInputPipe
	failed bool
}

func (b *brokenInput) Read(int) ([]byte, error) {
	if b.failed {
		return nil, preview2.StreamClosed()
	}
	b.failed = true
	return nil, preview2.LastOperationFailed(errors.New("connection reset"))
}

func TestErrorHost_MethodErrorToDebugString(t *testing.T) {
	resources := preview2.NewResourceTable()
	host := NewErrorHost(resources)
	ctx := context.Background()

	handle, _ := resources.Push(preview2.NewErrorResource(errors.New("test error message")))

	result, err := host.MethodErrorToDebugString(ctx, handle)
	if err != nil {
		t.Fatal(err)
	}
	if result != "test error message" {
		t.Errorf("expected 'test error message', got '%s'", result)
	}

	if _, err := host.MethodErrorToDebugString(ctx, 9999); !errors.Is(err, resource.ErrNotFound) {
		t.Errorf("expected not found for invalid handle, got %v", err)
	}

	if err := host.ResourceDropError(ctx, handle); err != nil {
		t.Fatal(err)
	}
	if resources.Len() != 0 {
		t.Errorf("expected empty table, got %d", resources.Len())
	}
}

func TestPollHost_Poll(t *testing.T) {
	resources := preview2.NewResourceTable()
	host := NewPollHost(resources)
	ctx := context.Background()

	g1, g2, g3 := newGate(), newGate(), newGate()
	var handles []uint32
	for _, g := range []*gate{g1, g2, g3} {
		src, _ := resources.Push(g)
		p, err := preview2.Subscribe(resources, src)
		if err != nil {
			t.Fatal(err)
		}
		handles = append(handles, p)
	}
	g1.open()
	g3.open()

	ready, err := host.Poll(ctx, handles)
	if err != nil {
		t.Fatal(err)
	}
	if len(ready) != 2 || ready[0] != 0 || ready[1] != 2 {
		t.Errorf("expected indices [0, 2], got %v", ready)
	}
}

func TestPollHost_PollDuplicates(t *testing.T) {
	resources := preview2.NewResourceTable()
	host := NewPollHost(resources)

	g := newGate()
	g.open()
	src, _ := resources.Push(g)
	p, _ := preview2.Subscribe(resources, src)

	ready, err := host.Poll(context.Background(), []uint32{p, p})
	if err != nil {
		t.Fatal(err)
	}
	if len(ready) != 2 {
		t.Errorf("expected both entries ready, got %v", ready)
	}
}

func TestPollHost_PollEmptyTraps(t *testing.T) {
	host := NewPollHost(preview2.NewResourceTable())
	_, err := host.Poll(context.Background(), nil)
	if !werrors.IsTrap(err) {
		t.Fatalf("expected trap, got %v", err)
	}
}

func TestPollHost_PollInvalidHandle(t *testing.T) {
	host := NewPollHost(preview2.NewResourceTable())
	if _, err := host.Poll(context.Background(), []uint32{42}); err == nil {
		t.Fatal("expected error for unknown pollable")
	}
}

func TestPollHost_PollWaits(t *testing.T) {
	resources := preview2.NewResourceTable()
	host := NewPollHost(resources)

	g := newGate()
	src, _ := resources.Push(g)
	p, _ := preview2.Subscribe(resources, src)

	go func() {
		time.Sleep(10 * time.Millisecond)
		g.open()
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ready, err := host.Poll(ctx, []uint32{p})
	if err != nil {
		t.Fatal(err)
	}
	if len(ready) != 1 || ready[0] != 0 {
		t.Errorf("expected [0], got %v", ready)
	}
}

func TestPollHost_MethodPollableReady(t *testing.T) {
	resources := preview2.NewResourceTable()
	host := NewPollHost(resources)
	ctx := context.Background()

	g := newGate()
	src, _ := resources.Push(g)
	handle, _ := preview2.Subscribe(resources, src)

	if ok, _ := host.MethodPollableReady(ctx, handle); ok {
		t.Error("expected pollable to not be ready")
	}
	g.open()
	if ok, _ := host.MethodPollableReady(ctx, handle); !ok {
		t.Error("expected pollable to be ready")
	}
}

func TestPollHost_MethodPollableBlock(t *testing.T) {
	resources := preview2.NewResourceTable()
	host := NewPollHost(resources)

	src, _ := resources.Push(newGate())
	handle, _ := preview2.Subscribe(resources, src)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := host.MethodPollableBlock(ctx, handle); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestPollHost_DropOwnedSource(t *testing.T) {
	resources := preview2.NewResourceTable()
	host := NewPollHost(resources)
	ctx := context.Background()

	owned, _ := resources.Push(newGate())
	p1, _ := preview2.SubscribeOwned(resources, owned)
	shared, _ := resources.Push(newGate())
	p2, _ := preview2.Subscribe(resources, shared)

	if err := host.ResourceDropPollable(ctx, p1); err != nil {
		t.Fatal(err)
	}
	if _, err := resources.Get(owned); !errors.Is(err, resource.ErrNotFound) {
		t.Error("owned source should be removed with its pollable")
	}
	if err := host.ResourceDropPollable(ctx, p2); err != nil {
		t.Fatal(err)
	}
	if _, err := resources.Get(shared); err != nil {
		t.Error("shared source should survive its pollable")
	}
}

func TestStreamsHost_ReadAndSkip(t *testing.T) {
	resources := preview2.NewResourceTable()
	host := NewStreamsHost(resources)
	ctx := context.Background()

	handle, _ := resources.Push(preview2.NewMemoryInputPipe([]byte("hello world")))

	data, err := host.MethodInputStreamRead(ctx, handle, 5)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Errorf("expected 'hello', got %q", data)
	}

	n, err := host.MethodInputStreamSkip(ctx, handle, 1)
	if err != nil || n != 1 {
		t.Fatalf("skip = %d, %v", n, err)
	}

	data, err = host.MethodInputStreamBlockingRead(ctx, handle, 100)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "world" {
		t.Errorf("expected 'world', got %q", data)
	}

	_, err = host.MethodInputStreamRead(ctx, handle, 1)
	if !preview2.IsStreamClosed(err) {
		t.Errorf("expected closed, got %v", err)
	}
}

func TestStreamsHost_ReadWrongType(t *testing.T) {
	resources := preview2.NewResourceTable()
	host := NewStreamsHost(resources)

	out, _ := resources.Push(preview2.NewMemoryOutputPipe(0))
	if _, err := host.MethodInputStreamRead(context.Background(), out, 1); !errors.Is(err, resource.ErrTypeMismatch) {
		t.Errorf("expected type mismatch, got %v", err)
	}
}

func TestStreamsHost_FailedOperationCarriesError(t *testing.T) {
	resources := preview2.NewResourceTable()
	streams := NewStreamsHost(resources)
	errs := NewErrorHost(resources)
	ctx := context.Background()

	handle, _ := resources.Push(&brokenInput{})

	_, err := streams.MethodInputStreamRead(ctx, handle, 1)
	var se *preview2.StreamError
	if !errors.As(err, &se) || !se.LastOpFailed {
		t.Fatalf("expected last-operation-failed, got %v", err)
	}
	msg, err := errs.MethodErrorToDebugString(ctx, se.LastOpFailedErr)
	if err != nil {
		t.Fatal(err)
	}
	if msg != "connection reset" {
		t.Errorf("unexpected debug string %q", msg)
	}

	_, err = streams.MethodInputStreamRead(ctx, handle, 1)
	if !preview2.IsStreamClosed(err) {
		t.Errorf("expected closed after failure, got %v", err)
	}
}

func TestStreamsHost_WriteAndFlush(t *testing.T) {
	resources := preview2.NewResourceTable()
	host := NewStreamsHost(resources)
	ctx := context.Background()

	pipe := preview2.NewMemoryOutputPipe(16)
	handle, _ := resources.Push(pipe)

	permit, err := host.MethodOutputStreamCheckWrite(ctx, handle)
	if err != nil || permit != 16 {
		t.Fatalf("check-write = %d, %v", permit, err)
	}
	if err := host.MethodOutputStreamWrite(ctx, handle, []byte("abc")); err != nil {
		t.Fatal(err)
	}
	if err := host.MethodOutputStreamWriteZeroes(ctx, handle, 2); err != nil {
		t.Fatal(err)
	}
	if err := host.MethodOutputStreamBlockingFlush(ctx, handle); err != nil {
		t.Fatal(err)
	}
	if got := string(pipe.Contents()); got != "abc\x00\x00" {
		t.Errorf("contents = %q", got)
	}

	if err := host.MethodOutputStreamWrite(ctx, handle, make([]byte, 32)); !werrors.IsTrap(err) {
		t.Errorf("write over permit should trap, got %v", err)
	}
}

func TestStreamsHost_BlockingWriteTooLarge(t *testing.T) {
	resources := preview2.NewResourceTable()
	host := NewStreamsHost(resources)
	ctx := context.Background()

	handle, _ := resources.Push(preview2.NewMemoryOutputPipe(0))

	err := host.MethodOutputStreamBlockingWriteAndFlush(ctx, handle, make([]byte, preview2.MaxBlockingWriteSize+1))
	if !werrors.IsTrap(err) {
		t.Errorf("expected trap, got %v", err)
	}
	err = host.MethodOutputStreamBlockingWriteZeroesAndFlush(ctx, handle, preview2.MaxBlockingWriteSize+1)
	if !werrors.IsTrap(err) {
		t.Errorf("expected trap, got %v", err)
	}
}

func TestStreamsHost_Splice(t *testing.T) {
	resources := preview2.NewResourceTable()
	host := NewStreamsHost(resources)
	ctx := context.Background()

	src, _ := resources.Push(preview2.NewMemoryInputPipe([]byte("spliced data")))
	pipe := preview2.NewMemoryOutputPipe(7)
	dst, _ := resources.Push(pipe)

	n, err := host.MethodOutputStreamSplice(ctx, dst, src, 100)
	if err != nil {
		t.Fatal(err)
	}
	if n != 7 {
		t.Errorf("expected splice limited to permit 7, got %d", n)
	}
	if string(pipe.Contents()) != "spliced" {
		t.Errorf("contents = %q", pipe.Contents())
	}
}

func TestStreamsHost_SubscribeAndDrop(t *testing.T) {
	resources := preview2.NewResourceTable()
	host := NewStreamsHost(resources)
	ctx := context.Background()

	in, _ := resources.Push(preview2.NewMemoryInputPipe(nil))
	p, err := host.MethodInputStreamSubscribe(ctx, in)
	if err != nil {
		t.Fatal(err)
	}

	if err := host.ResourceDropInputStream(ctx, in); !errors.Is(err, resource.ErrHasChildren) {
		t.Fatalf("dropping a stream with a live pollable = %v", err)
	}
	if _, err := resources.Delete(p); err != nil {
		t.Fatal(err)
	}
	if err := host.ResourceDropInputStream(ctx, in); err != nil {
		t.Fatal(err)
	}

	out, _ := resources.Push(preview2.NewMemoryOutputPipe(0))
	if _, err := host.MethodOutputStreamSubscribe(ctx, out); err != nil {
		t.Fatal(err)
	}
	if err := host.ResourceDropOutputStream(ctx, in); err == nil {
		t.Error("dropping a stale handle should fail")
	}
}

func TestHost_Namespaces(t *testing.T) {
	w := preview2.New()
	defer w.Close()
	h := NewHost(w)

	for ns, fns := range map[string]map[string]any{
		h.Error.Namespace():   h.Error.Register(),
		h.Poll.Namespace():    h.Poll.Register(),
		h.Streams.Namespace(): h.Streams.Register(),
	} {
		if len(fns) == 0 {
			t.Errorf("%s registers no functions", ns)
		}
	}
}
