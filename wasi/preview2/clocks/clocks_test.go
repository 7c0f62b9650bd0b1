package clocks

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/wippyai/wasihost/wasi/preview2"
)

func newTestWASI(t *testing.T) (*preview2.WASI, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	w := preview2.New().WithClock(mock)
	t.Cleanup(func() { _ = w.Close() })
	return w, mock
}

func pollable(t *testing.T, w *preview2.WASI, h uint32) *preview2.Pollable {
	t.Helper()
	p, err := preview2.GetAs[*preview2.Pollable](w.Resources(), h)
	if err != nil {
		t.Fatalf("expected pollable: %v", err)
	}
	return p
}

func isReady(t *testing.T, w *preview2.WASI, h uint32) bool {
	t.Helper()
	ok, err := pollable(t, w, h).IsReady(w.Resources())
	if err != nil {
		t.Fatal(err)
	}
	return ok
}

func waitReady(t *testing.T, w *preview2.WASI, h uint32) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pollable(t, w, h).Block(ctx, w.Resources()); err != nil {
		t.Fatalf("pollable never became ready: %v", err)
	}
}

func TestMonotonicClockHost_Now(t *testing.T) {
	w, mock := newTestWASI(t)
	host := NewMonotonicClockHost(w)
	ctx := context.Background()

	now1 := host.Now(ctx)
	mock.Add(time.Millisecond)
	now2 := host.Now(ctx)

	if now2-now1 != 1_000_000 {
		t.Errorf("expected 1ms elapsed, got %dns", now2-now1)
	}
}

func TestMonotonicClockHost_Resolution(t *testing.T) {
	w, _ := newTestWASI(t)
	host := NewMonotonicClockHost(w)

	if res := host.Resolution(context.Background()); res != 1 {
		t.Errorf("expected resolution 1 (nanosecond), got %d", res)
	}
}

func TestMonotonicClockHost_SubscribeDuration(t *testing.T) {
	w, mock := newTestWASI(t)
	host := NewMonotonicClockHost(w)

	handle, err := host.SubscribeDuration(context.Background(), 10_000_000)
	if err != nil {
		t.Fatal(err)
	}
	if isReady(t, w, handle) {
		t.Error("expected pollable to NOT be ready before 10ms")
	}

	mock.Add(5 * time.Millisecond)
	if isReady(t, w, handle) {
		t.Error("expected pollable to NOT be ready at 5ms")
	}

	mock.Add(5 * time.Millisecond)
	waitReady(t, w, handle)
}

func TestMonotonicClockHost_SubscribeDurationZero(t *testing.T) {
	w, _ := newTestWASI(t)
	host := NewMonotonicClockHost(w)

	handle, err := host.SubscribeDuration(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if !isReady(t, w, handle) {
		t.Error("zero duration must be ready immediately")
	}
}

func TestMonotonicClockHost_SubscribeDurationOverflow(t *testing.T) {
	w, mock := newTestWASI(t)
	host := NewMonotonicClockHost(w)

	handle, err := host.SubscribeDuration(context.Background(), math.MaxUint64)
	if err != nil {
		t.Fatal(err)
	}
	mock.Add(24 * time.Hour)
	if isReady(t, w, handle) {
		t.Error("overflowing duration must never fire")
	}
}

func TestMonotonicClockHost_SubscribeInstant(t *testing.T) {
	w, mock := newTestWASI(t)
	host := NewMonotonicClockHost(w)
	ctx := context.Background()

	mock.Add(time.Second)
	past, _ := host.SubscribeInstant(ctx, 0)
	if !isReady(t, w, past) {
		t.Error("instant in the past must be ready")
	}

	when := host.Now(ctx) + 10_000_000
	future, err := host.SubscribeInstant(ctx, when)
	if err != nil {
		t.Fatal(err)
	}
	if isReady(t, w, future) {
		t.Error("expected pollable to NOT be ready yet (10ms in future)")
	}
	mock.Add(10 * time.Millisecond)
	waitReady(t, w, future)
}

func TestMonotonicClockHost_DropRemovesDeadline(t *testing.T) {
	w, _ := newTestWASI(t)
	host := NewMonotonicClockHost(w)

	handle, _ := host.SubscribeDuration(context.Background(), 1_000_000)
	if n := w.Resources().Len(); n != 2 {
		t.Fatalf("expected pollable and deadline, got %d entries", n)
	}

	p, err := preview2.DeleteAs[*preview2.Pollable](w.Resources(), handle)
	if err != nil {
		t.Fatal(err)
	}
	if !p.RemoveSourceOnDrop() {
		t.Fatal("clock pollables own their deadline")
	}
	if _, err := w.Resources().Delete(p.Source()); err != nil {
		t.Fatal(err)
	}
	if n := w.Resources().Len(); n != 0 {
		t.Errorf("expected empty table, got %d", n)
	}
}

func TestWallClockHost_Now(t *testing.T) {
	w, mock := newTestWASI(t)
	host := NewWallClockHost(w)

	mock.Set(time.Unix(1_700_000_000, 42))
	dt := host.Now(context.Background())

	if dt.Seconds != 1_700_000_000 || dt.Nanoseconds != 42 {
		t.Errorf("unexpected datetime %+v", dt)
	}
}

func TestWallClockHost_Resolution(t *testing.T) {
	w, _ := newTestWASI(t)
	host := NewWallClockHost(w)

	res := host.Resolution(context.Background())
	if res.Seconds != 0 || res.Nanoseconds != 1 {
		t.Errorf("expected resolution (0s, 1ns), got (%ds, %dns)", res.Seconds, res.Nanoseconds)
	}
}

func TestDeadline(t *testing.T) {
	mock := clock.NewMock()

	select {
	case <-Past().Ready():
	default:
		t.Error("past deadline must be ready")
	}

	select {
	case <-Never().Ready():
		t.Error("never deadline fired")
	default:
	}

	d := At(mock, mock.Now().Add(time.Second))
	d.Drop()
	mock.Add(2 * time.Second)
	select {
	case <-d.Ready():
		t.Error("dropped deadline fired")
	case <-time.After(20 * time.Millisecond):
	}
}
