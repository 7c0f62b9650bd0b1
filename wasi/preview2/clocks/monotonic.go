package clocks

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/wippyai/wasihost/wasi/preview2"
)

// MonotonicClockHost exposes wasi:clocks/monotonic-clock. Instants are
// nanoseconds since the host was created.
type MonotonicClockHost struct {
	resources *preview2.ResourceTable
	clock     clock.Clock
	startTime time.Time
}

func NewMonotonicClockHost(w *preview2.WASI) *MonotonicClockHost {
	clk := w.Clock()
	return &MonotonicClockHost{
		resources: w.Resources(),
		clock:     clk,
		startTime: clk.Now(),
	}
}

func (h *MonotonicClockHost) Namespace() string {
	return "wasi:clocks/monotonic-clock@0.2.8"
}

func (h *MonotonicClockHost) Now(_ context.Context) uint64 {
	return uint64(h.clock.Since(h.startTime))
}

func (h *MonotonicClockHost) Resolution(_ context.Context) uint64 {
	return 1
}

// SubscribeInstant returns a pollable ready once the clock reaches when.
// Instants in the past are ready immediately.
func (h *MonotonicClockHost) SubscribeInstant(_ context.Context, when uint64) (uint32, error) {
	d, ok := duration(when)
	if !ok {
		return h.subscribe(Never())
	}
	return h.subscribe(At(h.clock, h.startTime.Add(d)))
}

// SubscribeDuration returns a pollable ready once duration nanoseconds have
// elapsed. Zero is ready immediately; a duration past the representable
// range never fires.
func (h *MonotonicClockHost) SubscribeDuration(_ context.Context, ns uint64) (uint32, error) {
	d, ok := duration(ns)
	if !ok {
		return h.subscribe(Never())
	}
	return h.subscribe(After(h.clock, d))
}

func (h *MonotonicClockHost) subscribe(d *Deadline) (uint32, error) {
	src, err := h.resources.Push(d)
	if err != nil {
		d.Drop()
		return 0, err
	}
	p, err := preview2.SubscribeOwned(h.resources, src)
	if err != nil {
		_, _ = h.resources.Delete(src)
		return 0, err
	}
	return p, nil
}

func (h *MonotonicClockHost) Register() map[string]any {
	return map[string]any{
		"now":                h.Now,
		"resolution":         h.Resolution,
		"subscribe-instant":  h.SubscribeInstant,
		"subscribe-duration": h.SubscribeDuration,
	}
}
