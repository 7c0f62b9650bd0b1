package clocks

import (
	"context"

	"github.com/benbjohnson/clock"

	"github.com/wippyai/wasihost/wasi/preview2"
)

type WallClockHost struct {
	clock clock.Clock
}

func NewWallClockHost(w *preview2.WASI) *WallClockHost {
	return &WallClockHost{clock: w.Clock()}
}

func (h *WallClockHost) Namespace() string {
	return "wasi:clocks/wall-clock@0.2.8"
}

type Datetime struct {
	Seconds     uint64
	Nanoseconds uint32
}

func (h *WallClockHost) Now(_ context.Context) Datetime {
	now := h.clock.Now()
	return Datetime{
		Seconds:     uint64(now.Unix()),
		Nanoseconds: uint32(now.Nanosecond()),
	}
}

func (h *WallClockHost) Resolution(_ context.Context) Datetime {
	return Datetime{Nanoseconds: 1}
}

func (h *WallClockHost) Register() map[string]any {
	return map[string]any{
		"now":        h.Now,
		"resolution": h.Resolution,
	}
}
