package io

import "github.com/wippyai/wasihost/wasi/preview2"

// Host aggregates all IO hosts for convenience.
type Host struct {
	Error   *ErrorHost
	Poll    *PollHost
	Streams *StreamsHost
}

// NewHost creates all IO hosts over the resource table of w.
func NewHost(w *preview2.WASI) *Host {
	resources := w.Resources()
	return &Host{
		Error:   NewErrorHost(resources),
		Poll:    NewPollHost(resources),
		Streams: NewStreamsHost(resources),
	}
}
