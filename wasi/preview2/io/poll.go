package io

import (
	"context"
	"math"

	"github.com/wippyai/wasihost/errors"
	"github.com/wippyai/wasihost/wasi/preview2"
)

type PollHost struct {
	resources *preview2.ResourceTable
}

func NewPollHost(resources *preview2.ResourceTable) *PollHost {
	return &PollHost{resources: resources}
}

func (h *PollHost) Namespace() string {
	return "wasi:io/poll@0.2.8"
}

// Poll blocks until at least one pollable is ready and returns the indices
// of all ready pollables. Duplicates are allowed.
func (h *PollHost) Poll(ctx context.Context, pollables []uint32) ([]uint32, error) {
	if len(pollables) == 0 {
		return nil, errors.Trap(errors.PhasePoll, "empty poll list")
	}
	if uint64(len(pollables)) > math.MaxUint32 {
		return nil, errors.Trap(errors.PhasePoll, "poll list too long")
	}

	groups := make([][]<-chan struct{}, len(pollables))
	for i, handle := range pollables {
		p, err := preview2.GetAs[*preview2.Pollable](h.resources, handle)
		if err != nil {
			return nil, err
		}
		if groups[i], err = p.Channels(h.resources); err != nil {
			return nil, err
		}
	}

	ready, err := preview2.WaitAny(ctx, groups...)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, len(ready))
	for i, idx := range ready {
		out[i] = uint32(idx)
	}
	return out, nil
}

func (h *PollHost) MethodPollableReady(_ context.Context, self uint32) (bool, error) {
	p, err := preview2.GetAs[*preview2.Pollable](h.resources, self)
	if err != nil {
		return false, err
	}
	return p.IsReady(h.resources)
}

func (h *PollHost) MethodPollableBlock(ctx context.Context, self uint32) error {
	p, err := preview2.GetAs[*preview2.Pollable](h.resources, self)
	if err != nil {
		return err
	}
	return p.Block(ctx, h.resources)
}

// ResourceDropPollable removes the pollable, and its source when the source
// was created only to back it.
func (h *PollHost) ResourceDropPollable(_ context.Context, self uint32) error {
	p, err := preview2.DeleteAs[*preview2.Pollable](h.resources, self)
	if err != nil {
		return err
	}
	if p.RemoveSourceOnDrop() {
		if _, err := h.resources.Delete(p.Source()); err != nil {
			return err
		}
	}
	return nil
}

func (h *PollHost) Register() map[string]any {
	return map[string]any{
		"poll":                    h.Poll,
		"[method]pollable.ready":  h.MethodPollableReady,
		"[method]pollable.block":  h.MethodPollableBlock,
		"[resource-drop]pollable": h.ResourceDropPollable,
	}
}
