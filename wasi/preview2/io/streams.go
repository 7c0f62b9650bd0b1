package io

import (
	"context"

	"github.com/wippyai/wasihost/errors"
	"github.com/wippyai/wasihost/wasi/preview2"
)

// StreamsHost exposes wasi:io/streams. Stream failures are returned as
// *preview2.StreamError; any other error is a trap.
type StreamsHost struct {
	resources *preview2.ResourceTable
}

func NewStreamsHost(resources *preview2.ResourceTable) *StreamsHost {
	return &StreamsHost{resources: resources}
}

func (h *StreamsHost) Namespace() string {
	return "wasi:io/streams@0.2.8"
}

// size clamps a guest length to what a single call may move.
func size(n uint64) int {
	if n > preview2.MaxReadSize {
		return preview2.MaxReadSize
	}
	return int(n)
}

// streamErr moves the cause of a failed operation into an error resource
// so the guest can inspect it.
func (h *StreamsHost) streamErr(err error) error {
	var se *preview2.StreamError
	if !errors.As(err, &se) || !se.LastOpFailed || se.LastOpFailedErr != 0 {
		return err
	}
	cause := se.Cause
	if cause == nil {
		cause = se
	}
	handle, perr := h.resources.Push(preview2.NewErrorResource(cause))
	if perr != nil {
		return perr
	}
	se.LastOpFailedErr = handle
	return se
}

func (h *StreamsHost) input(self uint32) (preview2.InputStream, error) {
	return preview2.GetAs[preview2.InputStream](h.resources, self)
}

func (h *StreamsHost) output(self uint32) (preview2.OutputStream, error) {
	return preview2.GetAs[preview2.OutputStream](h.resources, self)
}

func (h *StreamsHost) MethodInputStreamRead(_ context.Context, self uint32, length uint64) ([]byte, error) {
	s, err := h.input(self)
	if err != nil {
		return nil, err
	}
	data, err := s.Read(size(length))
	return data, h.streamErr(err)
}

func (h *StreamsHost) MethodInputStreamBlockingRead(ctx context.Context, self uint32, length uint64) ([]byte, error) {
	s, err := h.input(self)
	if err != nil {
		return nil, err
	}
	data, err := preview2.BlockingRead(ctx, s, size(length))
	return data, h.streamErr(err)
}

func (h *StreamsHost) MethodInputStreamSkip(_ context.Context, self uint32, length uint64) (uint64, error) {
	s, err := h.input(self)
	if err != nil {
		return 0, err
	}
	n, err := s.Skip(size(length))
	return uint64(n), h.streamErr(err)
}

func (h *StreamsHost) MethodInputStreamBlockingSkip(ctx context.Context, self uint32, length uint64) (uint64, error) {
	s, err := h.input(self)
	if err != nil {
		return 0, err
	}
	n, err := preview2.BlockingSkip(ctx, s, size(length))
	return uint64(n), h.streamErr(err)
}

func (h *StreamsHost) MethodInputStreamSubscribe(_ context.Context, self uint32) (uint32, error) {
	if _, err := h.input(self); err != nil {
		return 0, err
	}
	return preview2.Subscribe(h.resources, self)
}

func (h *StreamsHost) MethodOutputStreamCheckWrite(_ context.Context, self uint32) (uint64, error) {
	s, err := h.output(self)
	if err != nil {
		return 0, err
	}
	n, err := s.CheckWrite()
	return uint64(n), h.streamErr(err)
}

func (h *StreamsHost) MethodOutputStreamWrite(_ context.Context, self uint32, contents []byte) error {
	s, err := h.output(self)
	if err != nil {
		return err
	}
	return h.streamErr(s.Write(contents))
}

func (h *StreamsHost) MethodOutputStreamBlockingWriteAndFlush(ctx context.Context, self uint32, contents []byte) error {
	s, err := h.output(self)
	if err != nil {
		return err
	}
	return h.streamErr(preview2.BlockingWriteAndFlush(ctx, s, contents))
}

func (h *StreamsHost) MethodOutputStreamFlush(_ context.Context, self uint32) error {
	s, err := h.output(self)
	if err != nil {
		return err
	}
	return h.streamErr(s.Flush())
}

func (h *StreamsHost) MethodOutputStreamBlockingFlush(ctx context.Context, self uint32) error {
	s, err := h.output(self)
	if err != nil {
		return err
	}
	return h.streamErr(preview2.BlockingFlush(ctx, s))
}

func (h *StreamsHost) MethodOutputStreamSubscribe(_ context.Context, self uint32) (uint32, error) {
	if _, err := h.output(self); err != nil {
		return 0, err
	}
	return preview2.Subscribe(h.resources, self)
}

func (h *StreamsHost) MethodOutputStreamWriteZeroes(_ context.Context, self uint32, length uint64) error {
	s, err := h.output(self)
	if err != nil {
		return err
	}
	if length > preview2.MaxReadSize {
		return errors.Trap(errors.PhaseIO, "write-zeroes length %d exceeds %d", length, preview2.MaxReadSize)
	}
	return h.streamErr(preview2.WriteZeroes(s, int(length)))
}

func (h *StreamsHost) MethodOutputStreamBlockingWriteZeroesAndFlush(ctx context.Context, self uint32, length uint64) error {
	s, err := h.output(self)
	if err != nil {
		return err
	}
	if length > preview2.MaxBlockingWriteSize {
		return errors.Trap(errors.PhaseIO, "Buffer too large for blocking-write-zeroes-and-flush (expected at most %d)", preview2.MaxBlockingWriteSize)
	}
	return h.streamErr(preview2.BlockingWriteZeroesAndFlush(ctx, s, int(length)))
}

func (h *StreamsHost) MethodOutputStreamSplice(_ context.Context, self uint32, src uint32, length uint64) (uint64, error) {
	dst, err := h.output(self)
	if err != nil {
		return 0, err
	}
	in, err := h.input(src)
	if err != nil {
		return 0, err
	}
	n, err := preview2.Splice(dst, in, size(length))
	return uint64(n), h.streamErr(err)
}

func (h *StreamsHost) MethodOutputStreamBlockingSplice(ctx context.Context, self uint32, src uint32, length uint64) (uint64, error) {
	dst, err := h.output(self)
	if err != nil {
		return 0, err
	}
	in, err := h.input(src)
	if err != nil {
		return 0, err
	}
	n, err := preview2.BlockingSplice(ctx, dst, in, size(length))
	return uint64(n), h.streamErr(err)
}

func (h *StreamsHost) ResourceDropInputStream(_ context.Context, self uint32) error {
	_, err := preview2.DeleteAs[preview2.InputStream](h.resources, self)
	return err
}

func (h *StreamsHost) ResourceDropOutputStream(_ context.Context, self uint32) error {
	_, err := preview2.DeleteAs[preview2.OutputStream](h.resources, self)
	return err
}

func (h *StreamsHost) Register() map[string]any {
	return map[string]any{
		"[method]input-stream.read":          h.MethodInputStreamRead,
		"[method]input-stream.blocking-read": h.MethodInputStreamBlockingRead,
		"[method]input-stream.skip":          h.MethodInputStreamSkip,
		"[method]input-stream.blocking-skip": h.MethodInputStreamBlockingSkip,
		"[method]input-stream.subscribe":     h.MethodInputStreamSubscribe,
		// Output stream methods
		"[method]output-stream.check-write":                     h.MethodOutputStreamCheckWrite,
		"[method]output-stream.write":                           h.MethodOutputStreamWrite,
		"[method]output-stream.blocking-write-and-flush":        h.MethodOutputStreamBlockingWriteAndFlush,
		"[method]output-stream.flush":                           h.MethodOutputStreamFlush,
		"[method]output-stream.blocking-flush":                  h.MethodOutputStreamBlockingFlush,
		"[method]output-stream.subscribe":                       h.MethodOutputStreamSubscribe,
		"[method]output-stream.write-zeroes":                    h.MethodOutputStreamWriteZeroes,
		"[method]output-stream.blocking-write-zeroes-and-flush": h.MethodOutputStreamBlockingWriteZeroesAndFlush,
		"[method]output-stream.splice":                          h.MethodOutputStreamSplice,
		"[method]output-stream.blocking-splice":                 h.MethodOutputStreamBlockingSplice,
		// Resource destructors
		"[resource-drop]input-stream":  h.ResourceDropInputStream,
		"[resource-drop]output-stream": h.ResourceDropOutputStream,
	}
}
