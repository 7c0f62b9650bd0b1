package preview2

import (
	"context"

	"github.com/wippyai/wasihost/errors"
)

// MaxBlockingWriteSize is the largest buffer accepted by
// blocking-write-and-flush and blocking-write-zeroes-and-flush.
const MaxBlockingWriteSize = 4096

// StreamError is the guest-visible failure of a stream operation.
type StreamError struct {
	// Cause is the failure behind LastOpFailed.
	Cause error
	// LastOpFailedErr is the handle of the error resource holding Cause
	// once the error has been handed to the guest.
	LastOpFailedErr uint32
	Closed          bool
	LastOpFailed    bool
}

// StreamClosed returns the error of a stream that will produce or accept
// no more data.
func StreamClosed() *StreamError {
	return &StreamError{Closed: true}
}

// LastOperationFailed returns the error of a stream whose last operation
// failed with cause.
func LastOperationFailed(cause error) *StreamError {
	return &StreamError{LastOpFailed: true, Cause: cause}
}

func (e *StreamError) Error() string {
	if e.Closed {
		return "stream closed"
	}
	if e.Cause != nil {
		return "last operation failed: " + e.Cause.Error()
	}
	return "last operation failed"
}

func (e *StreamError) Unwrap() error { return e.Cause }

// IsStreamClosed reports whether err is a closed-stream error.
func IsStreamClosed(err error) bool {
	var se *StreamError
	return errors.As(err, &se) && se.Closed
}

// InputStream is the host side of wasi:io/streams input-stream.
// Read and Skip never block; they return zero bytes when nothing is
// available yet. Errors are *StreamError values or traps.
type InputStream interface {
	Resource
	Subscriber
	Read(size int) ([]byte, error)
	Skip(size int) (int, error)
}

// OutputStream is the host side of wasi:io/streams output-stream.
// CheckWrite reports how many bytes the next Write accepts; writing more
// than that traps. Ready fires when CheckWrite would report a non-zero
// permit or an error.
type OutputStream interface {
	Resource
	Subscriber
	CheckWrite() (int, error)
	Write(p []byte) error
	Flush() error
}

// Wait blocks until s is ready or ctx is done.
func Wait(ctx context.Context, s Subscriber) error {
	select {
	case <-s.Ready():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BlockingRead waits for s to be ready and reads up to size bytes.
func BlockingRead(ctx context.Context, s InputStream, size int) ([]byte, error) {
	if err := Wait(ctx, s); err != nil {
		return nil, err
	}
	return s.Read(size)
}

// BlockingSkip waits for s to be ready and skips up to size bytes.
func BlockingSkip(ctx context.Context, s InputStream, size int) (int, error) {
	if err := Wait(ctx, s); err != nil {
		return 0, err
	}
	return s.Skip(size)
}

// WriteReady waits until s accepts at least one byte and returns the permit.
func WriteReady(ctx context.Context, s OutputStream) (int, error) {
	for {
		n, err := s.CheckWrite()
		if err != nil || n > 0 {
			return n, err
		}
		if err := Wait(ctx, s); err != nil {
			return 0, err
		}
	}
}

// BlockingFlush requests a flush and waits for it to complete.
func BlockingFlush(ctx context.Context, s OutputStream) error {
	if err := s.Flush(); err != nil {
		return err
	}
	_, err := WriteReady(ctx, s)
	return err
}

// BlockingWriteAndFlush writes p in permit-sized chunks, then flushes and
// waits for the flush. Buffers over MaxBlockingWriteSize trap before any
// I/O.
func BlockingWriteAndFlush(ctx context.Context, s OutputStream, p []byte) error {
	if len(p) > MaxBlockingWriteSize {
		return errors.Trap(errors.PhaseIO, "Buffer too large for blocking-write-and-flush (expected at most %d)", MaxBlockingWriteSize)
	}
	for len(p) > 0 {
		permit, err := WriteReady(ctx, s)
		if err != nil {
			return err
		}
		n := min(permit, len(p))
		if err := s.Write(p[:n]); err != nil {
			return err
		}
		p = p[n:]
	}
	return BlockingFlush(ctx, s)
}

// WriteZeroes writes n zero bytes without blocking.
func WriteZeroes(s OutputStream, n int) error {
	return s.Write(make([]byte, n))
}

// BlockingWriteZeroesAndFlush is BlockingWriteAndFlush with n zero bytes.
func BlockingWriteZeroesAndFlush(ctx context.Context, s OutputStream, n int) error {
	if n > MaxBlockingWriteSize {
		return errors.Trap(errors.PhaseIO, "Buffer too large for blocking-write-zeroes-and-flush (expected at most %d)", MaxBlockingWriteSize)
	}
	return BlockingWriteAndFlush(ctx, s, make([]byte, n))
}

// Splice moves up to size bytes from src to dst without blocking. It moves
// at most the destination's current permit and leaves src untouched when
// the permit is zero.
func Splice(dst OutputStream, src InputStream, size int) (int, error) {
	permit, err := dst.CheckWrite()
	if err != nil {
		return 0, err
	}
	n := min(size, permit)
	if n == 0 {
		return 0, nil
	}
	return transfer(dst, src, n)
}

// BlockingSplice waits for the destination to accept data and for the
// source to produce it, then moves up to size bytes. Moved bytes are
// flushed and the call returns once the flush completes.
func BlockingSplice(ctx context.Context, dst OutputStream, src InputStream, size int) (int, error) {
	permit, err := WriteReady(ctx, dst)
	if err != nil {
		return 0, err
	}
	n := min(size, permit)
	if n == 0 {
		return 0, nil
	}
	if err := Wait(ctx, src); err != nil {
		return 0, err
	}
	moved, err := transfer(dst, src, n)
	if err != nil || moved == 0 {
		return moved, err
	}
	return moved, BlockingFlush(ctx, dst)
}

func transfer(dst OutputStream, src InputStream, n int) (int, error) {
	data, err := src.Read(n)
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}
	if err := dst.Write(data); err != nil {
		return 0, err
	}
	return len(data), nil
}
