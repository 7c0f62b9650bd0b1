package preview2

import (
	"context"
	"io"
	"sync"

	"github.com/wippyai/wasihost/errors"
)

// AsyncReader is an input stream fed by a goroutine reading from an
// io.Reader one chunk at a time. Read hands out buffered bytes without
// blocking. A read failure is reported once as LastOperationFailed, after
// which the stream reports closed.
type AsyncReader struct {
	src      io.Reader
	err      error
	cancel   context.CancelFunc
	more     chan struct{}
	buf      []byte
	ready    signal
	mu       sync.Mutex
	reported bool
	dropped  bool
}

// NewAsyncReader starts reading src in chunks of up to chunk bytes. If src
// implements io.Closer it is closed when the stream is dropped.
func NewAsyncReader(src io.Reader, chunk int) *AsyncReader {
	if chunk <= 0 {
		chunk = DefaultBufferSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &AsyncReader{
		src:    src,
		cancel: cancel,
		more:   make(chan struct{}, 1),
	}
	go s.fill(ctx, chunk)
	return s
}

func (s *AsyncReader) fill(ctx context.Context, chunk int) {
	buf := make([]byte, chunk)
	for {
		n, err := s.src.Read(buf)

		s.mu.Lock()
		if ctx.Err() != nil {
			s.mu.Unlock()
			return
		}
		if n > 0 {
			s.buf = append([]byte(nil), buf[:n]...)
		}
		if err != nil {
			s.err = err
		}
		s.ready.broadcast()
		s.mu.Unlock()

		if err != nil {
			return
		}
		if n == 0 {
			continue
		}
		select {
		case <-s.more:
		case <-ctx.Done():
			return
		}
	}
}

func (s *AsyncReader) Type() ResourceType { return ResourceInputStream }

// Drop stops the background reader.
func (s *AsyncReader) Drop() {
	s.mu.Lock()
	if s.dropped {
		s.mu.Unlock()
		return
	}
	s.dropped = true
	s.buf = nil
	s.mu.Unlock()

	s.cancel()
	if c, ok := s.src.(io.Closer); ok {
		_ = c.Close()
	}
}

func (s *AsyncReader) Ready() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) > 0 || s.err != nil || s.dropped {
		return readyNow
	}
	return s.ready.wait()
}

func (s *AsyncReader) Read(size int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dropped {
		return nil, StreamClosed()
	}
	if len(s.buf) > 0 {
		n := min(size, len(s.buf))
		out := s.buf[:n:n]
		s.buf = s.buf[n:]
		if len(s.buf) == 0 {
			s.buf = nil
			select {
			case s.more <- struct{}{}:
			default:
			}
		}
		return out, nil
	}
	if s.err != nil {
		return nil, s.terminal()
	}
	return []byte{}, nil
}

func (s *AsyncReader) Skip(size int) (int, error) {
	data, err := s.Read(size)
	return len(data), err
}

// terminal converts the stored read error. Caller holds mu.
func (s *AsyncReader) terminal() error {
	if errors.Is(s.err, io.EOF) || s.reported {
		return StreamClosed()
	}
	s.reported = true
	return LastOperationFailed(s.err)
}

// Flusher is implemented by writers with their own buffering.
type Flusher interface {
	Flush() error
}

// AsyncWriter is an output stream whose writes are performed by a
// goroutine. Up to budget bytes may be queued; the permit is zero while a
// flush is in progress. A write failure is reported once as
// LastOperationFailed, after which the stream reports closed.
type AsyncWriter struct {
	dst      io.Writer
	err      error
	cancel   context.CancelFunc
	wake     chan struct{}
	pending  []byte
	ready    signal
	budget   int
	mu       sync.Mutex
	flushing bool
	closing  bool
	closed   bool
	reported bool
}

// NewAsyncWriter starts a background writer to dst accepting up to budget
// queued bytes.
func NewAsyncWriter(dst io.Writer, budget int) *AsyncWriter {
	if budget <= 0 {
		budget = DefaultBufferSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &AsyncWriter{
		dst:    dst,
		budget: budget,
		cancel: cancel,
		wake:   make(chan struct{}, 1),
	}
	go s.drain(ctx)
	return s
}

func (s *AsyncWriter) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *AsyncWriter) drain(ctx context.Context) {
	for {
		select {
		case <-s.wake:
		case <-ctx.Done():
			return
		}
		for {
			more, err := s.step(ctx)
			if err != nil || !more {
				break
			}
		}
		s.mu.Lock()
		done := s.closed || s.err != nil
		s.mu.Unlock()
		if done {
			return
		}
	}
}

// step performs one write or flush and reports whether work remains.
func (s *AsyncWriter) step(ctx context.Context) (bool, error) {
	s.mu.Lock()
	chunk := s.pending
	flush := s.flushing
	closing := s.closing
	s.mu.Unlock()

	var err error
	switch {
	case len(chunk) > 0:
		_, err = s.dst.Write(chunk)
	case flush:
		if f, ok := s.dst.(Flusher); ok {
			err = f.Flush()
		}
	case closing:
		if c, ok := s.dst.(io.Closer); ok {
			err = c.Close()
		}
	default:
		return false, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case len(chunk) > 0:
		s.pending = s.pending[min(len(chunk), len(s.pending)):]
		if len(s.pending) == 0 {
			s.pending = nil
		}
	case flush:
		s.flushing = false
	case closing:
		s.closing = false
		s.closed = true
	}
	if err != nil {
		s.err = err
	}
	s.ready.broadcast()
	return err == nil && !s.closed, err
}

func (s *AsyncWriter) Type() ResourceType { return ResourceOutputStream }

// Drop stops the background writer. Bytes not yet written are discarded.
func (s *AsyncWriter) Drop() {
	s.mu.Lock()
	s.closed = true
	s.pending = nil
	s.ready.broadcast()
	s.mu.Unlock()
	s.cancel()
}

// CloseWhenDrained closes the destination, if it is an io.Closer, once all
// queued bytes are written.
func (s *AsyncWriter) CloseWhenDrained() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.poke()
}

// state returns the error for the next operation. Caller holds mu.
func (s *AsyncWriter) state() error {
	if s.err != nil {
		if !s.reported {
			s.reported = true
			return LastOperationFailed(s.err)
		}
		return StreamClosed()
	}
	if s.closed || s.closing {
		return StreamClosed()
	}
	return nil
}

func (s *AsyncWriter) permit() int {
	if s.flushing {
		return 0
	}
	return s.budget - len(s.pending)
}

func (s *AsyncWriter) Ready() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil || s.closed || s.permit() > 0 {
		return readyNow
	}
	return s.ready.wait()
}

func (s *AsyncWriter) CheckWrite() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.state(); err != nil {
		return 0, err
	}
	return s.permit(), nil
}

func (s *AsyncWriter) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.state(); err != nil {
		return err
	}
	if permit := s.permit(); len(p) > permit {
		return errors.Trap(errors.PhaseIO, "write of %d bytes exceeds permit of %d", len(p), permit)
	}
	if len(p) == 0 {
		return nil
	}
	s.pending = append(s.pending, p...)
	s.poke()
	return nil
}

func (s *AsyncWriter) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.state(); err != nil {
		return err
	}
	s.flushing = true
	s.poke()
	return nil
}
