package preview2

import (
	"io"
	"sync"

	"github.com/valyala/bytebufferpool"

	"github.com/wippyai/wasihost/errors"
)

// MemoryInputPipe is an input stream over a fixed byte slice. It is always
// ready and reports closed once drained.
type MemoryInputPipe struct {
	data []byte
	mu   sync.Mutex
}

// NewMemoryInputPipe creates an input stream that yields data.
func NewMemoryInputPipe(data []byte) *MemoryInputPipe {
	return &MemoryInputPipe{data: data}
}

func (s *MemoryInputPipe) Type() ResourceType      { return ResourceInputStream }
func (s *MemoryInputPipe) Drop()                   {}
func (s *MemoryInputPipe) Ready() <-chan struct{} { return readyNow }

func (s *MemoryInputPipe) Read(size int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.data) == 0 {
		return nil, StreamClosed()
	}
	n := min(size, len(s.data))
	out := s.data[:n:n]
	s.data = s.data[n:]
	return out, nil
}

func (s *MemoryInputPipe) Skip(size int) (int, error) {
	data, err := s.Read(size)
	return len(data), err
}

// MemoryOutputPipe is an output stream collecting writes in memory up to a
// fixed capacity. The host drains it with Take.
type MemoryOutputPipe struct {
	buf      *bytebufferpool.ByteBuffer
	ready    signal
	capacity int
	mu       sync.Mutex
}

// NewMemoryOutputPipe creates an output stream accepting at most capacity
// undrained bytes.
func NewMemoryOutputPipe(capacity int) *MemoryOutputPipe {
	return &MemoryOutputPipe{
		buf:      bytebufferpool.Get(),
		capacity: capacity,
	}
}

func (s *MemoryOutputPipe) Type() ResourceType { return ResourceOutputStream }

// Drop keeps the collected bytes so the host can read them after the guest
// released the stream.
func (s *MemoryOutputPipe) Drop() {}

func (s *MemoryOutputPipe) Ready() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf == nil || s.buf.Len() < s.capacity {
		return readyNow
	}
	return s.ready.wait()
}

func (s *MemoryOutputPipe) CheckWrite() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf == nil {
		return 0, StreamClosed()
	}
	return s.capacity - s.buf.Len(), nil
}

func (s *MemoryOutputPipe) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf == nil {
		return StreamClosed()
	}
	if room := s.capacity - s.buf.Len(); len(p) > room {
		return errors.Trap(errors.PhaseIO, "write of %d bytes beyond capacity of memory output pipe (%d available)", len(p), room)
	}
	_, _ = s.buf.Write(p)
	return nil
}

func (s *MemoryOutputPipe) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf == nil {
		return StreamClosed()
	}
	return nil
}

// Contents returns a copy of the collected bytes.
func (s *MemoryOutputPipe) Contents() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf == nil {
		return nil
	}
	return append([]byte(nil), s.buf.B...)
}

// Take returns the collected bytes and frees their capacity.
func (s *MemoryOutputPipe) Take() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf == nil {
		return nil
	}
	out := append([]byte(nil), s.buf.B...)
	s.buf.Reset()
	s.ready.broadcast()
	return out
}

// Release returns the buffer to the pool. The stream reports closed
// afterwards.
func (s *MemoryOutputPipe) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf != nil {
		bytebufferpool.Put(s.buf)
		s.buf = nil
		s.ready.broadcast()
	}
}

// Pipe connects a guest-facing output stream to a host-side io.Reader
// through a bounded buffer. Writes complete once buffered, so a guest can
// fill a request body before the request is dispatched.
type Pipe struct {
	buf      []byte
	err      error // reader-side error once the writer closed
	readErr  error // set when the reader side went away
	ready    signal
	cond     *sync.Cond
	capacity int
	mu       sync.Mutex
	closed   bool
	reported bool
}

// NewPipe creates a pipe buffering up to capacity bytes.
func NewPipe(capacity int) *Pipe {
	p := &Pipe{capacity: capacity}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Writer returns the output-stream side of the pipe. Dropping it does not
// close the pipe; call CloseWrite when the body is complete.
func (p *Pipe) Writer() OutputStream { return (*pipeWriter)(p) }

// Reader returns the host side of the pipe.
func (p *Pipe) Reader() io.ReadCloser { return (*pipeReader)(p) }

// CloseWrite ends the stream. Readers see err after draining buffered
// bytes, or io.EOF when err is nil.
func (p *Pipe) CloseWrite(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if err == nil {
		err = io.EOF
	}
	p.closed = true
	p.err = err
	p.cond.Broadcast()
	p.ready.broadcast()
}

type pipeWriter Pipe

func (w *pipeWriter) Type() ResourceType { return ResourceOutputStream }
func (w *pipeWriter) Drop()              {}

func (w *pipeWriter) Ready() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.readErr != nil || len(w.buf) < w.capacity {
		return readyNow
	}
	return w.ready.wait()
}

func (w *pipeWriter) state() error {
	if w.readErr != nil {
		if !w.reported {
			w.reported = true
			return LastOperationFailed(w.readErr)
		}
		return StreamClosed()
	}
	if w.closed {
		return StreamClosed()
	}
	return nil
}

func (w *pipeWriter) CheckWrite() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.state(); err != nil {
		return 0, err
	}
	return w.capacity - len(w.buf), nil
}

func (w *pipeWriter) Write(p []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.state(); err != nil {
		return err
	}
	if room := w.capacity - len(w.buf); len(p) > room {
		return errors.Trap(errors.PhaseIO, "write of %d bytes exceeds permit of %d", len(p), room)
	}
	w.buf = append(w.buf, p...)
	w.cond.Broadcast()
	return nil
}

// Flush is immediate: buffered bytes are already visible to the reader.
func (w *pipeWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state()
}

type pipeReader Pipe

func (r *pipeReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.buf) == 0 && !r.closed && r.readErr == nil {
		r.cond.Wait()
	}
	if r.readErr != nil {
		return 0, io.ErrClosedPipe
	}
	if len(r.buf) == 0 {
		return 0, r.err
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	if len(r.buf) == 0 {
		r.buf = nil
	}
	r.ready.broadcast()
	return n, nil
}

// Close detaches the reader. Later guest writes fail once with the
// closed-pipe error, then report closed.
func (r *pipeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.readErr == nil {
		r.readErr = io.ErrClosedPipe
		r.buf = nil
		r.cond.Broadcast()
		r.ready.broadcast()
	}
	return nil
}
