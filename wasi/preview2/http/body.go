package http

import (
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wippyai/wasihost/errors"
	"github.com/wippyai/wasihost/wasi/preview2"
	"github.com/wippyai/wasihost/wasi/preview2/task"
)

// ErrTrailersConsumed is returned by future-trailers.get once the trailers
// have been handed out.
var ErrTrailersConsumed = errors.InvalidState(errors.PhaseHTTP, "trailers already consumed")

// ReadDeadliner bounds the next read of a body. net.Conn and
// http.ResponseController implement it.
type ReadDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// timedBody gives every read its own between-bytes deadline. A failure of
// the connection worker takes precedence over the read error it caused.
type timedBody struct {
	body     io.ReadCloser
	deadline ReadDeadliner
	worker   *task.Task[error]
	timeout  time.Duration
	eof      atomic.Bool
	closed   atomic.Bool
}

func newTimedBody(body io.ReadCloser, deadline ReadDeadliner, worker *task.Task[error], timeout time.Duration) *timedBody {
	return &timedBody{body: body, deadline: deadline, worker: worker, timeout: timeout}
}

func (b *timedBody) Read(p []byte) (int, error) {
	if b.deadline != nil && b.timeout > 0 {
		_ = b.deadline.SetReadDeadline(time.Now().Add(b.timeout))
	}
	n, err := b.body.Read(p)
	switch {
	case err == nil:
		return n, nil
	case err == io.EOF:
		b.eof.Store(true)
		return n, err
	default:
		return n, b.classify(err)
	}
}

func (b *timedBody) classify(err error) error {
	if b.worker != nil {
		if res, ok := b.worker.Poll(); ok && res.Value != nil {
			return ProtocolError(res.Value.Error())
		}
	}
	if isTimeout(err) {
		return TimeoutError("between bytes")
	}
	return ProtocolError(err.Error())
}

// Close releases the body without draining it. On a client connection a
// read blocked on the peer is interrupted first.
func (b *timedBody) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	if b.worker != nil && b.deadline != nil && !b.eof.Load() {
		_ = b.deadline.SetReadDeadline(time.Unix(1, 0))
	}
	return b.body.Close()
}

// bodySource is an incoming body that has not been consumed yet.
type bodySource struct {
	timed   *timedBody
	trailer func() http.Header
}

func (s *bodySource) close() {
	if s != nil {
		_ = s.timed.Close()
	}
}

// IncomingBody is the body of an incoming request or response. Its stream
// is handed out once, as a child; the body itself holds a reference to the
// connection worker.
type IncomingBody struct {
	src         *bodySource
	worker      *task.Shared[error]
	chunk       int
	streamTaken bool
	finishing   bool
}

func newIncomingBody(src *bodySource, worker *task.Shared[error], chunk int) *IncomingBody {
	return &IncomingBody{src: src, worker: worker, chunk: chunk}
}

func (b *IncomingBody) Type() preview2.ResourceType { return preview2.ResourceIncomingBody }

func (b *IncomingBody) Drop() {
	if b.finishing {
		return
	}
	if !b.streamTaken {
		b.src.close()
	}
	if b.worker != nil {
		b.worker.Release()
	}
}

// stream returns the input stream over the body. It fails after the first call.
func (b *IncomingBody) stream() (preview2.InputStream, error) {
	if b.streamTaken {
		return nil, ErrBodyTaken
	}
	b.streamTaken = true
	return preview2.NewAsyncReader(b.src.timed, b.chunk), nil
}

type trailersResult struct {
	trailers http.Header
	err      *ErrorCode
}

// FutureTrailers resolves once the rest of the body has been read and its
// trailers are known.
type FutureTrailers struct {
	pending  *task.Task[trailersResult]
	result   *trailersResult
	mu       sync.Mutex
	consumed bool
}

// finishBody drains what the guest did not read of src. The worker
// reference moves into the drain task and is released when it ends.
func finishBody(src *bodySource, worker *task.Shared[error]) *FutureTrailers {
	t := task.Spawn(context.Background(), func(ctx context.Context) trailersResult {
		defer func() {
			src.close()
			if worker != nil {
				worker.Release()
			}
		}()
		timed := src.timed
		if !timed.eof.Load() {
			if timed.closed.Load() {
				return trailersResult{}
			}
			stop := context.AfterFunc(ctx, func() { _ = timed.Close() })
			_, err := io.Copy(io.Discard, timed)
			stop()
			if err != nil {
				var code *ErrorCode
				if !errors.As(err, &code) {
					code = ProtocolError(err.Error())
				}
				return trailersResult{err: code}
			}
		}
		return trailersResult{trailers: src.trailer()}
	})
	return &FutureTrailers{pending: t}
}

func (f *FutureTrailers) Type() preview2.ResourceType { return preview2.ResourceFutureTrailers }

func (f *FutureTrailers) Drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending != nil {
		f.pending.Abort()
		f.pending = nil
	}
}

func (f *FutureTrailers) Ready() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending != nil {
		return f.pending.Done()
	}
	return preview2.ReadyNow()
}

// get returns nil while the trailers are pending, the result once, and
// ErrTrailersConsumed after that.
func (f *FutureTrailers) get() (*trailersResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.consumed {
		return nil, ErrTrailersConsumed
	}
	if f.pending != nil {
		res, ok := f.pending.Poll()
		if !ok {
			return nil, nil
		}
		f.pending = nil
		if res.Err != nil {
			return nil, errors.Wrap(errors.PhaseHTTP, errors.KindTrap, res.Err, "trailers task failed")
		}
		f.result = &res.Value
	}
	f.consumed = true
	return f.result, nil
}
