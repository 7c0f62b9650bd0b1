package http

import (
	"net/http"
	"sync"

	"github.com/wippyai/wasihost/wasi/preview2"
	"github.com/wippyai/wasihost/wasi/preview2/task"
)

// clientResponse is the head of a response plus everything needed to read
// its body.
type clientResponse struct {
	header http.Header
	body   *bodySource
	worker *task.Shared[error]
	status int
}

// release closes the body and drops the worker reference.
func (r *clientResponse) release() {
	r.body.close()
	r.worker.Release()
}

// clientResult is the outcome of the outgoing pipeline. Exactly one field
// is set.
type clientResult struct {
	resp *clientResponse
	err  *ErrorCode
}

func discardResult(r clientResult) {
	if r.resp != nil {
		r.resp.release()
	}
}

type futureState uint8

const (
	futurePending futureState = iota
	futureReady
	futureConsumed
)

// FutureIncomingResponse is the eventual response of an outgoing request.
// It moves from pending to ready when the pipeline task finishes and to
// consumed when get hands the result out.
type FutureIncomingResponse struct {
	pending *task.Task[clientResult]
	ready   task.Result[clientResult]
	mu      sync.Mutex
	state   futureState
}

func newFutureIncomingResponse(t *task.Task[clientResult]) *FutureIncomingResponse {
	return &FutureIncomingResponse{pending: t}
}

func (f *FutureIncomingResponse) Type() preview2.ResourceType {
	return preview2.ResourceFutureIncomingResponse
}

// Drop aborts a request still in flight, or releases a result nobody took.
func (f *FutureIncomingResponse) Drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.state {
	case futurePending:
		f.pending.Abort()
	case futureReady:
		discardResult(f.ready.Value)
	}
	f.pending = nil
	f.state = futureConsumed
}

func (f *FutureIncomingResponse) Ready() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == futurePending {
		return f.pending.Done()
	}
	return preview2.ReadyNow()
}

// poll moves a finished task into the ready state. Caller holds mu.
func (f *FutureIncomingResponse) poll() {
	if f.state != futurePending {
		return
	}
	res, ok := f.pending.Poll()
	if !ok {
		return
	}
	f.ready = res
	f.pending = nil
	f.state = futureReady
}

// IsReady reports whether a result is waiting to be taken.
func (f *FutureIncomingResponse) IsReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.poll()
	return f.state == futureReady
}

// UnwrapReady takes the result of a ready future. Calling it in any other
// state is a host bug and panics.
func (f *FutureIncomingResponse) UnwrapReady() task.Result[clientResult] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.poll()
	if f.state != futureReady {
		panic("http: UnwrapReady called on a future that is not ready")
	}
	f.state = futureConsumed
	res := f.ready
	f.ready = task.Result[clientResult]{}
	return res
}

// take returns the result if the future is ready. ok is false while the
// request is pending; ErrResponseConsumed once the result was taken.
func (f *FutureIncomingResponse) take() (res task.Result[clientResult], ok bool, err error) {
	f.mu.Lock()
	f.poll()
	state := f.state
	f.mu.Unlock()

	switch state {
	case futurePending:
		return res, false, nil
	case futureConsumed:
		return res, false, ErrResponseConsumed
	}
	return f.UnwrapReady(), true, nil
}
