package task

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/wippyai/wasihost/errors"
)

// ErrAborted is the error of a task that was aborted before it produced a value.
var ErrAborted = &errors.Error{Phase: errors.PhaseTask, Kind: errors.KindAborted}

// Result is the outcome of a finished task. Err is set only when the task
// panicked or was aborted; domain failures belong in Value.
type Result[T any] struct {
	Value T
	Err   error
}

// Task is a handle to background work. Dropping the owning resource calls
// Abort, which cancels the task's context.
type Task[T any] struct {
	done    chan struct{}
	cancel  context.CancelFunc
	discard func(T)
	result  Result[T]
	once    sync.Once
}

func newTask[T any](parent context.Context) (*Task[T], context.Context) {
	ctx, cancel := context.WithCancel(parent)
	return &Task[T]{
		done:   make(chan struct{}),
		cancel: cancel,
	}, ctx
}

// Spawn runs fn on a new goroutine. The task outlives ctx's cancellation,
// since guest calls return before their background work completes, but keeps
// its values. The context passed to fn is cancelled on Abort.
func Spawn[T any](ctx context.Context, fn func(ctx context.Context) T) *Task[T] {
	t, taskCtx := newTask[T](context.WithoutCancel(ctx))
	go t.run(taskCtx, fn)
	return t
}

// SpawnOwned is Spawn for values that hold resources. A value fn produces
// after the task was aborted is passed to discard instead of being dropped.
func SpawnOwned[T any](ctx context.Context, fn func(ctx context.Context) T, discard func(T)) *Task[T] {
	t, taskCtx := newTask[T](context.WithoutCancel(ctx))
	t.discard = discard
	go t.run(taskCtx, fn)
	return t
}

// Ready returns a finished task holding value. Useful where a result is
// known up front but callers expect a task.
func Ready[T any](value T) *Task[T] {
	t, _ := newTask[T](context.Background())
	t.finish(Result[T]{Value: value})
	return t
}

func (t *Task[T]) run(ctx context.Context, fn func(ctx context.Context) T) {
	var res Result[T]
	produced := false
	defer func() {
		if r := recover(); r != nil {
			res = Result[T]{Err: errors.New(errors.PhaseTask, errors.KindInvalidState).
				Detail("task panicked: %v", r).
				Value(r).
				Build()}
		}
		if !t.finish(res) && produced && t.discard != nil {
			t.discard(res.Value)
		}
	}()
	res.Value = fn(ctx)
	produced = true
}

// finish stores the first result and reports whether res was it.
func (t *Task[T]) finish(res Result[T]) bool {
	won := false
	t.once.Do(func() {
		won = true
		t.result = res
		// Cleanup hooked on ctx must see the result.
		close(t.done)
		t.cancel()
	})
	return won
}

// Done returns a channel closed once the task has a result.
func (t *Task[T]) Done() <-chan struct{} {
	return t.done
}

// Poll returns the result without blocking. ok is false while the task runs.
func (t *Task[T]) Poll() (res Result[T], ok bool) {
	select {
	case <-t.done:
		return t.result, true
	default:
		return res, false
	}
}

// Await blocks until the task finishes or ctx is done.
func (t *Task[T]) Await(ctx context.Context) (Result[T], error) {
	select {
	case <-t.done:
		return t.result, nil
	case <-ctx.Done():
		return Result[T]{}, ctx.Err()
	}
}

// Abort cancels the task. A task that has not finished resolves with
// ErrAborted; the goroutine exits once it observes the cancellation.
func (t *Task[T]) Abort() {
	t.cancel()
	t.finish(Result[T]{Err: ErrAborted})
}

// Shared is a reference-counted task handle. The task is aborted when the
// last holder releases it.
type Shared[T any] struct {
	task *Task[T]
	refs atomic.Int32
}

// Share wraps t with a reference count of one.
func Share[T any](t *Task[T]) *Shared[T] {
	s := &Shared[T]{task: t}
	s.refs.Store(1)
	return s
}

// Clone adds a holder and returns s.
func (s *Shared[T]) Clone() *Shared[T] {
	if s.refs.Add(1) <= 1 {
		panic("task: clone of released shared handle")
	}
	return s
}

// Release drops one holder and aborts the task when none remain. Calling
// Release more times than the handle was held panics.
func (s *Shared[T]) Release() {
	switch n := s.refs.Add(-1); {
	case n == 0:
		s.task.Abort()
	case n < 0:
		panic("task: shared handle released too many times")
	}
}

// Refs returns the current number of holders.
func (s *Shared[T]) Refs() int {
	return int(s.refs.Load())
}

// Task returns the underlying task.
func (s *Shared[T]) Task() *Task[T] {
	return s.task
}
