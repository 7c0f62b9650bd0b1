package task

import (
	"context"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/wippyai/wasihost/errors"
)

// DefaultPoolSize bounds concurrent blocking jobs such as OS name lookups.
const DefaultPoolSize = 64

// ErrPoolOverloaded is the error of a blocking task rejected because every
// worker was busy.
var ErrPoolOverloaded = &errors.Error{Phase: errors.PhaseTask, Kind: errors.KindFull}

// Pool runs blocking jobs on a bounded set of workers so that synchronous
// calls (getaddrinfo and friends) never pile up unbounded goroutines.
type Pool struct {
	pool *ants.Pool
}

// NewPool creates a blocking pool with size workers.
func NewPool(size int) (*Pool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}
	p, err := ants.NewPool(size,
		ants.WithNonblocking(true),
		ants.WithExpiryDuration(30*time.Second),
	)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseTask, errors.KindNotInitialized, err, "blocking pool")
	}
	return &Pool{pool: p}, nil
}

// Running returns the number of busy workers.
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Cap returns the worker limit.
func (p *Pool) Cap() int {
	return p.pool.Cap()
}

// Release stops the pool, waiting up to timeout for running jobs.
func (p *Pool) Release(timeout time.Duration) error {
	if err := p.pool.ReleaseTimeout(timeout); err != nil {
		return errors.Wrap(errors.PhaseTask, errors.KindInvalidState, err, "release blocking pool")
	}
	return nil
}

// SpawnBlocking runs fn on a pool worker. Abort cannot interrupt a blocking
// call already in progress; it resolves the task immediately and the late
// value is discarded. When the pool is saturated the task resolves with
// ErrPoolOverloaded without running fn.
func SpawnBlocking[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) T) *Task[T] {
	t, taskCtx := newTask[T](context.WithoutCancel(ctx))
	err := p.pool.Submit(func() {
		t.run(taskCtx, fn)
	})
	if err != nil {
		kind := errors.KindFull
		if err != ants.ErrPoolOverload {
			kind = errors.KindClosed
		}
		t.finish(Result[T]{Err: errors.Wrap(errors.PhaseTask, kind, err, "submit blocking task")})
	}
	return t
}
