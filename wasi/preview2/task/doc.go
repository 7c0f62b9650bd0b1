// Package task provides handles to background work started by host calls.
//
// A guest call never waits for network or resolver I/O. It starts the work
// with Spawn (goroutine) or SpawnBlocking (bounded worker pool), stores the
// returned Task inside a table resource and returns. The resource exposes the
// task's Done channel for readiness, reads the outcome with the non-blocking
// Poll and calls Abort from its Drop hook:
//
//	t := task.Spawn(ctx, func(ctx context.Context) int { return work(ctx) })
//
//	select {
//	case <-t.Done():
//	    res, _ := t.Poll()
//	    use(res.Value)
//	default:
//	    // still running
//	}
//
//	t.Abort() // on drop
//
// Shared wraps a task that several resources depend on (an HTTP connection
// driver referenced by both a response and its body); the task is aborted
// when the last holder releases it.
package task
