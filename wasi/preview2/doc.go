// Package preview2 implements the host side of WASI Preview2 resources.
//
// A WASI value owns the resource table a guest instance sees, the clock used
// for deadlines and timers, and a lazily started blocking pool for work that
// must not run on the guest's goroutine (name resolution, body reads).
//
//	w := preview2.New().
//	    WithAllowIPNameLookup(true).
//	    WithMetrics(prometheus.DefaultRegisterer)
//	defer w.Close()
//
// # Resources
//
// Every guest-visible object implements Resource and lives in the
// ResourceTable under a generational handle. Resources created from another
// resource (a pollable from its stream, a body from its request) are pushed
// as children, and the parent cannot be deleted while children are alive.
//
// # Readiness
//
// Streams, futures and timers implement Subscriber. A Pollable is a child
// of its source and asks the source for a fresh readiness channel on every
// poll, so the same pollable can be waited on repeatedly. WaitAny blocks on
// any number of pollables and reports every one that is ready.
//
// # Streams
//
// InputStream and OutputStream follow the check-write / write / flush
// protocol. Writes never block; a write larger than the current permit is a
// trap. MemoryInputPipe and MemoryOutputPipe are in-memory endpoints,
// AsyncReader and AsyncWriter move data to and from host io.Reader and
// io.Writer values on a background goroutine, and Pipe connects a guest
// writer to a host reader through a bounded buffer.
//
// Sub-packages expose the interfaces to guests:
//
//   - io: wasi:io/poll, wasi:io/streams and wasi:io/error
//   - clocks: wasi:clocks/monotonic-clock and wasi:clocks/wall-clock
//   - sockets: wasi:sockets/network and wasi:sockets/ip-name-lookup
//   - http: wasi:http/types, wasi:http/outgoing-handler and incoming-handler
package preview2
