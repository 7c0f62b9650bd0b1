package preview2

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasihost/resource"
	"github.com/wippyai/wasihost/wasi/preview2/internal/metrics"
	"github.com/wippyai/wasihost/wasi/preview2/task"
)

// poolReleaseTimeout bounds how long Close waits for running blocking jobs.
const poolReleaseTimeout = 5 * time.Second

// WASI configures a WASI preview2 environment. Use builder methods to set up.
// A WASI value and its resource table belong to one guest instance.
type WASI struct {
	resources         *ResourceTable
	clock             clock.Clock
	metrics           *metrics.Metrics
	pool              *task.Pool
	poolErr           error
	poolOnce          sync.Once
	poolSize          int
	allowIPNameLookup bool
}

// New creates a new WASI preview2 instance
func New() *WASI {
	w := &WASI{
		resources: NewResourceTable(),
		clock:     clock.New(),
		poolSize:  task.DefaultPoolSize,
	}
	w.resources.Subscribe(&resourceObserver{w: w})
	return w
}

// WithClock replaces the clock used for deadlines and clock readings
func (w *WASI) WithClock(c clock.Clock) *WASI {
	w.clock = c
	return w
}

// WithBlockingPoolSize sets the number of workers for blocking jobs
func (w *WASI) WithBlockingPoolSize(n int) *WASI {
	w.poolSize = n
	return w
}

// WithAllowIPNameLookup permits name resolution through the network
// capability. Lookups are denied by default.
func (w *WASI) WithAllowIPNameLookup(allow bool) *WASI {
	w.allowIPNameLookup = allow
	return w
}

// WithMetrics registers the host collectors with reg
func (w *WASI) WithMetrics(reg prometheus.Registerer) *WASI {
	w.metrics = metrics.New(reg)
	return w
}

// Resources returns the resource table
func (w *WASI) Resources() *ResourceTable {
	return w.resources
}

// Clock returns the configured clock
func (w *WASI) Clock() clock.Clock {
	return w.clock
}

// Metrics returns the collectors, nil when metrics are disabled
func (w *WASI) Metrics() *metrics.Metrics {
	return w.metrics
}

// AllowIPNameLookup reports whether name lookups are permitted
func (w *WASI) AllowIPNameLookup() bool {
	return w.allowIPNameLookup
}

// BlockingPool returns the worker pool for blocking jobs, creating it on
// first use.
func (w *WASI) BlockingPool() (*task.Pool, error) {
	w.poolOnce.Do(func() {
		w.pool, w.poolErr = task.NewPool(w.poolSize)
	})
	return w.pool, w.poolErr
}

// Close drops every resource, cancelling their background work, and stops
// the blocking pool.
func (w *WASI) Close() error {
	err := w.resources.Close()
	if w.pool != nil {
		err = multierr.Append(err, w.pool.Release(poolReleaseTimeout))
	}
	return err
}

type resourceObserver struct {
	w *WASI
}

func (o *resourceObserver) OnResourceEvent(e resource.Event) {
	kind := ResourceType(e.TypeID).String()
	switch e.Type {
	case resource.EventCreated:
		o.w.metrics.ResourceCreated(kind)
		Logger().Debug("resource created",
			zap.String("type", kind),
			zap.Uint32("handle", uint32(e.Handle)),
			zap.Uint32("parent", uint32(e.Parent)))
	case resource.EventDropped:
		o.w.metrics.ResourceDropped(kind)
		Logger().Debug("resource dropped",
			zap.String("type", kind),
			zap.Uint32("handle", uint32(e.Handle)))
	}
}
