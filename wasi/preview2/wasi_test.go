package preview2

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestWASI_Defaults(t *testing.T) {
	wasi := New()
	defer wasi.Close()

	if wasi.AllowIPNameLookup() {
		t.Error("name lookups must be denied by default")
	}
	if wasi.Resources() == nil || wasi.Clock() == nil {
		t.Fatal("table and clock must be set")
	}
	if wasi.Metrics() != nil {
		t.Error("metrics are disabled by default")
	}
}

func TestWASI_ChainedConfiguration(t *testing.T) {
	mock := clock.NewMock()
	wasi := New().
		WithClock(mock).
		WithAllowIPNameLookup(true).
		WithBlockingPoolSize(2)
	defer wasi.Close()

	if wasi.Clock() != mock {
		t.Error("clock not applied")
	}
	if !wasi.AllowIPNameLookup() {
		t.Error("lookup flag not applied")
	}

	pool, err := wasi.BlockingPool()
	if err != nil {
		t.Fatal(err)
	}
	if pool.Cap() != 2 {
		t.Errorf("pool cap = %d, want 2", pool.Cap())
	}
	again, _ := wasi.BlockingPool()
	if again != pool {
		t.Error("pool must be created once")
	}
}

func TestWASI_ResourceMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	wasi := New().WithMetrics(reg)

	h, _ := wasi.Resources().Push(NewMemoryInputPipe(nil))
	gauge := wasi.Metrics().ResourceGauge("input-stream")
	if v := testutil.ToFloat64(gauge); v != 1 {
		t.Fatalf("live input streams = %v, want 1", v)
	}

	wasi.Resources().Delete(h)
	if v := testutil.ToFloat64(gauge); v != 0 {
		t.Fatalf("live input streams = %v, want 0", v)
	}

	wasi.Resources().Push(NewMemoryInputPipe(nil))
	if err := wasi.Close(); err != nil {
		t.Fatal(err)
	}
	if v := testutil.ToFloat64(gauge); v != 0 {
		t.Fatalf("close must drop everything, gauge = %v", v)
	}
}

func TestWASI_SharedRegistryGaugeSettles(t *testing.T) {
	reg := prometheus.NewRegistry()
	var gauge prometheus.Gauge
	for i := 0; i < 3; i++ {
		wasi := New().WithMetrics(reg)
		if _, err := wasi.Resources().Push(NewErrorResource(errors.New("boom"))); err != nil {
			t.Fatal(err)
		}
		gauge = wasi.Metrics().ResourceGauge("error")
		if err := wasi.Close(); err != nil {
			t.Fatal(err)
		}
	}
	if v := testutil.ToFloat64(gauge); v != 0 {
		t.Fatalf("live errors after close = %v, want 0", v)
	}
}

func TestWASI_CloseCancelsBackgroundWork(t *testing.T) {
	wasi := New()
	r := &blockingReader{closed: make(chan struct{})}
	wasi.Resources().Push(NewAsyncReader(r, 16))

	if err := wasi.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-r.closed:
	case <-time.After(time.Second):
		t.Fatal("close did not stop the background reader")
	}
}
