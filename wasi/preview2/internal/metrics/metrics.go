// Package metrics holds the prometheus collectors shared by the WASI hosts.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wasi"

// Outcome labels for outgoing requests.
const (
	OutcomeOK       = "ok"
	OutcomeTimeout  = "timeout"
	OutcomeProtocol = "protocol_error"
	OutcomeURL      = "invalid_url"
	OutcomeOther    = "error"
	OutcomeAborted  = "aborted"
)

// Metrics groups the host collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	resources        *prometheus.GaugeVec
	outgoingRequests *prometheus.CounterVec
	firstByte        prometheus.Histogram
	lookups          *prometheus.CounterVec
	poolRejections   prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered. Collectors already registered by another WASI instance
// on the same registry are reused.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		resources: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resources",
			Help:      "Live resource table entries by resource type.",
		}, []string{"type"}),
		outgoingRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "outgoing_requests_total",
			Help:      "Outgoing HTTP requests by outcome.",
		}, []string{"outcome"}),
		firstByte: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "first_byte_seconds",
			Help:      "Time from dispatch to response head.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sockets",
			Name:      "ip_name_lookups_total",
			Help:      "Name lookups by result.",
		}, []string{"result"}),
		poolRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "pool_rejections_total",
			Help:      "Blocking jobs rejected because the pool was saturated.",
		}),
	}
	if reg == nil {
		return m
	}

	m.resources = register(reg, m.resources)
	m.outgoingRequests = register(reg, m.outgoingRequests)
	m.firstByte = register(reg, m.firstByte)
	m.lookups = register(reg, m.lookups)
	m.poolRejections = register(reg, m.poolRejections)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

// ResourceCreated increments the live gauge for a resource type.
func (m *Metrics) ResourceCreated(kind string) {
	if m == nil {
		return
	}
	m.resources.WithLabelValues(kind).Inc()
}

// ResourceDropped decrements the live gauge for a resource type.
func (m *Metrics) ResourceDropped(kind string) {
	if m == nil {
		return
	}
	m.resources.WithLabelValues(kind).Dec()
}

// OutgoingRequest counts a finished outgoing request.
func (m *Metrics) OutgoingRequest(outcome string) {
	if m == nil {
		return
	}
	m.outgoingRequests.WithLabelValues(outcome).Inc()
}

// FirstByte records the latency to the response head.
func (m *Metrics) FirstByte(seconds float64) {
	if m == nil {
		return
	}
	m.firstByte.Observe(seconds)
}

// Lookup counts a finished name lookup.
func (m *Metrics) Lookup(result string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(result).Inc()
}

// PoolRejected counts a blocking job rejected by a saturated pool.
func (m *Metrics) PoolRejected() {
	if m == nil {
		return
	}
	m.poolRejections.Inc()
}

// Collectors exposes the underlying collectors for tests and custom exporters.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.resources, m.outgoingRequests, m.firstByte, m.lookups, m.poolRejections}
}

// ResourceGauge returns the live gauge for a resource type.
func (m *Metrics) ResourceGauge(kind string) prometheus.Gauge {
	return m.resources.WithLabelValues(kind)
}

// RequestCounter returns the outgoing request counter for an outcome.
func (m *Metrics) RequestCounter(outcome string) prometheus.Counter {
	return m.outgoingRequests.WithLabelValues(outcome)
}

// LookupCounter returns the lookup counter for a result.
func (m *Metrics) LookupCounter(result string) prometheus.Counter {
	return m.lookups.WithLabelValues(result)
}
