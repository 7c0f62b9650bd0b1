package http

import (
	"crypto/x509"
	"time"
)

const (
	// DefaultTimeout applies to each phase of an outgoing request that the
	// guest did not bound with request-options.
	DefaultTimeout = 600 * time.Second

	// DefaultBodyBufferSize is how much outgoing body data is buffered
	// ahead of the connection.
	DefaultBodyBufferSize = 1 << 20
)

// Config configures the HTTP hosts.
type Config struct {
	// RootCAs verifies servers over https. Nil uses the system pool.
	RootCAs *x509.CertPool

	// ForbiddenHeader reports header names the guest may not set.
	ForbiddenHeader func(name string) bool

	ConnectTimeout      time.Duration
	FirstByteTimeout    time.Duration
	BetweenBytesTimeout time.Duration

	// IncomingBetweenBytesTimeout bounds each read of an incoming request
	// body handed to the guest.
	IncomingBetweenBytesTimeout time.Duration

	// ReadChunkSize is the largest read issued against a body.
	ReadChunkSize int

	// BodyBufferSize bounds outgoing body data written ahead of the peer.
	BodyBufferSize int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:              DefaultTimeout,
		FirstByteTimeout:            DefaultTimeout,
		BetweenBytesTimeout:         DefaultTimeout,
		IncomingBetweenBytesTimeout: DefaultTimeout,
		ReadChunkSize:               64 * 1024,
		BodyBufferSize:              DefaultBodyBufferSize,
		ForbiddenHeader:             HopByHop,
	}
}

var hopByHop = map[string]struct{}{
	"connection":        {},
	"keep-alive":        {},
	"proxy-connection":  {},
	"te":                {},
	"transfer-encoding": {},
	"upgrade":           {},
	"host":              {},
	"http2-settings":    {},
}

// HopByHop reports connection-level headers that the host manages itself.
// name must be lowercase.
func HopByHop(name string) bool {
	_, ok := hopByHop[name]
	return ok
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.FirstByteTimeout <= 0 {
		c.FirstByteTimeout = d.FirstByteTimeout
	}
	if c.BetweenBytesTimeout <= 0 {
		c.BetweenBytesTimeout = d.BetweenBytesTimeout
	}
	if c.IncomingBetweenBytesTimeout <= 0 {
		c.IncomingBetweenBytesTimeout = d.IncomingBetweenBytesTimeout
	}
	if c.ReadChunkSize <= 0 {
		c.ReadChunkSize = d.ReadChunkSize
	}
	if c.BodyBufferSize <= 0 {
		c.BodyBufferSize = d.BodyBufferSize
	}
	return c
}

func (c Config) forbidden(name string) bool {
	return c.ForbiddenHeader != nil && c.ForbiddenHeader(name)
}
