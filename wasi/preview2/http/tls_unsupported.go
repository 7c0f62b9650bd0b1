//go:build riscv64 || s390x

package http

import (
	"context"
	"crypto/x509"
	"net"
	"time"
)

func handshake(context.Context, net.Conn, string, *x509.CertPool, time.Duration) (net.Conn, *ErrorCode) {
	return nil, UnexpectedError("unsupported architecture for SSL")
}
