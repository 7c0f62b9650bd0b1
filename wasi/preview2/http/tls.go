//go:build !riscv64 && !s390x

package http

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"time"
)

// handshake upgrades conn to TLS, verifying the server as serverName
// against roots, or the system pool when roots is nil.
func handshake(ctx context.Context, conn net.Conn, serverName string, roots *x509.CertPool, timeout time.Duration) (net.Conn, *ErrorCode) {
	tc := tls.Client(conn, &tls.Config{
		ServerName: serverName,
		RootCAs:    roots,
		MinVersion: tls.VersionTLS12,
		NextProtos: []string{"http/1.1"},
	})

	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := tc.HandshakeContext(hctx); err != nil {
		if hctx.Err() == context.DeadlineExceeded {
			return nil, TimeoutError("connection")
		}
		return nil, ProtocolError(err.Error())
	}
	return tc, nil
}
