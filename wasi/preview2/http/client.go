package http

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wasihost/errors"
	"github.com/wippyai/wasihost/wasi/preview2"
	"github.com/wippyai/wasihost/wasi/preview2/internal/metrics"
	"github.com/wippyai/wasihost/wasi/preview2/task"
)

// outgoingCall is a request ready to be sent over its own connection.
type outgoingCall struct {
	req          *http.Request
	id           string
	authority    string // host:port
	serverName   string
	connect      time.Duration
	firstByte    time.Duration
	betweenBytes time.Duration
	useTLS       bool
}

// client runs the outgoing pipeline: dial, optional TLS, a detached
// connection worker that writes the request, then the response head.
type client struct {
	metrics *metrics.Metrics
	cfg     Config
}

func (c *client) send(ctx context.Context, call *outgoingCall) clientResult {
	start := time.Now()
	res := c.exchange(ctx, call)
	if res.err != nil {
		c.metrics.OutgoingRequest(outcome(res.err))
		preview2.Logger().Debug("outgoing request failed",
			zap.String("request_id", call.id),
			zap.String("authority", call.authority),
			zap.Error(res.err))
		return res
	}
	c.metrics.OutgoingRequest(metrics.OutcomeOK)
	c.metrics.FirstByte(time.Since(start).Seconds())
	preview2.Logger().Debug("outgoing request got response",
		zap.String("request_id", call.id),
		zap.Int("status", res.resp.status))
	return res
}

func outcome(code *ErrorCode) string {
	switch code.Kind {
	case ErrorInvalidURL:
		return metrics.OutcomeURL
	case ErrorTimeout:
		return metrics.OutcomeTimeout
	case ErrorProtocol:
		return metrics.OutcomeProtocol
	}
	if code.Message == "request aborted" {
		return metrics.OutcomeAborted
	}
	return metrics.OutcomeOther
}

func (c *client) exchange(ctx context.Context, call *outgoingCall) clientResult {
	dialer := net.Dialer{Timeout: call.connect}
	conn, err := dialer.DialContext(ctx, "tcp", call.authority)
	if err != nil {
		if isTimeout(err) {
			return clientResult{err: TimeoutError("connection")}
		}
		return clientResult{err: InvalidURL(err.Error())}
	}

	if call.useTLS {
		tc, code := handshake(ctx, conn, call.serverName, c.cfg.RootCAs, call.connect)
		if code != nil {
			_ = conn.Close()
			return clientResult{err: code}
		}
		conn = tc
	}

	worker := task.Share(task.Spawn(ctx, func(ctx context.Context) error {
		return drive(ctx, conn, call)
	}))

	br := bufio.NewReaderSize(conn, c.cfg.ReadChunkSize)
	_ = conn.SetReadDeadline(time.Now().Add(call.firstByte))
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	resp, err := readResponse(br, call.req)
	aborted := !stop()
	if err != nil || aborted {
		var code *ErrorCode
		switch {
		case aborted:
			code = UnexpectedError("request aborted")
		case isTimeout(err):
			code = TimeoutError("first byte")
		default:
			code = workerError(worker.Task(), err)
		}
		worker.Release()
		return clientResult{err: code}
	}
	_ = conn.SetReadDeadline(time.Time{})

	body := newTimedBody(resp.Body, conn, worker.Task(), call.betweenBytes)
	return clientResult{resp: &clientResponse{
		status: resp.StatusCode,
		header: fromWire(resp.Header),
		body:   &bodySource{timed: body, trailer: func() http.Header { return fromWire(resp.Trailer) }},
		worker: worker,
	}}
}

// drive writes the request and then holds the connection open until the
// worker is aborted, which happens when its last holder lets go.
func drive(ctx context.Context, conn net.Conn, call *outgoingCall) error {
	context.AfterFunc(ctx, func() {
		_ = conn.Close()
		if call.req.Body != nil {
			_ = call.req.Body.Close()
		}
	})
	if err := call.req.Write(conn); err != nil {
		preview2.Logger().Warn("connection worker failed",
			zap.String("request_id", call.id),
			zap.Error(err))
		return err
	}
	<-ctx.Done()
	return nil
}

// readResponse reads the final response head, skipping interim 1xx
// responses other than 101.
func readResponse(br *bufio.Reader, req *http.Request) (*http.Response, error) {
	for {
		resp, err := http.ReadResponse(br, req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 200 || resp.StatusCode == http.StatusSwitchingProtocols {
			return resp, nil
		}
	}
}

// workerError prefers the failure of the connection worker over the read
// error it caused.
func workerError(worker *task.Task[error], err error) *ErrorCode {
	if res, ok := worker.Poll(); ok && res.Value != nil {
		return ProtocolError(res.Value.Error())
	}
	return ProtocolError(err.Error())
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
