package http

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/wasihost/wasi/preview2"
	"github.com/wippyai/wasihost/wasi/preview2/task"
)

// OutgoingHandlerNamespace is the WASI HTTP outgoing handler namespace.
const OutgoingHandlerNamespace = "wasi:http/outgoing-handler@0.2.8"

// OutgoingHandlerHost implements wasi:http/outgoing-handler@0.2.8. Every
// request gets its own HTTP/1.1 connection.
type OutgoingHandlerHost struct {
	wasi   *preview2.WASI
	client *client
}

// NewOutgoingHandlerHost creates the outgoing handler host. Zero fields of
// cfg take their defaults.
func NewOutgoingHandlerHost(w *preview2.WASI, cfg Config) *OutgoingHandlerHost {
	return &OutgoingHandlerHost{
		wasi:   w,
		client: &client{cfg: cfg.withDefaults(), metrics: w.Metrics()},
	}
}

// Namespace returns the WASI namespace.
func (h *OutgoingHandlerHost) Namespace() string {
	return OutgoingHandlerNamespace
}

// Handle sends request, consuming it and options, and returns a
// future-incoming-response at once. The exchange runs in the background.
// A request that cannot be addressed fails with an *ErrorCode.
func (h *OutgoingHandlerHost) Handle(ctx context.Context, request uint32, options *uint32) (uint32, error) {
	resources := h.wasi.Resources()
	if options != nil {
		if _, err := preview2.GetAs[*RequestOptions](resources, *options); err != nil {
			return 0, err
		}
	}
	req, err := preview2.DeleteAs[*OutgoingRequest](resources, request)
	if err != nil {
		return 0, err
	}
	var opts *RequestOptions
	if options != nil {
		if opts, err = preview2.DeleteAs[*RequestOptions](resources, *options); err != nil {
			return 0, err
		}
	}

	call, code := h.prepare(req, opts)
	if code != nil {
		if req.body != nil {
			_ = req.body.Reader().Close()
		}
		return 0, code
	}

	preview2.Logger().Debug("outgoing request spawned",
		zap.String("request_id", call.id),
		zap.String("method", call.req.Method),
		zap.String("authority", call.authority))

	t := task.SpawnOwned(ctx, func(ctx context.Context) clientResult {
		return h.client.send(ctx, call)
	}, discardResult)
	handle, err := resources.Push(newFutureIncomingResponse(t))
	if err != nil {
		t.Abort()
		return 0, err
	}
	return handle, nil
}

// prepare turns a guest request into a wire request addressed at its
// authority, with the default port of its scheme when none is given.
func (h *OutgoingHandlerHost) prepare(r *OutgoingRequest, opts *RequestOptions) (*outgoingCall, *ErrorCode) {
	if r.authority == nil || *r.authority == "" {
		return nil, InvalidURL("missing authority")
	}

	useTLS := false
	port := "80"
	if r.scheme != nil {
		switch r.scheme.Kind {
		case SchemeHTTP:
		case SchemeHTTPS:
			useTLS, port = true, "443"
		default:
			return nil, errorf(ErrorInvalidURL, "unsupported scheme %q", r.scheme.String())
		}
	}

	host, authority := splitAuthority(*r.authority, port)

	method, err := r.method.HTTP()
	if err != nil {
		return nil, InvalidURL(err.Error())
	}

	path := "/"
	if r.pathWithQuery != nil && *r.pathWithQuery != "" {
		path = *r.pathWithQuery
	}
	u, err := url.ParseRequestURI(path)
	if err != nil {
		return nil, InvalidURL(err.Error())
	}
	u.Host = *r.authority
	u.Scheme = "http"
	if useTLS {
		u.Scheme = "https"
	}

	headers := toWire(r.headers)
	req := &http.Request{
		Method:     method,
		URL:        u,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     headers,
		Host:       *r.authority,
		Body:       http.NoBody,
		Close:      true,
	}
	if r.body != nil {
		req.ContentLength = contentLength(r.headers)
		req.Trailer = http.Header{}
		req.Body = &trailingBody{ReadCloser: r.body.Reader(), src: r.trailers, dst: req.Trailer}
	}

	connect, firstByte, betweenBytes := opts.timeouts(h.client.cfg)
	return &outgoingCall{
		req:          req,
		id:           uuid.NewString(),
		authority:    authority,
		serverName:   host,
		useTLS:       useTLS,
		connect:      connect,
		firstByte:    firstByte,
		betweenBytes: betweenBytes,
	}, nil
}

// splitAuthority returns the host of authority and authority with port
// added when it had none.
func splitAuthority(authority, port string) (host, hostport string) {
	if h, _, err := net.SplitHostPort(authority); err == nil {
		return h, authority
	}
	host = strings.TrimSuffix(strings.TrimPrefix(authority, "["), "]")
	return host, net.JoinHostPort(host, port)
}

// Register maps WIT function names to host methods.
func (h *OutgoingHandlerHost) Register() map[string]any {
	return map[string]any{
		"handle": h.Handle,
	}
}
