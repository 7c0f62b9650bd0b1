package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/wippyai/wasihost/errors"
	"github.com/wippyai/wasihost/wasi/preview2"
	"github.com/wippyai/wasihost/wasi/preview2/bind"
	"github.com/wippyai/wasihost/wasi/preview2/http"
)

const spliceChunk = 64 * 1024

// request describes one fetch.
type request struct {
	url          string
	method       string
	headers      []http.FieldEntry
	body         string
	connect      time.Duration
	firstByte    time.Duration
	betweenBytes time.Duration
}

// result is what a fetch reports besides the body.
type result struct {
	headers  []http.FieldEntry
	trailers []http.FieldEntry
	bytes    uint64
	status   uint16
}

// stage reports fetch progress.
type stage func(name string)

// client drives the host API the way a guest would.
type client struct {
	wasi  *preview2.WASI
	hosts *bind.Hosts
}

func newClient(w *preview2.WASI, cfg bind.Config) *client {
	return &client{wasi: w, hosts: bind.NewHosts(w, cfg)}
}

// parseHeaders splits "k:v,k2:v2".
func parseHeaders(s string) ([]http.FieldEntry, error) {
	if s == "" {
		return nil, nil
	}
	var out []http.FieldEntry
	for _, kv := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(kv, ":")
		if !ok {
			return nil, fmt.Errorf("header %q: expected name:value", kv)
		}
		out = append(out, http.FieldEntry{Name: strings.TrimSpace(k), Value: []byte(strings.TrimSpace(v))})
	}
	return out, nil
}

// fetch sends req and copies the response body to out.
func (c *client) fetch(ctx context.Context, req request, out io.Writer, progress stage) (*result, error) {
	if progress == nil {
		progress = func(string) {}
	}
	types := c.hosts.Types

	u, err := url.Parse(req.url)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	progress("building request")
	headers, err := types.StaticFieldsFromList(ctx, req.headers)
	if err != nil {
		return nil, fmt.Errorf("headers: %w", err)
	}
	outgoing, err := types.ConstructorOutgoingRequest(ctx, headers)
	if err != nil {
		return nil, err
	}
	scheme := http.SchemeFrom(u.Scheme)
	authority := u.Host
	path := u.RequestURI()
	if err := types.MethodOutgoingRequestSetMethod(ctx, outgoing, http.MethodFrom(strings.ToUpper(req.method))); err != nil {
		return nil, fmt.Errorf("method %q: %w", req.method, err)
	}
	if err := types.MethodOutgoingRequestSetScheme(ctx, outgoing, &scheme); err != nil {
		return nil, fmt.Errorf("scheme %q: %w", u.Scheme, err)
	}
	if err := types.MethodOutgoingRequestSetAuthority(ctx, outgoing, &authority); err != nil {
		return nil, fmt.Errorf("authority %q: %w", authority, err)
	}
	if err := types.MethodOutgoingRequestSetPathWithQuery(ctx, outgoing, &path); err != nil {
		return nil, fmt.Errorf("path %q: %w", path, err)
	}
	var body uint32
	if req.body != "" {
		if body, err = types.MethodOutgoingRequestBody(ctx, outgoing); err != nil {
			return nil, err
		}
	}
	opts, err := c.options(ctx, req)
	if err != nil {
		return nil, err
	}

	progress("sending")
	future, err := c.hosts.OutgoingHandler.Handle(ctx, outgoing, &opts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = types.ResourceDropFutureIncomingResponse(ctx, future) }()
	if req.body != "" {
		// The body streams while the request is in flight.
		if err := c.writeBody(ctx, body, req.body); err != nil {
			_ = types.ResourceDropOutgoingBody(ctx, body)
			return nil, fmt.Errorf("request body: %w", err)
		}
	}

	progress("waiting for response")
	if err := c.await(ctx, types.MethodFutureIncomingResponseSubscribe, future); err != nil {
		return nil, err
	}
	got, err := types.MethodFutureIncomingResponseGet(ctx, future)
	if err != nil {
		return nil, err
	}
	if got == nil {
		return nil, errors.InvalidState(errors.PhaseHTTP, "future not ready after block")
	}
	if got.Err != nil {
		return nil, got.Err
	}
	resp := got.Response
	defer func() { _ = types.ResourceDropIncomingResponse(ctx, resp) }()

	res := &result{}
	if res.status, err = types.MethodIncomingResponseStatus(ctx, resp); err != nil {
		return nil, err
	}
	if res.headers, err = c.entries(ctx, resp); err != nil {
		return nil, err
	}

	progress("reading body")
	incoming, err := types.MethodIncomingResponseConsume(ctx, resp)
	if err != nil {
		return nil, err
	}
	if res.bytes, err = c.copyBody(ctx, incoming, out); err != nil {
		_ = types.ResourceDropIncomingBody(ctx, incoming)
		return res, err
	}

	progress("reading trailers")
	trailers, err := types.StaticIncomingBodyFinish(ctx, incoming)
	if err != nil {
		return res, err
	}
	defer func() { _ = types.ResourceDropFutureTrailers(ctx, trailers) }()
	if err := c.await(ctx, types.MethodFutureTrailersSubscribe, trailers); err != nil {
		return res, err
	}
	tr, err := types.MethodFutureTrailersGet(ctx, trailers)
	switch {
	case err != nil:
		return res, err
	case tr == nil:
		return res, errors.InvalidState(errors.PhaseHTTP, "trailers not ready after block")
	case tr.Err != nil:
		return res, tr.Err
	case tr.Trailers != nil:
		res.trailers, err = types.MethodFieldsEntries(ctx, *tr.Trailers)
		_ = types.ResourceDropFields(ctx, *tr.Trailers)
		if err != nil {
			return res, err
		}
	}
	progress("done")
	return res, nil
}

// writeBody writes data to an outgoing-body and finishes it.
func (c *client) writeBody(ctx context.Context, body uint32, data string) error {
	types := c.hosts.Types
	streams := c.hosts.IO.Streams

	stream, err := types.MethodOutgoingBodyWrite(ctx, body)
	if err != nil {
		return err
	}
	for p := []byte(data); len(p) > 0; {
		n := min(len(p), preview2.MaxBlockingWriteSize)
		if err := streams.MethodOutputStreamBlockingWriteAndFlush(ctx, stream, p[:n]); err != nil {
			return err
		}
		p = p[n:]
	}
	if err := streams.ResourceDropOutputStream(ctx, stream); err != nil {
		return err
	}
	return types.StaticOutgoingBodyFinish(ctx, body, nil)
}

func (c *client) options(ctx context.Context, req request) (uint32, error) {
	types := c.hosts.Types
	opts, err := types.ConstructorRequestOptions(ctx)
	if err != nil {
		return 0, err
	}
	set := []struct {
		d  time.Duration
		fn func(context.Context, uint32, *uint64) error
	}{
		{req.connect, types.MethodRequestOptionsSetConnectTimeout},
		{req.firstByte, types.MethodRequestOptionsSetFirstByteTimeout},
		{req.betweenBytes, types.MethodRequestOptionsSetBetweenBytesTimeout},
	}
	for _, s := range set {
		if s.d <= 0 {
			continue
		}
		ns := uint64(s.d)
		if err := s.fn(ctx, opts, &ns); err != nil {
			return 0, err
		}
	}
	return opts, nil
}

// await blocks on a fresh pollable for source.
func (c *client) await(ctx context.Context, subscribe func(context.Context, uint32) (uint32, error), source uint32) error {
	poll := c.hosts.IO.Poll
	p, err := subscribe(ctx, source)
	if err != nil {
		return err
	}
	defer func() { _ = poll.ResourceDropPollable(ctx, p) }()
	return poll.MethodPollableBlock(ctx, p)
}

func (c *client) entries(ctx context.Context, resp uint32) ([]http.FieldEntry, error) {
	types := c.hosts.Types
	h, err := types.MethodIncomingResponseHeaders(ctx, resp)
	if err != nil {
		return nil, err
	}
	defer func() { _ = types.ResourceDropFields(ctx, h) }()
	return types.MethodFieldsEntries(ctx, h)
}

// copyBody splices the body stream into out through an output stream.
func (c *client) copyBody(ctx context.Context, body uint32, out io.Writer) (uint64, error) {
	types := c.hosts.Types
	streams := c.hosts.IO.Streams
	resources := c.wasi.Resources()

	in, err := types.MethodIncomingBodyStream(ctx, body)
	if err != nil {
		return 0, err
	}
	defer func() { _ = streams.ResourceDropInputStream(ctx, in) }()

	dst, err := resources.Push(preview2.NewAsyncWriter(out, spliceChunk))
	if err != nil {
		return 0, err
	}
	defer func() { _ = streams.ResourceDropOutputStream(ctx, dst) }()

	var total uint64
	for {
		n, err := streams.MethodOutputStreamBlockingSplice(ctx, dst, in, spliceChunk)
		total += n
		if preview2.IsStreamClosed(err) {
			break
		}
		if err != nil {
			return total, c.bodyError(ctx, err)
		}
	}
	return total, streams.MethodOutputStreamBlockingFlush(ctx, dst)
}

// bodyError resolves the HTTP error code behind a failed stream, if any.
func (c *client) bodyError(ctx context.Context, err error) error {
	var se *preview2.StreamError
	if !errors.As(err, &se) || se.LastOpFailedErr == 0 {
		return err
	}
	defer func() { _ = c.hosts.IO.Error.ResourceDropError(ctx, se.LastOpFailedErr) }()
	code, cerr := c.hosts.Types.HTTPErrorCode(ctx, se.LastOpFailedErr)
	if cerr != nil || code == nil {
		return err
	}
	return code
}
