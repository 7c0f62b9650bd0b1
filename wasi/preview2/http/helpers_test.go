package http

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasihost/wasi/preview2"
)

type env struct {
	wasi     *preview2.WASI
	types    *TypesHost
	outgoing *OutgoingHandlerHost
}

func newEnv(t *testing.T, cfg Config) *env {
	t.Helper()
	w := preview2.New().WithMetrics(prometheus.NewRegistry())
	t.Cleanup(func() { _ = w.Close() })
	return &env{
		wasi:     w,
		types:    NewTypesHost(w, cfg),
		outgoing: NewOutgoingHandlerHost(w, cfg),
	}
}

func (e *env) resources() *preview2.ResourceTable {
	return e.wasi.Resources()
}

// startServer runs handler until the test ends.
func startServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

// startGatedServer runs the handler built by mk. The channel given to mk is
// closed before the server shuts down, so handlers blocked on it return.
func startGatedServer(t *testing.T, mk func(release <-chan struct{}) http.HandlerFunc) *httptest.Server {
	t.Helper()
	release := make(chan struct{})
	srv := httptest.NewServer(mk(release))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })
	return srv
}

type requestSpec struct {
	headers   map[string]string
	scheme    *Scheme
	authority *string
	path      *string
	method    Method
}

func ptr[T any](v T) *T { return &v }

// newRequest builds an outgoing-request the way a guest does.
func (e *env) newRequest(t *testing.T, rs requestSpec) uint32 {
	t.Helper()
	ctx := context.Background()

	names := make([]string, 0, len(rs.headers))
	for k := range rs.headers {
		names = append(names, k)
	}
	sort.Strings(names)
	list := make([]FieldEntry, 0, len(names))
	for _, k := range names {
		list = append(list, FieldEntry{Name: k, Value: []byte(rs.headers[k])})
	}
	fields, err := e.types.StaticFieldsFromList(ctx, list)
	require.NoError(t, err)

	req, err := e.types.ConstructorOutgoingRequest(ctx, fields)
	require.NoError(t, err)
	require.NoError(t, e.types.MethodOutgoingRequestSetMethod(ctx, req, rs.method))
	require.NoError(t, e.types.MethodOutgoingRequestSetScheme(ctx, req, rs.scheme))
	require.NoError(t, e.types.MethodOutgoingRequestSetAuthority(ctx, req, rs.authority))
	require.NoError(t, e.types.MethodOutgoingRequestSetPathWithQuery(ctx, req, rs.path))
	return req
}

// options builds request-options with the given timeouts; zero leaves a
// timeout unset.
func (e *env) options(t *testing.T, connect, firstByte, betweenBytes time.Duration) uint32 {
	t.Helper()
	ctx := context.Background()
	opts, err := e.types.ConstructorRequestOptions(ctx)
	require.NoError(t, err)
	set := func(d time.Duration, fn func(context.Context, uint32, *uint64) error) {
		if d > 0 {
			require.NoError(t, fn(ctx, opts, ptr(uint64(d))))
		}
	}
	set(connect, e.types.MethodRequestOptionsSetConnectTimeout)
	set(firstByte, e.types.MethodRequestOptionsSetFirstByteTimeout)
	set(betweenBytes, e.types.MethodRequestOptionsSetBetweenBytesTimeout)
	return opts
}

// block waits on a pollable for source.
func (e *env) block(t *testing.T, subscribe func(context.Context, uint32) (uint32, error), source uint32) {
	t.Helper()
	p, err := subscribe(context.Background(), source)
	require.NoError(t, err)
	pollable, err := preview2.GetAs[*preview2.Pollable](e.resources(), p)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, pollable.Block(ctx, e.resources()))
	_, err = e.resources().Delete(p)
	require.NoError(t, err)
}

// await blocks until the future resolves and takes its result.
func (e *env) await(t *testing.T, future uint32) *ResponseResult {
	t.Helper()
	e.block(t, e.types.MethodFutureIncomingResponseSubscribe, future)
	res, err := e.types.MethodFutureIncomingResponseGet(context.Background(), future)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

// send hands req to the outgoing handler and waits for the response.
func (e *env) send(t *testing.T, req uint32, opts *uint32) *ResponseResult {
	t.Helper()
	future, err := e.outgoing.Handle(context.Background(), req, opts)
	require.NoError(t, err)
	return e.await(t, future)
}

// drain reads an input stream until it closes or fails.
func (e *env) drain(t *testing.T, stream uint32) (string, error) {
	t.Helper()
	s, err := preview2.GetAs[preview2.InputStream](e.resources(), stream)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var buf bytes.Buffer
	for {
		data, err := preview2.BlockingRead(ctx, s, 4096)
		buf.Write(data)
		if preview2.IsStreamClosed(err) {
			return buf.String(), nil
		}
		if err != nil {
			return buf.String(), err
		}
	}
}

// write writes p to an output stream and flushes it.
func (e *env) write(t *testing.T, stream uint32, p string) {
	t.Helper()
	s, err := preview2.GetAs[preview2.OutputStream](e.resources(), stream)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, preview2.BlockingWriteAndFlush(ctx, s, []byte(p)))
}

// readResponseBody consumes an incoming-response and returns its body.
func (e *env) readResponseBody(t *testing.T, resp uint32) (body uint32, data string, err error) {
	t.Helper()
	ctx := context.Background()
	body, cerr := e.types.MethodIncomingResponseConsume(ctx, resp)
	require.NoError(t, cerr)
	stream, serr := e.types.MethodIncomingBodyStream(ctx, body)
	require.NoError(t, serr)
	data, err = e.drain(t, stream)
	_, derr := e.resources().Delete(stream)
	require.NoError(t, derr)
	return body, data, err
}

// headerValues reads name from a fields resource.
func (e *env) headerValues(t *testing.T, fields uint32, name string) []string {
	t.Helper()
	values, err := e.types.MethodFieldsGet(context.Background(), fields, name)
	require.NoError(t, err)
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, string(v))
	}
	return out
}
