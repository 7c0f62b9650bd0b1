package http

import (
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/wippyai/wasihost/wasi/preview2"
	"github.com/wippyai/wasihost/wasi/preview2/task"
)

// IncomingResponse is a response received for an outgoing request. It and
// its body each hold a reference to the connection worker.
type IncomingResponse struct {
	headers http.Header
	body    *bodySource
	worker  *task.Shared[error]
	status  uint16
}

func (r *IncomingResponse) Type() preview2.ResourceType { return preview2.ResourceIncomingResponse }

func (r *IncomingResponse) Drop() {
	r.body.close()
	r.body = nil
	if r.worker != nil {
		r.worker.Release()
	}
}

func incomingResponseHeaders(r preview2.Resource) http.Header {
	return r.(*IncomingResponse).headers
}

// OutgoingResponse is a response the guest is building for an incoming
// request.
type OutgoingResponse struct {
	headers   http.Header
	body      *preview2.Pipe
	trailers  http.Header
	status    uint16
	bodyTaken bool
}

func newOutgoingResponse(headers http.Header) *OutgoingResponse {
	return &OutgoingResponse{headers: headers, status: http.StatusOK}
}

func (r *OutgoingResponse) Type() preview2.ResourceType { return preview2.ResourceOutgoingResponse }
func (r *OutgoingResponse) Drop()                       {}

func outgoingResponseHeaders(r preview2.Resource) http.Header {
	return r.(*OutgoingResponse).headers
}

// validStatus reports whether code is a three-digit status code.
func validStatus(code uint16) bool {
	return code >= 100 && code <= 999
}

// HTTP converts the response. A response whose body was never requested
// gets http.NoBody; trailers set by outgoing-body.finish appear in Trailer
// once Body returned io.EOF.
func (r *OutgoingResponse) HTTP() *http.Response {
	resp := &http.Response{
		Status:        strconv.Itoa(int(r.status)) + " " + http.StatusText(int(r.status)),
		StatusCode:    int(r.status),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        toWire(r.headers),
		Body:          http.NoBody,
		ContentLength: contentLength(r.headers),
	}
	if r.body != nil {
		resp.Body = r.body.Reader()
		resp.Trailer = r.trailers
	} else {
		resp.ContentLength = 0
	}
	return resp
}

// contentLength returns the declared length of a message, or -1.
func contentLength(h http.Header) int64 {
	vs := h["content-length"]
	if len(vs) != 1 {
		return -1
	}
	n, err := strconv.ParseInt(vs[0], 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// ResponseOutcome is what the guest delivered through a response-outparam.
type ResponseOutcome struct {
	Response *http.Response
	Err      *ErrorCode
}

// ResponseOutparam delivers the guest's response exactly once. The channel
// is closed when the outparam is dropped, with or without a value.
type ResponseOutparam struct {
	ch   chan ResponseOutcome
	once sync.Once
}

func newResponseOutparam() *ResponseOutparam {
	return &ResponseOutparam{ch: make(chan ResponseOutcome, 1)}
}

func (p *ResponseOutparam) Type() preview2.ResourceType { return preview2.ResourceResponseOutparam }

func (p *ResponseOutparam) Drop() {
	p.once.Do(func() { close(p.ch) })
}

// set stores the outcome. Only the first call has an effect.
func (p *ResponseOutparam) set(out ResponseOutcome) bool {
	sent := false
	p.once.Do(func() {
		p.ch <- out
		close(p.ch)
		sent = true
	})
	return sent
}

// trailingBody copies trailers set by outgoing-body.finish into the wire
// request once the body ends, which is the last moment net/http reads them.
type trailingBody struct {
	io.ReadCloser
	src http.Header
	dst http.Header
}

func (b *trailingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err == io.EOF {
		for k, vs := range b.src {
			b.dst[k] = vs
		}
	}
	return n, err
}
