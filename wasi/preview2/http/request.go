package http

import (
	"net/http"
	"time"

	"github.com/wippyai/wasihost/errors"
	"github.com/wippyai/wasihost/wasi/preview2"
)

var errBodyAbandoned = errors.InvalidState(errors.PhaseHTTP, "outgoing body dropped before finish")

// OutgoingRequest is a request the guest is building. The zero value is a
// GET with no scheme, authority or path.
type OutgoingRequest struct {
	headers       http.Header
	body          *preview2.Pipe
	trailers      http.Header
	scheme        *Scheme
	pathWithQuery *string
	authority     *string
	method        Method
	bodyTaken     bool
}

func newOutgoingRequest(headers http.Header) *OutgoingRequest {
	return &OutgoingRequest{headers: headers}
}

func (r *OutgoingRequest) Type() preview2.ResourceType { return preview2.ResourceOutgoingRequest }
func (r *OutgoingRequest) Drop()                       {}

func outgoingRequestHeaders(r preview2.Resource) http.Header {
	return r.(*OutgoingRequest).headers
}

// RequestOptions carries per-request timeouts. Unset values fall back to
// the host configuration.
type RequestOptions struct {
	connectTimeout      *time.Duration
	firstByteTimeout    *time.Duration
	betweenBytesTimeout *time.Duration
}

func (o *RequestOptions) Type() preview2.ResourceType { return preview2.ResourceRequestOptions }
func (o *RequestOptions) Drop()                       {}

func (o *RequestOptions) timeouts(cfg Config) (connect, firstByte, betweenBytes time.Duration) {
	connect, firstByte, betweenBytes = cfg.ConnectTimeout, cfg.FirstByteTimeout, cfg.BetweenBytesTimeout
	if o == nil {
		return
	}
	if o.connectTimeout != nil {
		connect = *o.connectTimeout
	}
	if o.firstByteTimeout != nil {
		firstByte = *o.firstByteTimeout
	}
	if o.betweenBytesTimeout != nil {
		betweenBytes = *o.betweenBytesTimeout
	}
	return
}

// OutgoingBody is the write side of a request or response body. Bytes
// written to its stream are buffered in a pipe read by whoever sends the
// message. Dropping the body without finish fails the message.
type OutgoingBody struct {
	pipe        *preview2.Pipe
	trailers    http.Header
	streamTaken bool
	finished    bool
}

func newOutgoingBody(pipe *preview2.Pipe, trailers http.Header) *OutgoingBody {
	return &OutgoingBody{pipe: pipe, trailers: trailers}
}

func (b *OutgoingBody) Type() preview2.ResourceType { return preview2.ResourceOutgoingBody }

func (b *OutgoingBody) Drop() {
	if !b.finished {
		b.pipe.CloseWrite(errBodyAbandoned)
	}
}

func (b *OutgoingBody) write() (preview2.OutputStream, error) {
	if b.streamTaken {
		return nil, ErrBodyTaken
	}
	b.streamTaken = true
	return b.pipe.Writer(), nil
}

// finish ends the body with optional trailers.
func (b *OutgoingBody) finish(trailers http.Header) {
	for k, vs := range toWire(trailers) {
		b.trailers[k] = append(b.trailers[k], vs...)
	}
	b.pipe.CloseWrite(nil)
}
