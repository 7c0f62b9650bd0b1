package http

import (
	"context"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/wippyai/wasihost/wasi/preview2"
)

// IncomingRequest is a request received by the host and handed to a guest.
type IncomingRequest struct {
	headers       http.Header
	body          *bodySource
	scheme        *Scheme
	pathWithQuery *string
	authority     *string
	method        Method
}

func (r *IncomingRequest) Type() preview2.ResourceType { return preview2.ResourceIncomingRequest }

func (r *IncomingRequest) Drop() {
	r.body.close()
	r.body = nil
}

func incomingRequestHeaders(r preview2.Resource) http.Header {
	return r.(*IncomingRequest).headers
}

// NewIncomingRequest pushes req as an incoming-request. Each body read is
// bounded by the incoming between-bytes timeout through rc, which may be
// nil to disable the timeout.
func (h *TypesHost) NewIncomingRequest(req *http.Request, rc ReadDeadliner) (uint32, error) {
	scheme := SchemeFrom("http")
	if req.TLS != nil {
		scheme = SchemeFrom("https")
	}
	if req.URL.Scheme != "" {
		scheme = SchemeFrom(req.URL.Scheme)
	}
	path := req.URL.RequestURI()
	authority := req.Host

	body := req.Body
	if body == nil {
		body = http.NoBody
	}
	r := &IncomingRequest{
		method:        MethodFrom(req.Method),
		scheme:        &scheme,
		pathWithQuery: &path,
		authority:     &authority,
		headers:       fromWire(req.Header),
		body: &bodySource{
			timed:   newTimedBody(body, rc, nil, h.cfg.IncomingBetweenBytesTimeout),
			trailer: func() http.Header { return fromWire(req.Trailer) },
		},
	}
	return h.wasi.Resources().Push(r)
}

// NewResponseOutparam pushes a response-outparam. The channel yields the
// outcome passed to response-outparam.set and is closed once the outparam
// is gone; a closed channel with no value means the guest never set it.
func (h *TypesHost) NewResponseOutparam() (uint32, <-chan ResponseOutcome, error) {
	p := newResponseOutparam()
	handle, err := h.wasi.Resources().Push(p)
	if err != nil {
		return 0, nil, err
	}
	return handle, p.ch, nil
}

// Guest handles one incoming request given the handles of the request and
// its response-outparam, the way a guest's wasi:http/incoming-handler
// export does.
type Guest func(ctx context.Context, types *TypesHost, request, outparam uint32) error

// IncomingHandler serves HTTP requests by handing them to a guest. Each
// request gets a fresh WASI environment.
type IncomingHandler struct {
	// NewWASI returns the environment for one request. Defaults to
	// preview2.New.
	NewWASI func(r *http.Request) *preview2.WASI
	Guest   Guest
	Config  Config
}

func (h *IncomingHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	newWASI := h.NewWASI
	if newWASI == nil {
		newWASI = func(*http.Request) *preview2.WASI { return preview2.New() }
	}
	w := newWASI(r)
	defer func() {
		if err := w.Close(); err != nil {
			preview2.Logger().Warn("closing request environment", zap.Error(err))
		}
	}()

	types := NewTypesHost(w, h.Config)
	req, err := types.NewIncomingRequest(r, http.NewResponseController(rw))
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	param, outcome, err := types.NewResponseOutparam()
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}

	guestDone := make(chan struct{})
	go func() {
		defer close(guestDone)
		defer func() {
			if v := recover(); v != nil {
				preview2.Logger().Error("guest panicked", zap.Any("panic", v))
			}
			// Whatever the guest left open, such as an unfinished body or
			// an unset outparam, ends with it.
			_ = w.Resources().Close()
		}()
		if err := h.Guest(r.Context(), types, req, param); err != nil {
			preview2.Logger().Warn("guest failed", zap.Error(err))
		}
	}()

	out, ok := <-outcome
	switch {
	case !ok:
		http.Error(rw, "guest did not set a response", http.StatusInternalServerError)
	case out.Err != nil:
		http.Error(rw, out.Err.Error(), http.StatusInternalServerError)
	default:
		writeResponse(rw, out.Response)
	}
	<-guestDone
}

// writeResponse copies resp to rw, sending its trailers after the body.
func writeResponse(rw http.ResponseWriter, resp *http.Response) {
	defer resp.Body.Close()

	hdr := rw.Header()
	for k, vs := range resp.Header {
		hdr[k] = vs
	}
	rw.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(rw, resp.Body); err != nil {
		preview2.Logger().Debug("response body aborted", zap.Error(err))
		panic(http.ErrAbortHandler)
	}
	for k, vs := range resp.Trailer {
		for _, v := range vs {
			hdr.Add(http.TrailerPrefix+k, v)
		}
	}
}
