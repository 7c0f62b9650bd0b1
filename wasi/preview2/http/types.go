package http

import (
	"context"
	"math"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/http/httpguts"

	"github.com/wippyai/wasihost/errors"
	"github.com/wippyai/wasihost/wasi/preview2"
	"github.com/wippyai/wasihost/wasi/preview2/task"
)

// TypesNamespace is the WASI HTTP types namespace.
const TypesNamespace = "wasi:http/types@0.2.8"

// TypesHost implements wasi:http/types@0.2.8.
//
// Guest-visible failures are returned as *ErrorCode, HeaderError or one of
// ErrRejected, ErrBodyTaken, ErrResponseConsumed and ErrTrailersConsumed.
// Any other error is a trap; see IsGuestError.
type TypesHost struct {
	wasi *preview2.WASI
	cfg  Config
}

// NewTypesHost creates the types host. Zero fields of cfg take their
// defaults.
func NewTypesHost(w *preview2.WASI, cfg Config) *TypesHost {
	return &TypesHost{wasi: w, cfg: cfg.withDefaults()}
}

// Namespace returns the WASI namespace.
func (h *TypesHost) Namespace() string {
	return TypesNamespace
}

func (h *TypesHost) resources() *preview2.ResourceTable {
	return h.wasi.Resources()
}

// TrailersResult is the payload of a resolved future-trailers. Trailers is
// nil when the message had none.
type TrailersResult struct {
	Trailers *uint32
	Err      *ErrorCode
}

// ResponseResult is the payload of a resolved future-incoming-response.
type ResponseResult struct {
	Err      *ErrorCode
	Response uint32
}

// Fields

func (h *TypesHost) fields(self uint32) (*Fields, http.Header, error) {
	f, err := preview2.GetAs[*Fields](h.resources(), self)
	if err != nil {
		return nil, nil, err
	}
	hdr, err := f.Header(h.resources())
	if err != nil {
		return nil, nil, err
	}
	return f, hdr, nil
}

// mutable resolves fields for a mutation of name and returns the
// normalized name.
func (h *TypesHost) mutable(self uint32, name string) (http.Header, string, error) {
	f, hdr, err := h.fields(self)
	if err != nil {
		return nil, "", err
	}
	if f.Immutable() {
		return nil, "", HeaderErrorImmutable
	}
	key, err := fieldName(name)
	if err != nil {
		return nil, "", err
	}
	if h.cfg.forbidden(key) {
		return nil, "", HeaderErrorForbidden
	}
	return hdr, key, nil
}

// takeFields removes a fields resource and returns a copy of its map.
func (h *TypesHost) takeFields(handle uint32) (http.Header, error) {
	_, hdr, err := h.fields(handle)
	if err != nil {
		return nil, err
	}
	if _, err := preview2.DeleteAs[*Fields](h.resources(), handle); err != nil {
		return nil, err
	}
	return hdr.Clone(), nil
}

// [constructor]fields
func (h *TypesHost) ConstructorFields(_ context.Context) (uint32, error) {
	return h.resources().Push(NewFields())
}

// [static]fields.from-list
func (h *TypesHost) StaticFieldsFromList(_ context.Context, list []FieldEntry) (uint32, error) {
	hdr := http.Header{}
	for _, e := range list {
		key, err := fieldName(e.Name)
		if err != nil {
			return 0, err
		}
		if h.cfg.forbidden(key) {
			return 0, HeaderErrorForbidden
		}
		if err := fieldValue(e.Value); err != nil {
			return 0, err
		}
		hdr[key] = append(hdr[key], string(e.Value))
	}
	return h.resources().Push(ownedFields(hdr, false))
}

// [method]fields.get returns the values of name, or none for an invalid name.
func (h *TypesHost) MethodFieldsGet(_ context.Context, self uint32, name string) ([][]byte, error) {
	_, hdr, err := h.fields(self)
	if err != nil {
		return nil, err
	}
	key, err := fieldName(name)
	if err != nil {
		return [][]byte{}, nil
	}
	out := make([][]byte, 0, len(hdr[key]))
	for _, v := range hdr[key] {
		out = append(out, []byte(v))
	}
	return out, nil
}

// [method]fields.has
func (h *TypesHost) MethodFieldsHas(_ context.Context, self uint32, name string) (bool, error) {
	_, hdr, err := h.fields(self)
	if err != nil {
		return false, err
	}
	key, err := fieldName(name)
	if err != nil {
		return false, nil
	}
	_, ok := hdr[key]
	return ok, nil
}

// [method]fields.set
func (h *TypesHost) MethodFieldsSet(_ context.Context, self uint32, name string, values [][]byte) error {
	hdr, key, err := h.mutable(self, name)
	if err != nil {
		return err
	}
	vs := make([]string, 0, len(values))
	for _, v := range values {
		if err := fieldValue(v); err != nil {
			return err
		}
		vs = append(vs, string(v))
	}
	hdr[key] = vs
	return nil
}

// [method]fields.delete
func (h *TypesHost) MethodFieldsDelete(_ context.Context, self uint32, name string) error {
	hdr, key, err := h.mutable(self, name)
	if err != nil {
		return err
	}
	delete(hdr, key)
	return nil
}

// [method]fields.append
func (h *TypesHost) MethodFieldsAppend(_ context.Context, self uint32, name string, value []byte) error {
	hdr, key, err := h.mutable(self, name)
	if err != nil {
		return err
	}
	if err := fieldValue(value); err != nil {
		return err
	}
	hdr[key] = append(hdr[key], string(value))
	return nil
}

// [method]fields.entries
func (h *TypesHost) MethodFieldsEntries(_ context.Context, self uint32) ([]FieldEntry, error) {
	_, hdr, err := h.fields(self)
	if err != nil {
		return nil, err
	}
	return entries(hdr), nil
}

// [method]fields.clone returns a mutable copy.
func (h *TypesHost) MethodFieldsClone(_ context.Context, self uint32) (uint32, error) {
	_, hdr, err := h.fields(self)
	if err != nil {
		return 0, err
	}
	return h.resources().Push(ownedFields(hdr.Clone(), false))
}

// [resource-drop]fields
func (h *TypesHost) ResourceDropFields(_ context.Context, self uint32) error {
	_, err := preview2.DeleteAs[*Fields](h.resources(), self)
	return err
}

// headersView pushes an immutable view of the headers of parent.
func (h *TypesHost) headersView(parent uint32, view func(preview2.Resource) http.Header) (uint32, error) {
	return h.resources().PushChild(fieldsView(parent, view, true), parent)
}

// Incoming request

// [method]incoming-request.method
func (h *TypesHost) MethodIncomingRequestMethod(_ context.Context, self uint32) (Method, error) {
	r, err := preview2.GetAs[*IncomingRequest](h.resources(), self)
	if err != nil {
		return Method{}, err
	}
	return r.method, nil
}

// [method]incoming-request.path-with-query
func (h *TypesHost) MethodIncomingRequestPathWithQuery(_ context.Context, self uint32) (*string, error) {
	r, err := preview2.GetAs[*IncomingRequest](h.resources(), self)
	if err != nil {
		return nil, err
	}
	return r.pathWithQuery, nil
}

// [method]incoming-request.scheme
func (h *TypesHost) MethodIncomingRequestScheme(_ context.Context, self uint32) (*Scheme, error) {
	r, err := preview2.GetAs[*IncomingRequest](h.resources(), self)
	if err != nil {
		return nil, err
	}
	return r.scheme, nil
}

// [method]incoming-request.authority
func (h *TypesHost) MethodIncomingRequestAuthority(_ context.Context, self uint32) (*string, error) {
	r, err := preview2.GetAs[*IncomingRequest](h.resources(), self)
	if err != nil {
		return nil, err
	}
	return r.authority, nil
}

// [method]incoming-request.headers
func (h *TypesHost) MethodIncomingRequestHeaders(_ context.Context, self uint32) (uint32, error) {
	if _, err := preview2.GetAs[*IncomingRequest](h.resources(), self); err != nil {
		return 0, err
	}
	return h.headersView(self, incomingRequestHeaders)
}

// [method]incoming-request.consume
func (h *TypesHost) MethodIncomingRequestConsume(_ context.Context, self uint32) (uint32, error) {
	r, err := preview2.GetAs[*IncomingRequest](h.resources(), self)
	if err != nil {
		return 0, err
	}
	if r.body == nil {
		return 0, ErrBodyTaken
	}
	body := newIncomingBody(r.body, nil, h.cfg.ReadChunkSize)
	r.body = nil
	return h.resources().Push(body)
}

// [resource-drop]incoming-request
func (h *TypesHost) ResourceDropIncomingRequest(_ context.Context, self uint32) error {
	_, err := preview2.DeleteAs[*IncomingRequest](h.resources(), self)
	return err
}

// Outgoing request

// [constructor]outgoing-request takes ownership of headers.
func (h *TypesHost) ConstructorOutgoingRequest(_ context.Context, headers uint32) (uint32, error) {
	hdr, err := h.takeFields(headers)
	if err != nil {
		return 0, err
	}
	return h.resources().Push(newOutgoingRequest(hdr))
}

// [method]outgoing-request.body returns the body once.
func (h *TypesHost) MethodOutgoingRequestBody(_ context.Context, self uint32) (uint32, error) {
	r, err := preview2.GetAs[*OutgoingRequest](h.resources(), self)
	if err != nil {
		return 0, err
	}
	if r.bodyTaken {
		return 0, ErrBodyTaken
	}
	r.bodyTaken = true
	r.body = preview2.NewPipe(h.cfg.BodyBufferSize)
	r.trailers = http.Header{}
	return h.resources().Push(newOutgoingBody(r.body, r.trailers))
}

// [method]outgoing-request.method
func (h *TypesHost) MethodOutgoingRequestMethod(_ context.Context, self uint32) (Method, error) {
	r, err := preview2.GetAs[*OutgoingRequest](h.resources(), self)
	if err != nil {
		return Method{}, err
	}
	return r.method, nil
}

// [method]outgoing-request.set-method
func (h *TypesHost) MethodOutgoingRequestSetMethod(_ context.Context, self uint32, method Method) error {
	r, err := preview2.GetAs[*OutgoingRequest](h.resources(), self)
	if err != nil {
		return err
	}
	if _, err := method.HTTP(); err != nil {
		return ErrRejected
	}
	r.method = method
	return nil
}

// [method]outgoing-request.path-with-query
func (h *TypesHost) MethodOutgoingRequestPathWithQuery(_ context.Context, self uint32) (*string, error) {
	r, err := preview2.GetAs[*OutgoingRequest](h.resources(), self)
	if err != nil {
		return nil, err
	}
	return r.pathWithQuery, nil
}

// [method]outgoing-request.set-path-with-query
func (h *TypesHost) MethodOutgoingRequestSetPathWithQuery(_ context.Context, self uint32, path *string) error {
	r, err := preview2.GetAs[*OutgoingRequest](h.resources(), self)
	if err != nil {
		return err
	}
	if path != nil {
		if _, err := url.ParseRequestURI(*path); err != nil {
			return ErrRejected
		}
		p := *path
		path = &p
	}
	r.pathWithQuery = path
	return nil
}

// [method]outgoing-request.scheme
func (h *TypesHost) MethodOutgoingRequestScheme(_ context.Context, self uint32) (*Scheme, error) {
	r, err := preview2.GetAs[*OutgoingRequest](h.resources(), self)
	if err != nil {
		return nil, err
	}
	return r.scheme, nil
}

// [method]outgoing-request.set-scheme
func (h *TypesHost) MethodOutgoingRequestSetScheme(_ context.Context, self uint32, scheme *Scheme) error {
	r, err := preview2.GetAs[*OutgoingRequest](h.resources(), self)
	if err != nil {
		return err
	}
	if scheme != nil {
		if !scheme.valid() {
			return ErrRejected
		}
		s := *scheme
		scheme = &s
	}
	r.scheme = scheme
	return nil
}

// [method]outgoing-request.authority
func (h *TypesHost) MethodOutgoingRequestAuthority(_ context.Context, self uint32) (*string, error) {
	r, err := preview2.GetAs[*OutgoingRequest](h.resources(), self)
	if err != nil {
		return nil, err
	}
	return r.authority, nil
}

// [method]outgoing-request.set-authority
func (h *TypesHost) MethodOutgoingRequestSetAuthority(_ context.Context, self uint32, authority *string) error {
	r, err := preview2.GetAs[*OutgoingRequest](h.resources(), self)
	if err != nil {
		return err
	}
	if authority != nil {
		if !httpguts.ValidHostHeader(*authority) {
			return ErrRejected
		}
		a := *authority
		authority = &a
	}
	r.authority = authority
	return nil
}

// [method]outgoing-request.headers
func (h *TypesHost) MethodOutgoingRequestHeaders(_ context.Context, self uint32) (uint32, error) {
	if _, err := preview2.GetAs[*OutgoingRequest](h.resources(), self); err != nil {
		return 0, err
	}
	return h.headersView(self, outgoingRequestHeaders)
}

// [resource-drop]outgoing-request
func (h *TypesHost) ResourceDropOutgoingRequest(_ context.Context, self uint32) error {
	_, err := preview2.DeleteAs[*OutgoingRequest](h.resources(), self)
	return err
}

// Request options

// [constructor]request-options
func (h *TypesHost) ConstructorRequestOptions(_ context.Context) (uint32, error) {
	return h.resources().Push(&RequestOptions{})
}

func (h *TypesHost) option(self uint32, pick func(*RequestOptions) **time.Duration) (**time.Duration, error) {
	o, err := preview2.GetAs[*RequestOptions](h.resources(), self)
	if err != nil {
		return nil, err
	}
	return pick(o), nil
}

func getDuration(slot **time.Duration) *uint64 {
	if *slot == nil {
		return nil
	}
	ns := uint64(**slot)
	return &ns
}

func setDuration(slot **time.Duration, ns *uint64) error {
	if ns == nil {
		*slot = nil
		return nil
	}
	if *ns > math.MaxInt64 {
		return ErrRejected
	}
	d := time.Duration(*ns)
	*slot = &d
	return nil
}

func connectSlot(o *RequestOptions) **time.Duration      { return &o.connectTimeout }
func firstByteSlot(o *RequestOptions) **time.Duration    { return &o.firstByteTimeout }
func betweenBytesSlot(o *RequestOptions) **time.Duration { return &o.betweenBytesTimeout }

// [method]request-options.connect-timeout
func (h *TypesHost) MethodRequestOptionsConnectTimeout(_ context.Context, self uint32) (*uint64, error) {
	slot, err := h.option(self, connectSlot)
	if err != nil {
		return nil, err
	}
	return getDuration(slot), nil
}

// [method]request-options.set-connect-timeout
func (h *TypesHost) MethodRequestOptionsSetConnectTimeout(_ context.Context, self uint32, ns *uint64) error {
	slot, err := h.option(self, connectSlot)
	if err != nil {
		return err
	}
	return setDuration(slot, ns)
}

// [method]request-options.first-byte-timeout
func (h *TypesHost) MethodRequestOptionsFirstByteTimeout(_ context.Context, self uint32) (*uint64, error) {
	slot, err := h.option(self, firstByteSlot)
	if err != nil {
		return nil, err
	}
	return getDuration(slot), nil
}

// [method]request-options.set-first-byte-timeout
func (h *TypesHost) MethodRequestOptionsSetFirstByteTimeout(_ context.Context, self uint32, ns *uint64) error {
	slot, err := h.option(self, firstByteSlot)
	if err != nil {
		return err
	}
	return setDuration(slot, ns)
}

// [method]request-options.between-bytes-timeout
func (h *TypesHost) MethodRequestOptionsBetweenBytesTimeout(_ context.Context, self uint32) (*uint64, error) {
	slot, err := h.option(self, betweenBytesSlot)
	if err != nil {
		return nil, err
	}
	return getDuration(slot), nil
}

// [method]request-options.set-between-bytes-timeout
func (h *TypesHost) MethodRequestOptionsSetBetweenBytesTimeout(_ context.Context, self uint32, ns *uint64) error {
	slot, err := h.option(self, betweenBytesSlot)
	if err != nil {
		return err
	}
	return setDuration(slot, ns)
}

// [resource-drop]request-options
func (h *TypesHost) ResourceDropRequestOptions(_ context.Context, self uint32) error {
	_, err := preview2.DeleteAs[*RequestOptions](h.resources(), self)
	return err
}

// Outgoing body

// [method]outgoing-body.write returns the body stream once, as a child of
// the body.
func (h *TypesHost) MethodOutgoingBodyWrite(_ context.Context, self uint32) (uint32, error) {
	b, err := preview2.GetAs[*OutgoingBody](h.resources(), self)
	if err != nil {
		return 0, err
	}
	s, err := b.write()
	if err != nil {
		return 0, err
	}
	return h.resources().PushChild(s, self)
}

// [static]outgoing-body.finish ends the body, taking ownership of trailers.
func (h *TypesHost) StaticOutgoingBodyFinish(_ context.Context, this uint32, trailers *uint32) error {
	resources := h.resources()
	b, err := preview2.GetAs[*OutgoingBody](resources, this)
	if err != nil {
		return err
	}
	if n, err := resources.Children(this); err != nil {
		return err
	} else if n > 0 {
		return errors.New(errors.PhaseTable, errors.KindHasChildren).
			Handle(this).
			Detail("outgoing-body stream still open").
			Build()
	}
	var hdr http.Header
	if trailers != nil {
		if hdr, err = h.takeFields(*trailers); err != nil {
			return err
		}
	}
	b.finished = true
	if _, err := preview2.DeleteAs[*OutgoingBody](resources, this); err != nil {
		b.finished = false
		return err
	}
	b.finish(hdr)
	return nil
}

// [resource-drop]outgoing-body
func (h *TypesHost) ResourceDropOutgoingBody(_ context.Context, self uint32) error {
	_, err := preview2.DeleteAs[*OutgoingBody](h.resources(), self)
	return err
}

// Incoming response

// [method]incoming-response.status
func (h *TypesHost) MethodIncomingResponseStatus(_ context.Context, self uint32) (uint16, error) {
	r, err := preview2.GetAs[*IncomingResponse](h.resources(), self)
	if err != nil {
		return 0, err
	}
	return r.status, nil
}

// [method]incoming-response.headers
func (h *TypesHost) MethodIncomingResponseHeaders(_ context.Context, self uint32) (uint32, error) {
	if _, err := preview2.GetAs[*IncomingResponse](h.resources(), self); err != nil {
		return 0, err
	}
	return h.headersView(self, incomingResponseHeaders)
}

// [method]incoming-response.consume
func (h *TypesHost) MethodIncomingResponseConsume(_ context.Context, self uint32) (uint32, error) {
	r, err := preview2.GetAs[*IncomingResponse](h.resources(), self)
	if err != nil {
		return 0, err
	}
	if r.body == nil {
		return 0, ErrBodyTaken
	}
	var worker *task.Shared[error]
	if r.worker != nil {
		worker = r.worker.Clone()
	}
	body := newIncomingBody(r.body, worker, h.cfg.ReadChunkSize)
	r.body = nil
	return h.resources().Push(body)
}

// [resource-drop]incoming-response
func (h *TypesHost) ResourceDropIncomingResponse(_ context.Context, self uint32) error {
	_, err := preview2.DeleteAs[*IncomingResponse](h.resources(), self)
	return err
}

// Incoming body

// [method]incoming-body.stream returns the body stream once, as a child of
// the body.
func (h *TypesHost) MethodIncomingBodyStream(_ context.Context, self uint32) (uint32, error) {
	b, err := preview2.GetAs[*IncomingBody](h.resources(), self)
	if err != nil {
		return 0, err
	}
	s, err := b.stream()
	if err != nil {
		return 0, err
	}
	return h.resources().PushChild(s, self)
}

// [static]incoming-body.finish consumes the body. The rest of it is read
// in the background to reach the trailers.
func (h *TypesHost) StaticIncomingBodyFinish(_ context.Context, this uint32) (uint32, error) {
	resources := h.resources()
	b, err := preview2.GetAs[*IncomingBody](resources, this)
	if err != nil {
		return 0, err
	}
	b.finishing = true
	if _, err := preview2.DeleteAs[*IncomingBody](resources, this); err != nil {
		b.finishing = false
		return 0, err
	}
	return resources.Push(finishBody(b.src, b.worker))
}

// [resource-drop]incoming-body
func (h *TypesHost) ResourceDropIncomingBody(_ context.Context, self uint32) error {
	_, err := preview2.DeleteAs[*IncomingBody](h.resources(), self)
	return err
}

// Future trailers

// [method]future-trailers.subscribe
func (h *TypesHost) MethodFutureTrailersSubscribe(_ context.Context, self uint32) (uint32, error) {
	resources := h.resources()
	if _, err := preview2.GetAs[*FutureTrailers](resources, self); err != nil {
		return 0, err
	}
	return preview2.Subscribe(resources, self)
}

// [method]future-trailers.get returns nil while the trailers are pending.
func (h *TypesHost) MethodFutureTrailersGet(_ context.Context, self uint32) (*TrailersResult, error) {
	f, err := preview2.GetAs[*FutureTrailers](h.resources(), self)
	if err != nil {
		return nil, err
	}
	res, err := f.get()
	if err != nil || res == nil {
		return nil, err
	}
	if res.err != nil {
		return &TrailersResult{Err: res.err}, nil
	}
	if len(res.trailers) == 0 {
		return &TrailersResult{}, nil
	}
	handle, err := h.resources().Push(ownedFields(res.trailers, true))
	if err != nil {
		return nil, err
	}
	return &TrailersResult{Trailers: &handle}, nil
}

// [resource-drop]future-trailers
func (h *TypesHost) ResourceDropFutureTrailers(_ context.Context, self uint32) error {
	_, err := preview2.DeleteAs[*FutureTrailers](h.resources(), self)
	return err
}

// Future incoming response

// [method]future-incoming-response.subscribe
func (h *TypesHost) MethodFutureIncomingResponseSubscribe(_ context.Context, self uint32) (uint32, error) {
	resources := h.resources()
	if _, err := preview2.GetAs[*FutureIncomingResponse](resources, self); err != nil {
		return 0, err
	}
	return preview2.Subscribe(resources, self)
}

// [method]future-incoming-response.get returns nil while the request is in
// flight, the outcome once, and ErrResponseConsumed after that.
func (h *TypesHost) MethodFutureIncomingResponseGet(_ context.Context, self uint32) (*ResponseResult, error) {
	resources := h.resources()
	f, err := preview2.GetAs[*FutureIncomingResponse](resources, self)
	if err != nil {
		return nil, err
	}
	res, ok, err := f.take()
	if err != nil || !ok {
		return nil, err
	}
	if res.Err != nil {
		return nil, errors.Wrap(errors.PhaseHTTP, errors.KindTrap, res.Err, "outgoing request task failed")
	}
	if res.Value.err != nil {
		return &ResponseResult{Err: res.Value.err}, nil
	}

	resp := res.Value.resp
	handle, err := resources.Push(&IncomingResponse{
		status:  uint16(resp.status),
		headers: resp.header,
		body:    resp.body,
		worker:  resp.worker,
	})
	if err != nil {
		resp.release()
		return nil, err
	}
	return &ResponseResult{Response: handle}, nil
}

// [resource-drop]future-incoming-response
func (h *TypesHost) ResourceDropFutureIncomingResponse(_ context.Context, self uint32) error {
	_, err := preview2.DeleteAs[*FutureIncomingResponse](h.resources(), self)
	return err
}

// Outgoing response

// [constructor]outgoing-response takes ownership of headers.
func (h *TypesHost) ConstructorOutgoingResponse(_ context.Context, headers uint32) (uint32, error) {
	hdr, err := h.takeFields(headers)
	if err != nil {
		return 0, err
	}
	return h.resources().Push(newOutgoingResponse(hdr))
}

// [method]outgoing-response.status-code
func (h *TypesHost) MethodOutgoingResponseStatusCode(_ context.Context, self uint32) (uint16, error) {
	r, err := preview2.GetAs[*OutgoingResponse](h.resources(), self)
	if err != nil {
		return 0, err
	}
	return r.status, nil
}

// [method]outgoing-response.set-status-code
func (h *TypesHost) MethodOutgoingResponseSetStatusCode(_ context.Context, self uint32, status uint16) error {
	r, err := preview2.GetAs[*OutgoingResponse](h.resources(), self)
	if err != nil {
		return err
	}
	if !validStatus(status) {
		return ErrRejected
	}
	r.status = status
	return nil
}

// [method]outgoing-response.headers
func (h *TypesHost) MethodOutgoingResponseHeaders(_ context.Context, self uint32) (uint32, error) {
	if _, err := preview2.GetAs[*OutgoingResponse](h.resources(), self); err != nil {
		return 0, err
	}
	return h.headersView(self, outgoingResponseHeaders)
}

// [method]outgoing-response.body returns the body once.
func (h *TypesHost) MethodOutgoingResponseBody(_ context.Context, self uint32) (uint32, error) {
	r, err := preview2.GetAs[*OutgoingResponse](h.resources(), self)
	if err != nil {
		return 0, err
	}
	if r.bodyTaken {
		return 0, ErrBodyTaken
	}
	r.bodyTaken = true
	r.body = preview2.NewPipe(h.cfg.BodyBufferSize)
	r.trailers = http.Header{}
	return h.resources().Push(newOutgoingBody(r.body, r.trailers))
}

// [resource-drop]outgoing-response
func (h *TypesHost) ResourceDropOutgoingResponse(_ context.Context, self uint32) error {
	_, err := preview2.DeleteAs[*OutgoingResponse](h.resources(), self)
	return err
}

// Response outparam

// [static]response-outparam.set delivers either the response, whose
// ownership moves to the host, or code. Both resources are consumed.
func (h *TypesHost) StaticResponseOutparamSet(_ context.Context, param uint32, response *uint32, code *ErrorCode) error {
	resources := h.resources()
	p, err := preview2.GetAs[*ResponseOutparam](resources, param)
	if err != nil {
		return err
	}
	var out ResponseOutcome
	switch {
	case response != nil:
		r, err := preview2.DeleteAs[*OutgoingResponse](resources, *response)
		if err != nil {
			return err
		}
		out.Response = r.HTTP()
	case code != nil:
		out.Err = code
	default:
		out.Err = UnexpectedError("response-outparam.set without a response")
	}
	p.set(out)
	_, err = preview2.DeleteAs[*ResponseOutparam](resources, param)
	return err
}

// [resource-drop]response-outparam
func (h *TypesHost) ResourceDropResponseOutparam(_ context.Context, self uint32) error {
	_, err := preview2.DeleteAs[*ResponseOutparam](h.resources(), self)
	return err
}

// http-error-code returns the HTTP error behind a wasi:io/error, if any.
func (h *TypesHost) HTTPErrorCode(_ context.Context, err uint32) (*ErrorCode, error) {
	e, gerr := preview2.GetAs[*preview2.ErrorResource](h.resources(), err)
	if gerr != nil {
		return nil, gerr
	}
	return HTTPErrorCode(e), nil
}

// Register maps WIT function names to host methods.
func (h *TypesHost) Register() map[string]any {
	return map[string]any{
		"[constructor]fields":      h.ConstructorFields,
		"[static]fields.from-list": h.StaticFieldsFromList,
		"[method]fields.get":       h.MethodFieldsGet,
		"[method]fields.has":       h.MethodFieldsHas,
		"[method]fields.set":       h.MethodFieldsSet,
		"[method]fields.delete":    h.MethodFieldsDelete,
		"[method]fields.append":    h.MethodFieldsAppend,
		"[method]fields.entries":   h.MethodFieldsEntries,
		"[method]fields.clone":     h.MethodFieldsClone,
		"[resource-drop]fields":    h.ResourceDropFields,

		"[method]incoming-request.method":          h.MethodIncomingRequestMethod,
		"[method]incoming-request.path-with-query": h.MethodIncomingRequestPathWithQuery,
		"[method]incoming-request.scheme":          h.MethodIncomingRequestScheme,
		"[method]incoming-request.authority":       h.MethodIncomingRequestAuthority,
		"[method]incoming-request.headers":         h.MethodIncomingRequestHeaders,
		"[method]incoming-request.consume":         h.MethodIncomingRequestConsume,
		"[resource-drop]incoming-request":          h.ResourceDropIncomingRequest,

		"[constructor]outgoing-request":                h.ConstructorOutgoingRequest,
		"[method]outgoing-request.body":                h.MethodOutgoingRequestBody,
		"[method]outgoing-request.method":              h.MethodOutgoingRequestMethod,
		"[method]outgoing-request.set-method":          h.MethodOutgoingRequestSetMethod,
		"[method]outgoing-request.path-with-query":     h.MethodOutgoingRequestPathWithQuery,
		"[method]outgoing-request.set-path-with-query": h.MethodOutgoingRequestSetPathWithQuery,
		"[method]outgoing-request.scheme":              h.MethodOutgoingRequestScheme,
		"[method]outgoing-request.set-scheme":          h.MethodOutgoingRequestSetScheme,
		"[method]outgoing-request.authority":           h.MethodOutgoingRequestAuthority,
		"[method]outgoing-request.set-authority":       h.MethodOutgoingRequestSetAuthority,
		"[method]outgoing-request.headers":             h.MethodOutgoingRequestHeaders,
		"[resource-drop]outgoing-request":              h.ResourceDropOutgoingRequest,

		"[constructor]request-options":                      h.ConstructorRequestOptions,
		"[method]request-options.connect-timeout":           h.MethodRequestOptionsConnectTimeout,
		"[method]request-options.set-connect-timeout":       h.MethodRequestOptionsSetConnectTimeout,
		"[method]request-options.first-byte-timeout":        h.MethodRequestOptionsFirstByteTimeout,
		"[method]request-options.set-first-byte-timeout":    h.MethodRequestOptionsSetFirstByteTimeout,
		"[method]request-options.between-bytes-timeout":     h.MethodRequestOptionsBetweenBytesTimeout,
		"[method]request-options.set-between-bytes-timeout": h.MethodRequestOptionsSetBetweenBytesTimeout,
		"[resource-drop]request-options":                    h.ResourceDropRequestOptions,

		"[method]outgoing-body.write":  h.MethodOutgoingBodyWrite,
		"[static]outgoing-body.finish": h.StaticOutgoingBodyFinish,
		"[resource-drop]outgoing-body": h.ResourceDropOutgoingBody,

		"[method]incoming-response.status":  h.MethodIncomingResponseStatus,
		"[method]incoming-response.headers": h.MethodIncomingResponseHeaders,
		"[method]incoming-response.consume": h.MethodIncomingResponseConsume,
		"[resource-drop]incoming-response":  h.ResourceDropIncomingResponse,

		"[method]incoming-body.stream": h.MethodIncomingBodyStream,
		"[static]incoming-body.finish": h.StaticIncomingBodyFinish,
		"[resource-drop]incoming-body": h.ResourceDropIncomingBody,

		"[method]future-trailers.subscribe": h.MethodFutureTrailersSubscribe,
		"[method]future-trailers.get":       h.MethodFutureTrailersGet,
		"[resource-drop]future-trailers":    h.ResourceDropFutureTrailers,

		"[method]future-incoming-response.subscribe": h.MethodFutureIncomingResponseSubscribe,
		"[method]future-incoming-response.get":       h.MethodFutureIncomingResponseGet,
		"[resource-drop]future-incoming-response":    h.ResourceDropFutureIncomingResponse,

		"[constructor]outgoing-response":            h.ConstructorOutgoingResponse,
		"[method]outgoing-response.status-code":     h.MethodOutgoingResponseStatusCode,
		"[method]outgoing-response.set-status-code": h.MethodOutgoingResponseSetStatusCode,
		"[method]outgoing-response.headers":         h.MethodOutgoingResponseHeaders,
		"[method]outgoing-response.body":            h.MethodOutgoingResponseBody,
		"[resource-drop]outgoing-response":          h.ResourceDropOutgoingResponse,

		"[static]response-outparam.set":    h.StaticResponseOutparamSet,
		"[resource-drop]response-outparam": h.ResourceDropResponseOutparam,

		"http-error-code": h.HTTPErrorCode,
	}
}
