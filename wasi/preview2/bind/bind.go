package bind

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasihost/wasi/preview2"
	"github.com/wippyai/wasihost/wasi/preview2/clocks"
	"github.com/wippyai/wasihost/wasi/preview2/http"
	"github.com/wippyai/wasihost/wasi/preview2/io"
	"github.com/wippyai/wasihost/wasi/preview2/sockets"
)

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

// Config selects the host configuration behind the bound modules.
type Config struct {
	HTTP    http.Config
	Sockets sockets.Config
}

// Hosts are the WASI hosts backing the modules. Callers that need the
// functions outside the scalar subset use them directly.
type Hosts struct {
	IO              *io.Host
	Monotonic       *clocks.MonotonicClockHost
	Wall            *clocks.WallClockHost
	Network         *sockets.NetworkHost
	Instance        *sockets.InstanceNetworkHost
	IPNameLookup    *sockets.IPNameLookupHost
	Types           *http.TypesHost
	OutgoingHandler *http.OutgoingHandlerHost
}

// NewHosts creates every host over w.
func NewHosts(w *preview2.WASI, cfg Config) *Hosts {
	return &Hosts{
		IO:              io.NewHost(w),
		Monotonic:       clocks.NewMonotonicClockHost(w),
		Wall:            clocks.NewWallClockHost(w),
		Network:         sockets.NewNetworkHost(w.Resources()),
		Instance:        sockets.NewInstanceNetworkHost(w),
		IPNameLookup:    sockets.NewIPNameLookupHost(w, cfg.Sockets),
		Types:           http.NewTypesHost(w, cfg.HTTP),
		OutgoingHandler: http.NewOutgoingHandlerHost(w, cfg.HTTP),
	}
}

// Exports returns every host function keyed by namespace and function name,
// including those outside the scalar subset. Embedders with their own
// canonical ABI lowering bind from this table.
func (h *Hosts) Exports() map[string]map[string]any {
	type registrar interface {
		Namespace() string
		Register() map[string]any
	}
	out := make(map[string]map[string]any)
	for _, r := range []registrar{
		h.IO.Poll, h.IO.Streams, h.IO.Error,
		h.Monotonic, h.Wall,
		h.Network, h.Instance, h.IPNameLookup,
		h.Types, h.OutgoingHandler,
	} {
		out[r.Namespace()] = r.Register()
	}
	return out
}

// Modules are the host modules instantiated into one runtime.
type Modules struct {
	Hosts *Hosts
	mods  map[string]api.Module
}

// Module returns the host module registered under a WASI namespace, or nil.
func (m *Modules) Module(namespace string) api.Module {
	return m.mods[namespace]
}

// Close closes every module.
func (m *Modules) Close(ctx context.Context) error {
	var err error
	for _, mod := range m.mods {
		err = multierr.Append(err, mod.Close(ctx))
	}
	return err
}

// Instantiate registers host modules for the scalar functions of w's hosts
// in r, one module per WASI interface. Functions that move strings, lists or
// records through guest memory are not bound here.
func Instantiate(ctx context.Context, r wazero.Runtime, w *preview2.WASI, cfg Config) (*Modules, error) {
	h := NewHosts(w, cfg)
	m := &Modules{Hosts: h, mods: make(map[string]api.Module)}

	exports := h.Exports()
	builders := []*module{
		pollModule(h.IO.Poll),
		streamsModule(h.IO.Streams),
		errorModule(h.IO.Error),
		monotonicModule(h.Monotonic),
		networkModule(h.Network),
		instanceNetworkModule(h.Instance),
		ipNameLookupModule(h.IPNameLookup),
		typesModule(h.Types),
	}
	for _, b := range builders {
		if err := b.check(exports[b.name]); err != nil {
			return nil, multierr.Append(err, m.Close(ctx))
		}
		mod, err := b.instantiate(ctx, r)
		if err != nil {
			return nil, multierr.Append(err, m.Close(ctx))
		}
		m.mods[b.name] = mod
		preview2.Logger().Debug("host module instantiated",
			zap.String("module", b.name),
			zap.Int("functions", len(b.funcs)))
	}
	return m, nil
}

type hostFunc struct {
	fn      api.GoModuleFunc
	name    string
	params  []api.ValueType
	results []api.ValueType
}

type module struct {
	name  string
	funcs []hostFunc
}

func newModule(name string) *module {
	return &module{name: name}
}

func (m *module) fn(name string, params, results []api.ValueType, fn api.GoModuleFunc) *module {
	m.funcs = append(m.funcs, hostFunc{name: name, params: params, results: results, fn: fn})
	return m
}

// check reports a bound function the host does not export.
func (m *module) check(exports map[string]any) error {
	for _, f := range m.funcs {
		if _, ok := exports[f.name]; !ok {
			return fmt.Errorf("%s: host exports no %q", m.name, f.name)
		}
	}
	return nil
}

func (m *module) instantiate(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	builder := r.NewHostModuleBuilder(m.name)
	for _, f := range m.funcs {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(f.fn, f.params, f.results).
			WithName(f.name).
			Export(f.name)
	}
	return builder.Instantiate(ctx)
}

func pollModule(h *io.PollHost) *module {
	return newModule(h.Namespace()).
		fn("[method]pollable.ready", []api.ValueType{i32}, []api.ValueType{i32}, handleToBool(h.MethodPollableReady)).
		fn("[method]pollable.block", []api.ValueType{i32}, nil, handleToUnit(h.MethodPollableBlock)).
		fn("[resource-drop]pollable", []api.ValueType{i32}, nil, handleToUnit(h.ResourceDropPollable))
}

func streamsModule(h *io.StreamsHost) *module {
	return newModule(h.Namespace()).
		fn("[method]input-stream.subscribe", []api.ValueType{i32}, []api.ValueType{i32}, handleToHandle(h.MethodInputStreamSubscribe)).
		fn("[method]output-stream.subscribe", []api.ValueType{i32}, []api.ValueType{i32}, handleToHandle(h.MethodOutputStreamSubscribe)).
		fn("[resource-drop]input-stream", []api.ValueType{i32}, nil, handleToUnit(h.ResourceDropInputStream)).
		fn("[resource-drop]output-stream", []api.ValueType{i32}, nil, handleToUnit(h.ResourceDropOutputStream))
}

func errorModule(h *io.ErrorHost) *module {
	return newModule(h.Namespace()).
		fn("[resource-drop]error", []api.ValueType{i32}, nil, handleToUnit(h.ResourceDropError))
}

func monotonicModule(h *clocks.MonotonicClockHost) *module {
	return newModule(h.Namespace()).
		fn("now", nil, []api.ValueType{i64}, func(ctx context.Context, _ api.Module, stack []uint64) {
			stack[0] = h.Now(ctx)
		}).
		fn("resolution", nil, []api.ValueType{i64}, func(ctx context.Context, _ api.Module, stack []uint64) {
			stack[0] = h.Resolution(ctx)
		}).
		fn("subscribe-instant", []api.ValueType{i64}, []api.ValueType{i32}, u64ToHandle(h.SubscribeInstant)).
		fn("subscribe-duration", []api.ValueType{i64}, []api.ValueType{i32}, u64ToHandle(h.SubscribeDuration))
}

func networkModule(h *sockets.NetworkHost) *module {
	return newModule(h.Namespace()).
		fn("[resource-drop]network", []api.ValueType{i32}, nil, handleToUnit(h.ResourceDropNetwork))
}

func instanceNetworkModule(h *sockets.InstanceNetworkHost) *module {
	return newModule(h.Namespace()).
		fn("instance-network", nil, []api.ValueType{i32}, func(ctx context.Context, _ api.Module, stack []uint64) {
			handle, err := h.InstanceNetwork(ctx)
			check(err)
			stack[0] = api.EncodeU32(handle)
		})
}

func ipNameLookupModule(h *sockets.IPNameLookupHost) *module {
	return newModule(h.Namespace()).
		fn("[method]resolve-address-stream.subscribe", []api.ValueType{i32}, []api.ValueType{i32}, handleToHandle(h.MethodResolveAddressStreamSubscribe)).
		fn("[resource-drop]resolve-address-stream", []api.ValueType{i32}, nil, handleToUnit(h.ResourceDropResolveAddressStream))
}

func typesModule(h *http.TypesHost) *module {
	m := newModule(h.Namespace()).
		fn("[constructor]fields", nil, []api.ValueType{i32}, func(ctx context.Context, _ api.Module, stack []uint64) {
			handle, err := h.ConstructorFields(ctx)
			check(err)
			stack[0] = api.EncodeU32(handle)
		}).
		fn("[constructor]request-options", nil, []api.ValueType{i32}, func(ctx context.Context, _ api.Module, stack []uint64) {
			handle, err := h.ConstructorRequestOptions(ctx)
			check(err)
			stack[0] = api.EncodeU32(handle)
		}).
		fn("[method]outgoing-request.headers", []api.ValueType{i32}, []api.ValueType{i32}, handleToHandle(h.MethodOutgoingRequestHeaders)).
		fn("[method]incoming-response.status", []api.ValueType{i32}, []api.ValueType{i32}, func(ctx context.Context, _ api.Module, stack []uint64) {
			status, err := h.MethodIncomingResponseStatus(ctx, api.DecodeU32(stack[0]))
			check(err)
			stack[0] = uint64(status)
		}).
		fn("[method]incoming-response.headers", []api.ValueType{i32}, []api.ValueType{i32}, handleToHandle(h.MethodIncomingResponseHeaders)).
		fn("[method]outgoing-response.status-code", []api.ValueType{i32}, []api.ValueType{i32}, func(ctx context.Context, _ api.Module, stack []uint64) {
			status, err := h.MethodOutgoingResponseStatusCode(ctx, api.DecodeU32(stack[0]))
			check(err)
			stack[0] = uint64(status)
		}).
		fn("[method]outgoing-response.set-status-code", []api.ValueType{i32, i32}, []api.ValueType{i32}, func(ctx context.Context, _ api.Module, stack []uint64) {
			err := h.MethodOutgoingResponseSetStatusCode(ctx, api.DecodeU32(stack[0]), uint16(stack[1]))
			stack[0] = result(err)
		}).
		fn("[method]outgoing-response.headers", []api.ValueType{i32}, []api.ValueType{i32}, handleToHandle(h.MethodOutgoingResponseHeaders)).
		fn("[method]future-trailers.subscribe", []api.ValueType{i32}, []api.ValueType{i32}, handleToHandle(h.MethodFutureTrailersSubscribe)).
		fn("[method]future-incoming-response.subscribe", []api.ValueType{i32}, []api.ValueType{i32}, handleToHandle(h.MethodFutureIncomingResponseSubscribe))

	drops := []struct {
		name string
		fn   func(context.Context, uint32) error
	}{
		{"fields", h.ResourceDropFields},
		{"incoming-request", h.ResourceDropIncomingRequest},
		{"outgoing-request", h.ResourceDropOutgoingRequest},
		{"request-options", h.ResourceDropRequestOptions},
		{"outgoing-body", h.ResourceDropOutgoingBody},
		{"incoming-response", h.ResourceDropIncomingResponse},
		{"incoming-body", h.ResourceDropIncomingBody},
		{"future-trailers", h.ResourceDropFutureTrailers},
		{"future-incoming-response", h.ResourceDropFutureIncomingResponse},
		{"outgoing-response", h.ResourceDropOutgoingResponse},
		{"response-outparam", h.ResourceDropResponseOutparam},
	}
	for _, d := range drops {
		m.fn("[resource-drop]"+d.name, []api.ValueType{i32}, nil, handleToUnit(d.fn))
	}
	return m
}
