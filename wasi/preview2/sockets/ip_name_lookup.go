package sockets

import (
	"context"
	"errors"
	"net/netip"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/net/idna"

	"github.com/wippyai/wasihost/wasi/preview2"
	"github.com/wippyai/wasihost/wasi/preview2/task"
)

type lookupResult struct {
	err   error
	addrs []netip.Addr
}

// ResolveAddressStream yields the addresses of one lookup. It waits on a
// blocking-pool task until the first poll that finds the task finished,
// then hands out one address per call. A failure is reported once, after
// which the stream is empty.
type ResolveAddressStream struct {
	pending *task.Task[lookupResult]
	err     *NetworkError
	addrs   []netip.Addr
	mu      sync.Mutex
}

func newResolvedStream(addrs ...netip.Addr) *ResolveAddressStream {
	return &ResolveAddressStream{addrs: addrs}
}

func newPendingStream(t *task.Task[lookupResult]) *ResolveAddressStream {
	return &ResolveAddressStream{pending: t}
}

func (s *ResolveAddressStream) Type() preview2.ResourceType {
	return preview2.ResourceResolveAddressStream
}

// Drop aborts a lookup still in flight.
func (s *ResolveAddressStream) Drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		s.pending.Abort()
		s.pending = nil
	}
}

func (s *ResolveAddressStream) Ready() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		return s.pending.Done()
	}
	return preview2.ReadyNow()
}

// Waiting reports whether the lookup has not been observed as finished.
func (s *ResolveAddressStream) Waiting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// Next returns the next address, nil once exhausted, or a *NetworkError.
func (s *ResolveAddressStream) Next() (*IPAddress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending != nil {
		res, ok := s.pending.Poll()
		if !ok {
			return nil, newNetworkError(NetworkErrorWouldBlock)
		}
		s.pending = nil
		switch {
		case res.Err != nil:
			s.err = mapLookupError(res.Err)
		case res.Value.err != nil:
			s.err = mapLookupError(res.Value.err)
		default:
			s.addrs = canonical(res.Value.addrs)
		}
	}

	if s.err != nil {
		err := s.err
		s.err = nil
		return nil, err
	}
	if len(s.addrs) == 0 {
		return nil, nil
	}
	addr := IPAddressFrom(s.addrs[0])
	s.addrs = s.addrs[1:]
	return &addr, nil
}

// parseName validates a lookup name. It returns either an IP literal or
// the ASCII form of a domain name.
func parseName(name string) (string, netip.Addr, *NetworkError) {
	if inner, ok := strings.CutPrefix(name, "["); ok {
		inner, ok = strings.CutSuffix(inner, "]")
		addr, err := netip.ParseAddr(inner)
		if !ok || err != nil || !addr.Is6() || addr.Zone() != "" {
			return "", netip.Addr{}, newNetworkError(NetworkErrorInvalidArgument)
		}
		return "", addr, nil
	}
	if addr, err := netip.ParseAddr(name); err == nil {
		if addr.Zone() != "" {
			return "", netip.Addr{}, newNetworkError(NetworkErrorInvalidArgument)
		}
		return "", addr, nil
	}

	host, err := idna.Lookup.ToASCII(name)
	if err != nil || host == "" {
		return "", netip.Addr{}, &NetworkError{Code: NetworkErrorInvalidArgument, Cause: err}
	}
	return host, netip.Addr{}, nil
}

// IPNameLookupHost implements wasi:sockets/ip-name-lookup.
type IPNameLookupHost struct {
	wasi     *preview2.WASI
	resolver Resolver
}

// NewIPNameLookupHost creates the lookup host. Domain lookups go through
// cfg.Resolver, or the operating system when it is nil.
func NewIPNameLookupHost(w *preview2.WASI, cfg Config) *IPNameLookupHost {
	var r Resolver = SystemResolver{}
	if cfg.Resolver != nil {
		r = cfg.Resolver
	}
	return &IPNameLookupHost{wasi: w, resolver: newCoalescing(r)}
}

// Namespace returns the WASI namespace
func (h *IPNameLookupHost) Namespace() string {
	return "wasi:sockets/ip-name-lookup@0.2.8"
}

// ResolveAddresses starts resolving name. IP literals complete without
// touching the blocking pool. A network that disallows lookups fails before
// any stream is created.
func (h *IPNameLookupHost) ResolveAddresses(ctx context.Context, network uint32, name string) (uint32, error) {
	resources := h.wasi.Resources()
	n, err := preview2.GetAs[*preview2.NetworkResource](resources, network)
	if err != nil {
		return 0, err
	}

	host, literal, nerr := parseName(name)
	if nerr != nil {
		return 0, nerr
	}
	if !n.AllowIPNameLookup() {
		h.wasi.Metrics().Lookup("denied")
		return 0, newNetworkError(NetworkErrorPermanentResolverFailure)
	}

	if literal.IsValid() {
		h.wasi.Metrics().Lookup("literal")
		return resources.Push(newResolvedStream(literal))
	}

	pool, err := h.wasi.BlockingPool()
	if err != nil {
		return 0, err
	}
	metrics := h.wasi.Metrics()
	t := task.SpawnBlocking(ctx, pool, func(ctx context.Context) lookupResult {
		addrs, err := h.resolver.LookupIP(ctx, host)
		if err != nil {
			preview2.Logger().Debug("name lookup failed", zap.String("host", host), zap.Error(err))
			metrics.Lookup(mapLookupError(err).Code.String())
			return lookupResult{err: err}
		}
		metrics.Lookup("ok")
		return lookupResult{addrs: addrs}
	})
	if res, done := t.Poll(); done && errors.Is(res.Err, task.ErrPoolOverloaded) {
		metrics.PoolRejected()
	}
	return resources.Push(newPendingStream(t))
}

// [method]resolve-address-stream.resolve-next-address
func (h *IPNameLookupHost) MethodResolveAddressStreamResolveNextAddress(_ context.Context, self uint32) (*IPAddress, error) {
	s, err := preview2.GetAs[*ResolveAddressStream](h.wasi.Resources(), self)
	if err != nil {
		return nil, err
	}
	return s.Next()
}

// [method]resolve-address-stream.subscribe
func (h *IPNameLookupHost) MethodResolveAddressStreamSubscribe(_ context.Context, self uint32) (uint32, error) {
	resources := h.wasi.Resources()
	if _, err := preview2.GetAs[*ResolveAddressStream](resources, self); err != nil {
		return 0, err
	}
	return preview2.Subscribe(resources, self)
}

// [resource-drop]resolve-address-stream
func (h *IPNameLookupHost) ResourceDropResolveAddressStream(_ context.Context, self uint32) error {
	_, err := preview2.DeleteAs[*ResolveAddressStream](h.wasi.Resources(), self)
	return err
}

func (h *IPNameLookupHost) Register() map[string]any {
	return map[string]any{
		"resolve-addresses":                                   h.ResolveAddresses,
		"[method]resolve-address-stream.resolve-next-address": h.MethodResolveAddressStreamResolveNextAddress,
		"[method]resolve-address-stream.subscribe":            h.MethodResolveAddressStreamSubscribe,
		"[resource-drop]resolve-address-stream":               h.ResourceDropResolveAddressStream,
	}
}
