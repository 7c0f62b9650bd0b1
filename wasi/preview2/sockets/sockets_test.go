package sockets

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"syscall"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasihost/wasi/preview2"
	"github.com/wippyai/wasihost/wasi/preview2/task"
)

// startDNS serves records on an in-process UDP DNS server. Names missing
// from records answer NXDOMAIN; names in failing answer SERVFAIL.
func startDNS(t *testing.T, records map[string][]string, failing ...string) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	fail := make(map[string]bool)
	for _, name := range failing {
		fail[dns.Fqdn(name)] = true
	}

	mux := dns.NewServeMux()
	mux.HandleFunc(".", func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		q := r.Question[0]
		ips, ok := records[q.Name]
		switch {
		case fail[q.Name]:
			m.Rcode = dns.RcodeServerFailure
		case !ok:
			m.Rcode = dns.RcodeNameError
		}
		for _, ip := range ips {
			parsed := net.ParseIP(ip)
			hdr := dns.RR_Header{Name: q.Name, Class: dns.ClassINET, Ttl: 60}
			if v4 := parsed.To4(); v4 != nil && q.Qtype == dns.TypeA {
				hdr.Rrtype = dns.TypeA
				m.Answer = append(m.Answer, &dns.A{Hdr: hdr, A: v4})
			} else if v4 == nil && q.Qtype == dns.TypeAAAA {
				hdr.Rrtype = dns.TypeAAAA
				m.Answer = append(m.Answer, &dns.AAAA{Hdr: hdr, AAAA: parsed})
			}
		}
		_ = w.WriteMsg(m)
	})

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: mux, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })
	return pc.LocalAddr().String()
}

// stallResolver blocks until its context is cancelled.
type stallResolver struct {
	entered   chan struct{}
	cancelled chan struct{}
}

func newStallResolver() *stallResolver {
	return &stallResolver{entered: make(chan struct{}, 8), cancelled: make(chan struct{}, 8)}
}

func (r *stallResolver) LookupIP(ctx context.Context, _ string) ([]netip.Addr, error) {
	r.entered <- struct{}{}
	<-ctx.Done()
	r.cancelled <- struct{}{}
	return nil, ctx.Err()
}

// gateResolver answers every lookup once release is closed.
type gateResolver struct {
	release chan struct{}
	addrs   []netip.Addr
}

func (r *gateResolver) LookupIP(ctx context.Context, _ string) ([]netip.Addr, error) {
	select {
	case <-r.release:
		return r.addrs, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type lookupEnv struct {
	wasi    *preview2.WASI
	host    *IPNameLookupHost
	network uint32
	reg     *prometheus.Registry
}

func newLookupEnv(t *testing.T, allow bool, cfg Config, poolSize int) *lookupEnv {
	t.Helper()
	reg := prometheus.NewRegistry()
	w := preview2.New().
		WithAllowIPNameLookup(allow).
		WithBlockingPoolSize(poolSize).
		WithMetrics(reg)
	t.Cleanup(func() { _ = w.Close() })

	network, err := NewInstanceNetworkHost(w).InstanceNetwork(context.Background())
	require.NoError(t, err)
	return &lookupEnv{wasi: w, host: NewIPNameLookupHost(w, cfg), network: network, reg: reg}
}

// await blocks on a pollable for the stream.
func (e *lookupEnv) await(t *testing.T, stream uint32) {
	t.Helper()
	p, err := e.host.MethodResolveAddressStreamSubscribe(context.Background(), stream)
	require.NoError(t, err)
	pollable, err := preview2.GetAs[*preview2.Pollable](e.wasi.Resources(), p)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, pollable.Block(ctx, e.wasi.Resources()))
	_, err = e.wasi.Resources().Delete(p)
	require.NoError(t, err)
}

func (e *lookupEnv) drain(t *testing.T, stream uint32) ([]string, error) {
	t.Helper()
	var out []string
	for {
		addr, err := e.host.MethodResolveAddressStreamResolveNextAddress(context.Background(), stream)
		if err != nil {
			return out, err
		}
		if addr == nil {
			return out, nil
		}
		out = append(out, addr.String())
	}
}

func networkCode(t *testing.T, err error) NetworkErrorCode {
	t.Helper()
	var ne *NetworkError
	require.ErrorAs(t, err, &ne)
	return ne.Code
}

func TestInstanceNetwork(t *testing.T) {
	w := preview2.New().WithAllowIPNameLookup(true)
	defer w.Close()

	handle, err := NewInstanceNetworkHost(w).InstanceNetwork(context.Background())
	require.NoError(t, err)

	n, err := preview2.GetAs[*preview2.NetworkResource](w.Resources(), handle)
	require.NoError(t, err)
	assert.True(t, n.AllowIPNameLookup())

	require.NoError(t, NewNetworkHost(w.Resources()).ResourceDropNetwork(context.Background(), handle))
	assert.Zero(t, w.Resources().Len())
}

func TestResolveAddresses_Literal(t *testing.T) {
	env := newLookupEnv(t, true, Config{Resolver: newStallResolver()}, 1)
	ctx := context.Background()

	for _, tc := range []struct{ name, want string }{
		{"127.0.0.1", "127.0.0.1"},
		{"::1", "::1"},
		{"[2001:db8::1]", "2001:db8::1"},
	} {
		handle, err := env.host.ResolveAddresses(ctx, env.network, tc.name)
		require.NoError(t, err, tc.name)

		s, err := preview2.GetAs[*ResolveAddressStream](env.wasi.Resources(), handle)
		require.NoError(t, err)
		assert.False(t, s.Waiting(), "literal %s must not wait", tc.name)

		addrs, err := env.drain(t, handle)
		require.NoError(t, err)
		assert.Equal(t, []string{tc.want}, addrs)
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(env.wasi.Metrics().LookupCounter("literal")))
}

func TestResolveAddresses_InvalidName(t *testing.T) {
	env := newLookupEnv(t, true, Config{}, 1)
	ctx := context.Background()

	for _, name := range []string{"", "[127.0.0.1]", "[::1", "exa mple.com", "fe80::1%eth0", "-bad.example"} {
		_, err := env.host.ResolveAddresses(ctx, env.network, name)
		assert.Equal(t, NetworkErrorInvalidArgument, networkCode(t, err), "name %q", name)
	}
	assert.Equal(t, 1, env.wasi.Resources().Len(), "no stream may be created")
}

func TestResolveAddresses_LookupDisallowed(t *testing.T) {
	env := newLookupEnv(t, false, Config{}, 1)

	_, err := env.host.ResolveAddresses(context.Background(), env.network, "127.0.0.1")
	assert.Equal(t, NetworkErrorPermanentResolverFailure, networkCode(t, err))
	assert.Equal(t, 1, env.wasi.Resources().Len(), "no stream may be created")
	assert.Equal(t, 1.0, testutil.ToFloat64(env.wasi.Metrics().LookupCounter("denied")))
}

func TestResolveAddresses_NotANetwork(t *testing.T) {
	env := newLookupEnv(t, true, Config{}, 1)
	other, _ := env.wasi.Resources().Push(preview2.NewErrorResource(errors.New("x")))

	_, err := env.host.ResolveAddresses(context.Background(), other, "127.0.0.1")
	var ne *NetworkError
	assert.False(t, errors.As(err, &ne), "bad handles are host faults, got %v", err)
}

func TestResolveAddresses_DNS(t *testing.T) {
	server := startDNS(t, map[string][]string{
		"dual.test.": {"192.0.2.1", "2001:db8::1", "::ffff:192.0.2.1"},
	})
	env := newLookupEnv(t, true, Config{Resolver: NewDNSResolver(server)}, 4)

	handle, err := env.host.ResolveAddresses(context.Background(), env.network, "dual.test")
	require.NoError(t, err)
	env.await(t, handle)

	addrs, err := env.drain(t, handle)
	require.NoError(t, err)
	assert.Equal(t, []string{"192.0.2.1", "2001:db8::1"}, addrs)

	addr, err := env.host.MethodResolveAddressStreamResolveNextAddress(context.Background(), handle)
	assert.NoError(t, err)
	assert.Nil(t, addr, "exhausted stream keeps returning none")
	assert.Equal(t, 1.0, testutil.ToFloat64(env.wasi.Metrics().LookupCounter("ok")))
}

func TestResolveAddresses_ErrorsOnce(t *testing.T) {
	server := startDNS(t, map[string][]string{"flaky.test.": nil}, "flaky.test")
	env := newLookupEnv(t, true, Config{Resolver: NewDNSResolver(server)}, 4)
	ctx := context.Background()

	for name, want := range map[string]NetworkErrorCode{
		"missing.test": NetworkErrorNameUnresolvable,
		"flaky.test":   NetworkErrorTemporaryResolverFailure,
	} {
		handle, err := env.host.ResolveAddresses(ctx, env.network, name)
		require.NoError(t, err)
		env.await(t, handle)

		_, err = env.host.MethodResolveAddressStreamResolveNextAddress(ctx, handle)
		assert.Equal(t, want, networkCode(t, err), name)

		addr, err := env.host.MethodResolveAddressStreamResolveNextAddress(ctx, handle)
		assert.NoError(t, err, "error is delivered once")
		assert.Nil(t, addr)
	}
}

func TestResolveAddresses_WouldBlockAndAbort(t *testing.T) {
	stall := newStallResolver()
	env := newLookupEnv(t, true, Config{Resolver: stall}, 2)
	ctx := context.Background()

	handle, err := env.host.ResolveAddresses(ctx, env.network, "slow.test")
	require.NoError(t, err)
	<-stall.entered

	_, err = env.host.MethodResolveAddressStreamResolveNextAddress(ctx, handle)
	assert.Equal(t, NetworkErrorWouldBlock, networkCode(t, err))

	require.NoError(t, env.host.ResourceDropResolveAddressStream(ctx, handle))
	select {
	case <-stall.cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("dropping the stream must abort the lookup")
	}
}

func TestResolveAddresses_DropLeavesSharedLookup(t *testing.T) {
	gate := &gateResolver{
		release: make(chan struct{}),
		addrs:   []netip.Addr{netip.MustParseAddr("192.0.2.7")},
	}
	env := newLookupEnv(t, true, Config{Resolver: gate}, 4)
	ctx := context.Background()

	first, err := env.host.ResolveAddresses(ctx, env.network, "example.test")
	require.NoError(t, err)
	second, err := env.host.ResolveAddresses(ctx, env.network, "example.test")
	require.NoError(t, err)

	require.NoError(t, env.host.ResourceDropResolveAddressStream(ctx, first))
	close(gate.release)

	env.await(t, second)
	addrs, err := env.drain(t, second)
	require.NoError(t, err)
	assert.Equal(t, []string{"192.0.2.7"}, addrs)
}

func TestCoalescing_LastCallerCancels(t *testing.T) {
	stall := newStallResolver()
	c := newCoalescing(stall)

	ctx1, cancel1 := context.WithCancel(context.Background())
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	errs := make(chan error, 2)
	go func() { _, err := c.LookupIP(ctx1, "shared.test"); errs <- err }()
	<-stall.entered
	go func() { _, err := c.LookupIP(ctx2, "shared.test"); errs <- err }()

	cancel1()
	assert.ErrorIs(t, <-errs, context.Canceled)
	select {
	case <-stall.cancelled:
		// The second caller had not joined yet; it starts a fresh lookup.
		<-stall.entered
	case <-time.After(50 * time.Millisecond):
	}

	cancel2()
	assert.ErrorIs(t, <-errs, context.Canceled)
	select {
	case <-stall.cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("shared lookup outlived its last caller")
	}
}

func TestResolveAddresses_PoolOverloaded(t *testing.T) {
	stall := newStallResolver()
	env := newLookupEnv(t, true, Config{Resolver: stall}, 1)
	ctx := context.Background()

	first, err := env.host.ResolveAddresses(ctx, env.network, "one.test")
	require.NoError(t, err)
	<-stall.entered

	second, err := env.host.ResolveAddresses(ctx, env.network, "two.test")
	require.NoError(t, err)
	_, err = env.host.MethodResolveAddressStreamResolveNextAddress(ctx, second)
	assert.Equal(t, NetworkErrorTemporaryResolverFailure, networkCode(t, err))

	require.NoError(t, env.host.ResourceDropResolveAddressStream(ctx, first))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.wasi.Metrics().Collectors()[4]))
}

func TestMapLookupError(t *testing.T) {
	cases := []struct {
		err  error
		want NetworkErrorCode
	}{
		{&net.DNSError{IsNotFound: true}, NetworkErrorNameUnresolvable},
		{&net.DNSError{IsTemporary: true}, NetworkErrorTemporaryResolverFailure},
		{&net.DNSError{IsTimeout: true}, NetworkErrorTemporaryResolverFailure},
		{&net.DNSError{Err: "bad"}, NetworkErrorPermanentResolverFailure},
		{&net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, NetworkErrorTemporaryResolverFailure},
		{task.ErrPoolOverloaded, NetworkErrorTemporaryResolverFailure},
		{context.DeadlineExceeded, NetworkErrorTemporaryResolverFailure},
		{errors.New("boom"), NetworkErrorPermanentResolverFailure},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, mapLookupError(tc.err).Code, "%v", tc.err)
	}
	assert.Nil(t, mapLookupError(nil))
}

func TestCanonical(t *testing.T) {
	in := []netip.Addr{
		netip.MustParseAddr("::ffff:10.0.0.1"),
		netip.MustParseAddr("10.0.0.1"),
		netip.MustParseAddr("fe80::1%eth0"),
		netip.MustParseAddr("fe80::1"),
	}
	assert.Equal(t, []netip.Addr{
		netip.MustParseAddr("10.0.0.1"),
		netip.MustParseAddr("fe80::1"),
	}, canonical(in))
}

func TestIPAddress(t *testing.T) {
	v6 := IPAddressFrom(netip.MustParseAddr("2001:db8::ff00:42:8329"))
	assert.Equal(t, AddressFamilyIPv6, v6.Family)
	assert.Equal(t, [8]uint16{0x2001, 0xdb8, 0, 0, 0, 0xff00, 0x42, 0x8329}, v6.IPv6)
	assert.Equal(t, "2001:db8::ff00:42:8329", v6.String())

	v4 := IPAddressFrom(netip.MustParseAddr("::ffff:192.0.2.7"))
	assert.Equal(t, AddressFamilyIPv4, v4.Family)
	assert.Equal(t, [4]uint8{192, 0, 2, 7}, v4.IPv4)
}

func TestNetworkErrorCode_String(t *testing.T) {
	assert.Equal(t, "would-block", NetworkErrorWouldBlock.String())
	assert.Equal(t, "permanent-resolver-failure", NetworkErrorPermanentResolverFailure.String())
	assert.Equal(t, "name-unresolvable: no such host",
		(&NetworkError{Code: NetworkErrorNameUnresolvable, Cause: errors.New("no such host")}).Error())
}
