package sockets

import (
	"context"
	"net"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/sync/singleflight"
)

// DefaultDNSTimeout bounds each query DNSResolver sends.
const DefaultDNSTimeout = 5 * time.Second

// Resolver looks up the IP addresses of a host name. Implementations may
// block; lookups run on the blocking pool.
type Resolver interface {
	LookupIP(ctx context.Context, host string) ([]netip.Addr, error)
}

// Config configures name resolution.
type Config struct {
	// Resolver performs domain lookups. Nil uses the operating system.
	Resolver Resolver
}

// SystemResolver resolves through the operating system.
type SystemResolver struct {
	Resolver *net.Resolver
}

func (r SystemResolver) LookupIP(ctx context.Context, host string) ([]netip.Addr, error) {
	res := r.Resolver
	if res == nil {
		res = net.DefaultResolver
	}
	return res.LookupNetIP(ctx, "ip", host)
}

// DNSResolver queries A and AAAA records from a single DNS server.
type DNSResolver struct {
	client *dns.Client
	server string
}

// NewDNSResolver creates a resolver for server, given as host:port.
func NewDNSResolver(server string) *DNSResolver {
	return &DNSResolver{
		client: &dns.Client{Net: "udp", Timeout: DefaultDNSTimeout},
		server: server,
	}
}

// WithTimeout sets the per-query timeout.
func (r *DNSResolver) WithTimeout(d time.Duration) *DNSResolver {
	r.client.Timeout = d
	return r
}

// LookupIP returns IPv4 addresses followed by IPv6 addresses. The host is
// unresolvable only when both queries report the name does not exist or
// neither returns records.
func (r *DNSResolver) LookupIP(ctx context.Context, host string) ([]netip.Addr, error) {
	var addrs []netip.Addr
	var lastErr error
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		found, err := r.query(ctx, host, qtype)
		if err != nil {
			lastErr = err
			continue
		}
		addrs = append(addrs, found...)
	}
	if len(addrs) > 0 {
		return addrs, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, &net.DNSError{Err: "no such host", Name: host, Server: r.server, IsNotFound: true}
}

func (r *DNSResolver) query(ctx context.Context, host string, qtype uint16) ([]netip.Addr, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), qtype)
	msg.RecursionDesired = true

	in, _, err := r.client.ExchangeContext(ctx, msg, r.server)
	if err != nil {
		return nil, &net.DNSError{
			Err:         err.Error(),
			Name:        host,
			Server:      r.server,
			IsTimeout:   os.IsTimeout(err),
			IsTemporary: true,
		}
	}

	switch in.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return nil, &net.DNSError{Err: "no such host", Name: host, Server: r.server, IsNotFound: true}
	case dns.RcodeServerFailure, dns.RcodeRefused:
		return nil, &net.DNSError{Err: dns.RcodeToString[in.Rcode], Name: host, Server: r.server, IsTemporary: true}
	default:
		return nil, &net.DNSError{Err: dns.RcodeToString[in.Rcode], Name: host, Server: r.server}
	}

	var out []netip.Addr
	for _, rr := range in.Answer {
		var ip net.IP
		switch v := rr.(type) {
		case *dns.A:
			ip = v.A
		case *dns.AAAA:
			ip = v.AAAA
		default:
			continue
		}
		if addr, ok := netip.AddrFromSlice(ip); ok {
			out = append(out, addr)
		}
	}
	return out, nil
}

// coalescing shares one in-flight lookup between identical concurrent
// requests. The shared lookup runs detached from any single caller and is
// cancelled only once every caller waiting on it has gone.
type coalescing struct {
	next  Resolver
	group singleflight.Group

	mu      sync.Mutex
	waiting map[string]*waiters
}

// waiters counts the callers of one shared lookup.
type waiters struct {
	ctx    context.Context
	cancel context.CancelFunc
	n      int
}

func newCoalescing(next Resolver) *coalescing {
	return &coalescing{next: next, waiting: make(map[string]*waiters)}
}

func (c *coalescing) LookupIP(ctx context.Context, host string) ([]netip.Addr, error) {
	w := c.join(ctx, host)
	ch := c.group.DoChan(host, func() (any, error) {
		return c.next.LookupIP(w.ctx, host)
	})
	select {
	case res := <-ch:
		c.leave(host, w)
		if res.Err != nil {
			return nil, res.Err
		}
		return append([]netip.Addr(nil), res.Val.([]netip.Addr)...), nil
	case <-ctx.Done():
		c.leave(host, w)
		return nil, ctx.Err()
	}
}

func (c *coalescing) join(ctx context.Context, host string) *waiters {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := c.waiting[host]
	if w == nil {
		wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		w = &waiters{ctx: wctx, cancel: cancel}
		c.waiting[host] = w
	}
	w.n++
	return w
}

// leave releases one caller. The last one out cancels the shared lookup
// and makes later callers start a fresh one.
func (c *coalescing) leave(host string, w *waiters) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w.n--
	if w.n > 0 {
		return
	}
	if c.waiting[host] == w {
		delete(c.waiting, host)
	}
	c.group.Forget(host)
	w.cancel()
}

// canonical unmaps IPv4-mapped addresses and removes duplicates, keeping
// the first occurrence.
func canonical(addrs []netip.Addr) []netip.Addr {
	seen := make(map[netip.Addr]struct{}, len(addrs))
	out := make([]netip.Addr, 0, len(addrs))
	for _, a := range addrs {
		a = a.Unmap().WithZone("")
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}
