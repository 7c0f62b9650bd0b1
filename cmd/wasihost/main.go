package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/wasihost/wasi/preview2"
	"github.com/wippyai/wasihost/wasi/preview2/bind"
	"github.com/wippyai/wasihost/wasi/preview2/http"
	"github.com/wippyai/wasihost/wasi/preview2/sockets"
)

func main() {
	var (
		target       = flag.String("url", "", "URL to fetch")
		method       = flag.String("method", "GET", "Request method")
		headers      = flag.String("H", "", "Request headers (name:value,name2:value2)")
		body         = flag.String("body", "", "Request body")
		resolve      = flag.String("resolve", "", "Resolve a host name and exit")
		dnsServer    = flag.String("dns", "", "DNS server for -resolve (host:port); system resolver when empty")
		connect      = flag.Duration("connect-timeout", 0, "Connect timeout (0 uses the host default)")
		firstByte    = flag.Duration("first-byte-timeout", 0, "First byte timeout (0 uses the host default)")
		betweenBytes = flag.Duration("between-bytes-timeout", 0, "Between bytes timeout (0 uses the host default)")
		verbose      = flag.Bool("v", false, "Log host activity to stderr")
		interactive  = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if *verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = logger.Sync() }()
		preview2.SetLogger(logger)
	}

	cfg := bind.Config{HTTP: http.DefaultConfig()}
	if *dnsServer != "" {
		cfg.Sockets.Resolver = sockets.NewDNSResolver(*dnsServer)
	}

	hdrs, err := parseHeaders(*headers)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	req := request{
		url:          *target,
		method:       *method,
		headers:      hdrs,
		body:         *body,
		connect:      *connect,
		firstByte:    *firstByte,
		betweenBytes: *betweenBytes,
	}

	if *interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: -i needs a terminal")
			os.Exit(1)
		}
		if err := runInteractive(cfg, req); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *target == "" && *resolve == "" {
		fmt.Fprintln(os.Stderr, "Usage: wasihost -url <url> [-method M] [-H k:v,...] [-body data]")
		fmt.Fprintln(os.Stderr, "       wasihost -resolve <name> [-dns host:port]")
		fmt.Fprintln(os.Stderr, "       wasihost -i  (interactive mode)")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *resolve != "" {
		err = runResolve(ctx, cfg, *resolve)
	} else {
		err = runFetch(ctx, cfg, req)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newWASI() *preview2.WASI {
	return preview2.New().WithAllowIPNameLookup(true)
}

func runFetch(ctx context.Context, cfg bind.Config, req request) error {
	w := newWASI()
	defer func() { _ = w.Close() }()

	id := uuid.NewString()
	log := preview2.Logger().With(zap.String("request_id", id))
	start := time.Now()

	c := newClient(w, cfg)
	res, err := c.fetch(ctx, req, os.Stdout, func(stage string) {
		log.Debug("fetch", zap.String("stage", stage), zap.Duration("elapsed", time.Since(start)))
	})
	if res != nil {
		printMeta(res)
	}
	return err
}

// printMeta writes the status line, headers and trailers to stderr so stdout
// carries only the body.
func printMeta(res *result) {
	fmt.Fprintf(os.Stderr, "< %d\n", res.status)
	for _, e := range res.headers {
		fmt.Fprintf(os.Stderr, "< %s: %s\n", e.Name, e.Value)
	}
	for _, e := range res.trailers {
		fmt.Fprintf(os.Stderr, "< (trailer) %s: %s\n", e.Name, e.Value)
	}
	fmt.Fprintf(os.Stderr, "< %d bytes\n", res.bytes)
}

func runResolve(ctx context.Context, cfg bind.Config, name string) error {
	w := newWASI()
	defer func() { _ = w.Close() }()

	addrs, err := resolveName(ctx, bind.NewHosts(w, cfg), name)
	for _, a := range addrs {
		fmt.Println(a)
	}
	return err
}

// resolveName walks a resolve-address-stream to exhaustion.
func resolveName(ctx context.Context, hosts *bind.Hosts, name string) ([]string, error) {
	network, err := hosts.Instance.InstanceNetwork(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = hosts.Network.ResourceDropNetwork(ctx, network) }()

	stream, err := hosts.IPNameLookup.ResolveAddresses(ctx, network, name)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", name, err)
	}
	defer func() { _ = hosts.IPNameLookup.ResourceDropResolveAddressStream(ctx, stream) }()

	p, err := hosts.IPNameLookup.MethodResolveAddressStreamSubscribe(ctx, stream)
	if err != nil {
		return nil, err
	}
	err = hosts.IO.Poll.MethodPollableBlock(ctx, p)
	_ = hosts.IO.Poll.ResourceDropPollable(ctx, p)
	if err != nil {
		return nil, err
	}

	var out []string
	for {
		addr, err := hosts.IPNameLookup.MethodResolveAddressStreamResolveNextAddress(ctx, stream)
		if err != nil {
			return out, fmt.Errorf("resolve %q: %w", name, err)
		}
		if addr == nil {
			return out, nil
		}
		out = append(out, addr.String())
	}
}
