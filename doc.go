// Package wasihost provides the host side of WASI preview2 for Go embedders.
//
// The library implements the resource, stream and pollable machinery behind
// wasi:io together with the clock, DNS and outgoing HTTP interfaces built on
// it. Guests are never compiled or run here; a runtime such as wazero calls
// into the hosts through the bind package.
//
// # Architecture Overview
//
//	wasihost/
//	├── errors/                  Structured error types with phase and kind
//	├── resource/                Handle table with parent/child tracking
//	├── wasi/preview2/           Resource table, pollables, streams, WASI context
//	│   ├── task/                Host tasks, blocking pool, shared tasks
//	│   ├── io/                  wasi:io/poll, streams and error
//	│   ├── clocks/              wasi:clocks/monotonic-clock and wall-clock
//	│   ├── sockets/             wasi:sockets/network and ip-name-lookup
//	│   ├── http/                wasi:http/types, outgoing-handler, message bridging
//	│   └── bind/                wazero host modules for the scalar functions
//	└── cmd/wasihost/            Command line client driving the hosts
//
// # Quick Start
//
// Send a request the way a guest would:
//
//	w := preview2.New()
//	defer w.Close()
//
//	types := http.NewTypesHost(w, http.DefaultConfig())
//	handler := http.NewOutgoingHandlerHost(w, http.DefaultConfig())
//
//	headers, _ := types.ConstructorFields(ctx)
//	req, _ := types.ConstructorOutgoingRequest(ctx, headers)
//	authority := "example.com"
//	_ = types.MethodOutgoingRequestSetAuthority(ctx, req, &authority)
//
//	future, err := handler.Handle(ctx, req, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Thread Safety
//
// A WASI context and its resource table are safe for concurrent use. Host
// tasks run on their own goroutines and only touch resources through the
// values they were spawned with.
package wasihost
