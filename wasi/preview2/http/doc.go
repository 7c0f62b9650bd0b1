// Package http implements wasi:http@0.2.8 for WASI Preview2.
//
// Implements:
//   - wasi:http/types@0.2.8 - fields, requests, responses, bodies, futures
//   - wasi:http/outgoing-handler@0.2.8 - HTTP client (outbound requests)
//
// Outgoing requests run in the background over one HTTP/1.1 connection
// each. Connecting, waiting for the response head and each body read have
// their own timeouts; request-options override the Config defaults. The
// connection stays open while the response or its body is alive.
//
// The host side of wasi:http/incoming-handler is IncomingHandler, an
// http.Handler that bridges a request into the resource table and writes
// back whatever the guest delivers through its response-outparam.
package http
