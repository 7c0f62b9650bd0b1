// Package sockets implements the WASI socket interfaces needed for name
// resolution.
//
// Implements:
//   - wasi:sockets/network@0.2.8 - Network capability and error codes
//   - wasi:sockets/instance-network@0.2.8 - Default network
//   - wasi:sockets/ip-name-lookup@0.2.8 - Asynchronous address resolution
//
// Lookups run on the WASI context's blocking pool through a Resolver:
// SystemResolver uses the operating system, DNSResolver queries a fixed
// DNS server. Identical lookups in flight at the same time share one query.
package sockets
