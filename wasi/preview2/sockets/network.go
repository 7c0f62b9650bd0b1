package sockets

import (
	"context"
	"net/netip"

	"github.com/wippyai/wasihost/wasi/preview2"
)

// NetworkError is a wasi:sockets/network error-code returned to the guest.
type NetworkError struct {
	Cause error
	Code  NetworkErrorCode
}

type NetworkErrorCode uint8

const (
	NetworkErrorUnknown NetworkErrorCode = iota
	NetworkErrorAccessDenied
	NetworkErrorNotSupported
	NetworkErrorInvalidArgument
	NetworkErrorOutOfMemory
	NetworkErrorTimeout
	NetworkErrorConcurrencyConflict
	NetworkErrorNotInProgress
	NetworkErrorWouldBlock
	NetworkErrorInvalidState
	NetworkErrorNewSocketLimit
	NetworkErrorAddressNotBindable
	NetworkErrorAddressInUse
	NetworkErrorRemoteUnreachable
	NetworkErrorConnectionRefused
	NetworkErrorConnectionReset
	NetworkErrorConnectionAborted
	NetworkErrorDatagramTooLarge
	NetworkErrorNameUnresolvable
	NetworkErrorTemporaryResolverFailure
	NetworkErrorPermanentResolverFailure
)

var networkErrorNames = [...]string{
	NetworkErrorUnknown:                  "unknown",
	NetworkErrorAccessDenied:             "access-denied",
	NetworkErrorNotSupported:             "not-supported",
	NetworkErrorInvalidArgument:          "invalid-argument",
	NetworkErrorOutOfMemory:              "out-of-memory",
	NetworkErrorTimeout:                  "timeout",
	NetworkErrorConcurrencyConflict:      "concurrency-conflict",
	NetworkErrorNotInProgress:            "not-in-progress",
	NetworkErrorWouldBlock:               "would-block",
	NetworkErrorInvalidState:             "invalid-state",
	NetworkErrorNewSocketLimit:           "new-socket-limit",
	NetworkErrorAddressNotBindable:       "address-not-bindable",
	NetworkErrorAddressInUse:             "address-in-use",
	NetworkErrorRemoteUnreachable:        "remote-unreachable",
	NetworkErrorConnectionRefused:        "connection-refused",
	NetworkErrorConnectionReset:          "connection-reset",
	NetworkErrorConnectionAborted:        "connection-aborted",
	NetworkErrorDatagramTooLarge:         "datagram-too-large",
	NetworkErrorNameUnresolvable:         "name-unresolvable",
	NetworkErrorTemporaryResolverFailure: "temporary-resolver-failure",
	NetworkErrorPermanentResolverFailure: "permanent-resolver-failure",
}

func (c NetworkErrorCode) String() string {
	if int(c) < len(networkErrorNames) {
		return networkErrorNames[c]
	}
	return "unknown"
}

func (e *NetworkError) Error() string {
	if e.Cause != nil {
		return e.Code.String() + ": " + e.Cause.Error()
	}
	return e.Code.String()
}

func (e *NetworkError) Unwrap() error { return e.Cause }

func newNetworkError(code NetworkErrorCode) *NetworkError {
	return &NetworkError{Code: code}
}

// IPAddressFamily is the wasi:sockets/network ip-address-family.
type IPAddressFamily uint8

const (
	AddressFamilyIPv4 IPAddressFamily = 0
	AddressFamilyIPv6 IPAddressFamily = 1
)

// IPAddress is the wasi:sockets/network ip-address variant. Only the field
// selected by Family is meaningful.
type IPAddress struct {
	IPv6   [8]uint16
	IPv4   [4]uint8
	Family IPAddressFamily
}

// IPAddressFrom converts addr, unmapping IPv4-mapped IPv6 addresses.
func IPAddressFrom(addr netip.Addr) IPAddress {
	addr = addr.Unmap()
	if addr.Is4() {
		return IPAddress{Family: AddressFamilyIPv4, IPv4: addr.As4()}
	}
	b := addr.As16()
	var out IPAddress
	out.Family = AddressFamilyIPv6
	for i := range out.IPv6 {
		out.IPv6[i] = uint16(b[2*i])<<8 | uint16(b[2*i+1])
	}
	return out
}

// Addr converts a back to a netip.Addr.
func (a IPAddress) Addr() netip.Addr {
	if a.Family == AddressFamilyIPv4 {
		return netip.AddrFrom4(a.IPv4)
	}
	var b [16]byte
	for i, seg := range a.IPv6 {
		b[2*i] = byte(seg >> 8)
		b[2*i+1] = byte(seg)
	}
	return netip.AddrFrom16(b)
}

func (a IPAddress) String() string { return a.Addr().String() }

// InstanceNetworkHost implements wasi:sockets/instance-network.
type InstanceNetworkHost struct {
	resources *preview2.ResourceTable
	allow     bool
}

func NewInstanceNetworkHost(w *preview2.WASI) *InstanceNetworkHost {
	return &InstanceNetworkHost{resources: w.Resources(), allow: w.AllowIPNameLookup()}
}

func (h *InstanceNetworkHost) Namespace() string {
	return "wasi:sockets/instance-network@0.2.8"
}

// InstanceNetwork hands out the network capability. Name lookups through
// it follow the WASI context's lookup policy.
func (h *InstanceNetworkHost) InstanceNetwork(_ context.Context) (uint32, error) {
	return h.resources.Push(preview2.NewNetworkResource(h.allow))
}

func (h *InstanceNetworkHost) Register() map[string]any {
	return map[string]any{
		"instance-network": h.InstanceNetwork,
	}
}

// NetworkHost implements wasi:sockets/network.
type NetworkHost struct {
	resources *preview2.ResourceTable
}

func NewNetworkHost(resources *preview2.ResourceTable) *NetworkHost {
	return &NetworkHost{resources: resources}
}

func (h *NetworkHost) Namespace() string {
	return "wasi:sockets/network@0.2.8"
}

func (h *NetworkHost) ResourceDropNetwork(_ context.Context, self uint32) error {
	_, err := preview2.DeleteAs[*preview2.NetworkResource](h.resources, self)
	return err
}

func (h *NetworkHost) Register() map[string]any {
	return map[string]any{
		"[resource-drop]network": h.ResourceDropNetwork,
	}
}
