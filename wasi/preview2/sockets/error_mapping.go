package sockets

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"

	"github.com/wippyai/wasihost/wasi/preview2/task"
)

// mapNetError converts Go net package errors to WASI network error codes.
func mapNetError(err error) *NetworkError {
	if err == nil {
		return nil
	}

	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		switch {
		case dnsErr.IsNotFound:
			return &NetworkError{Code: NetworkErrorNameUnresolvable, Cause: err}
		case dnsErr.IsTemporary, dnsErr.IsTimeout:
			return &NetworkError{Code: NetworkErrorTemporaryResolverFailure, Cause: err}
		default:
			return &NetworkError{Code: NetworkErrorPermanentResolverFailure, Cause: err}
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return mapOpError(opErr)
	}

	var addrErr *net.AddrError
	if errors.As(err, &addrErr) {
		return &NetworkError{Code: NetworkErrorInvalidArgument, Cause: err}
	}

	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return &NetworkError{Code: NetworkErrorTimeout, Cause: err}
	}

	if os.IsPermission(err) {
		return &NetworkError{Code: NetworkErrorAccessDenied, Cause: err}
	}

	return &NetworkError{Code: NetworkErrorUnknown, Cause: err}
}

// mapOpError converts net.OpError to WASI network error codes.
func mapOpError(opErr *net.OpError) *NetworkError {
	var errno syscall.Errno
	if errors.As(opErr.Err, &errno) {
		ne := mapErrno(errno)
		ne.Cause = opErr
		return ne
	}

	if opErr.Timeout() {
		return &NetworkError{Code: NetworkErrorTimeout, Cause: opErr}
	}

	return &NetworkError{Code: NetworkErrorUnknown, Cause: opErr}
}

// mapErrno converts syscall.Errno to WASI network error codes.
func mapErrno(errno syscall.Errno) *NetworkError {
	switch errno {
	case syscall.EACCES, syscall.EPERM:
		return newNetworkError(NetworkErrorAccessDenied)
	case syscall.ECONNREFUSED:
		return newNetworkError(NetworkErrorConnectionRefused)
	case syscall.ECONNRESET:
		return newNetworkError(NetworkErrorConnectionReset)
	case syscall.ECONNABORTED:
		return newNetworkError(NetworkErrorConnectionAborted)
	case syscall.EHOSTUNREACH, syscall.ENETUNREACH:
		return newNetworkError(NetworkErrorRemoteUnreachable)
	case syscall.ETIMEDOUT:
		return newNetworkError(NetworkErrorTimeout)
	case syscall.EINVAL:
		return newNetworkError(NetworkErrorInvalidArgument)
	case syscall.ENOMEM:
		return newNetworkError(NetworkErrorOutOfMemory)
	case syscall.EMFILE, syscall.ENFILE:
		return newNetworkError(NetworkErrorNewSocketLimit)
	default:
		return newNetworkError(NetworkErrorUnknown)
	}
}

// mapLookupError narrows a failure of a name lookup to the codes
// resolve-next-address may return. Transport trouble reaching a resolver
// is temporary; anything unclassified is permanent.
func mapLookupError(err error) *NetworkError {
	if err == nil {
		return nil
	}
	if errors.Is(err, task.ErrPoolOverloaded) {
		return &NetworkError{Code: NetworkErrorTemporaryResolverFailure, Cause: err}
	}

	ne := mapNetError(err)
	switch ne.Code {
	case NetworkErrorNameUnresolvable, NetworkErrorTemporaryResolverFailure, NetworkErrorPermanentResolverFailure:
		return ne
	case NetworkErrorTimeout, NetworkErrorConnectionRefused, NetworkErrorConnectionReset,
		NetworkErrorConnectionAborted, NetworkErrorRemoteUnreachable, NetworkErrorOutOfMemory,
		NetworkErrorNewSocketLimit:
		return &NetworkError{Code: NetworkErrorTemporaryResolverFailure, Cause: err}
	default:
		return &NetworkError{Code: NetworkErrorPermanentResolverFailure, Cause: err}
	}
}
