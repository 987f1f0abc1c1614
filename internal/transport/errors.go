package transport

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"syscall"
)

// IsAbortError reports whether err comes from cooperative cancellation
// rather than a transport fault.
func IsAbortError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// IsInternetDisconnected reports whether err indicates the local host has
// no route to the network at all (down interface, unreachable network,
// failed DNS with no connectivity).
func IsInternetDisconnected(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ENETDOWN) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// IsNetworkChanged reports whether err indicates a kernel-reported
// network reconfiguration: the interface set changed under an
// established connection pool, a transient condition where one retry on
// a fresh pool is safe. Matched by errno or by the string the resolver
// stack surfaces on macOS.
func IsNetworkChanged(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ENETDOWN) || errors.Is(err, syscall.ENETUNREACH) {
		return true
	}
	return strings.Contains(err.Error(), "network changed")
}

// IsFetchError reports whether err is a generic transport-level failure:
// any net or url error that is not a cancellation.
func IsFetchError(err error) bool {
	if err == nil || IsAbortError(err) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
