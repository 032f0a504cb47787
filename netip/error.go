package netip

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// Errc identifies a library condition. Values form a dense enumeration;
// the numbering is not stable across versions.
type Errc int

const (
	ErrMessageHandlerTerminated Errc = iota + 1
	ErrWeakReferenceExpired
	ErrEntityNotStarted
	ErrEntityAlreadyStarted
	ErrIOHandlerNotStarted
	ErrIOHandlerAlreadyStarted
	ErrUDPMaxBufSizeExceeded
	ErrTCPFramerError
	ErrConnectionClosedByPeer
	ErrConnectionClosedLocally
	ErrResolverError
	ErrEndpointAlreadyInUse
	ErrUnexpectedNetworkError
)

var errcText = map[Errc]string{
	ErrMessageHandlerTerminated: "netip: message handler terminated",
	ErrWeakReferenceExpired:     "netip: weak reference expired",
	ErrEntityNotStarted:         "netip: entity not started",
	ErrEntityAlreadyStarted:     "netip: entity already started",
	ErrIOHandlerNotStarted:      "netip: io handler not started",
	ErrIOHandlerAlreadyStarted:  "netip: io handler already started",
	ErrUDPMaxBufSizeExceeded:    "netip: udp max buffer size exceeded",
	ErrTCPFramerError:           "netip: tcp message framer error",
	ErrConnectionClosedByPeer:   "netip: connection closed by peer",
	ErrConnectionClosedLocally:  "netip: connection closed locally",
	ErrResolverError:            "netip: resolver error",
	ErrEndpointAlreadyInUse:     "netip: endpoint already in use",
	ErrUnexpectedNetworkError:   "netip: unexpected network error",
}

func (e Errc) Error() string {
	if s, ok := errcText[e]; ok {
		return s
	}
	return "netip: unknown error"
}

// classifyNetError maps an underlying network error onto the code space.
// Wrapped causes are inspected so codes survive pkg/errors annotation.
func classifyNetError(err error) Errc {
	var ec Errc
	if errors.As(err, &ec) {
		return ec
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrResolverError
	}
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return ErrConnectionClosedByPeer
	case errors.Is(err, net.ErrClosed):
		return ErrConnectionClosedLocally
	case errors.Is(err, syscall.EADDRINUSE):
		return ErrEndpointAlreadyInUse
	}
	return ErrUnexpectedNetworkError
}
