package netip

import (
	"fmt"
	"time"
)

const (
	defaultMaxMsgSize          = 64 * 1024
	defaultWriteBufSize        = 4 * 1024
	defaultMaxDatagramSize     = 1500
	defaultShutdownWritePeriod = 5 * time.Second
	defaultDialTimeout         = 10 * time.Second
)

type ioOptions struct {
	maxMsgSize          int
	readBufSize         int
	writeBufSize        int
	shutdownWritePeriod time.Duration
	keepAlivePeriod     time.Duration
}

func defaultIOOptions() ioOptions {
	return ioOptions{
		maxMsgSize:          defaultMaxMsgSize,
		writeBufSize:        defaultWriteBufSize,
		shutdownWritePeriod: defaultShutdownWritePeriod,
		keepAlivePeriod:     3 * time.Minute,
	}
}

func (o *ioOptions) check() error {
	if o.maxMsgSize <= 0 {
		return fmt.Errorf("netip: options maxMsgSize [%d] <= 0", o.maxMsgSize)
	}
	if o.readBufSize == 0 {
		o.readBufSize = o.maxMsgSize + 16
	}
	if o.readBufSize < o.maxMsgSize {
		return fmt.Errorf("netip: options readBufSize [%d] < maxMsgSize [%d]",
			o.readBufSize, o.maxMsgSize)
	}
	if o.shutdownWritePeriod <= 0 {
		return fmt.Errorf("netip: options shutdownWritePeriod [%v] <= 0",
			o.shutdownWritePeriod)
	}
	return nil
}

type acceptorOptions struct {
	ioOptions

	reuseAddr bool
	maxConns  int
}

func defaultAcceptorOptions() acceptorOptions {
	return acceptorOptions{ioOptions: defaultIOOptions()}
}

func (o *acceptorOptions) check() error {
	if o.maxConns < 0 {
		return fmt.Errorf("netip: options maxConns [%d] < 0", o.maxConns)
	}
	return o.ioOptions.check()
}

// AcceptorOption configures a TCP acceptor entity.
type AcceptorOption func(o *acceptorOptions)

// WithReuseAddr sets SO_REUSEADDR on the listen socket.
func WithReuseAddr(reuse bool) AcceptorOption {
	return func(o *acceptorOptions) {
		o.reuseAddr = reuse
	}
}

// WithMaxConns bounds the number of simultaneously open connections;
// overflow connections are closed on accept. Zero means unlimited.
func WithMaxConns(n int) AcceptorOption {
	return func(o *acceptorOptions) {
		o.maxConns = n
	}
}

// AcceptorKeepAlive sets the TCP keep-alive period for accepted
// connections. Zero disables keep-alive probes.
func AcceptorKeepAlive(d time.Duration) AcceptorOption {
	return func(o *acceptorOptions) {
		o.keepAlivePeriod = d
	}
}

// AcceptorMaxMsgSize bounds the accumulated size of a single framed
// message on accepted connections.
func AcceptorMaxMsgSize(n int) AcceptorOption {
	return func(o *acceptorOptions) {
		o.maxMsgSize = n
	}
}

type connectorOptions struct {
	ioOptions

	reconnect   bool
	backoff     time.Duration
	dialTimeout time.Duration
}

func defaultConnectorOptions() connectorOptions {
	return connectorOptions{
		ioOptions:   defaultIOOptions(),
		dialTimeout: defaultDialTimeout,
	}
}

func (o *connectorOptions) check() error {
	if o.reconnect && o.backoff <= 0 {
		return fmt.Errorf("netip: options reconnect backoff [%v] <= 0", o.backoff)
	}
	if o.dialTimeout <= 0 {
		return fmt.Errorf("netip: options dialTimeout [%v] <= 0", o.dialTimeout)
	}
	return o.ioOptions.check()
}

// ConnectorOption configures a TCP connector entity.
type ConnectorOption func(o *connectorOptions)

// WithReconnect enables automatic reconnection with a fixed backoff
// between attempts. Reconnect is disabled by default.
func WithReconnect(backoff time.Duration) ConnectorOption {
	return func(o *connectorOptions) {
		o.reconnect = true
		o.backoff = backoff
	}
}

// WithDialTimeout bounds each connect attempt.
func WithDialTimeout(d time.Duration) ConnectorOption {
	return func(o *connectorOptions) {
		o.dialTimeout = d
	}
}

// ConnectorKeepAlive sets the TCP keep-alive period for the established
// connection. Zero disables keep-alive probes.
func ConnectorKeepAlive(d time.Duration) ConnectorOption {
	return func(o *connectorOptions) {
		o.keepAlivePeriod = d
	}
}

// ConnectorMaxMsgSize bounds the accumulated size of a single framed
// message.
func ConnectorMaxMsgSize(n int) ConnectorOption {
	return func(o *connectorOptions) {
		o.maxMsgSize = n
	}
}

type udpOptions struct {
	maxDatagramSize int
	mcastInterface  string
	mcastLoopback   bool
}

func defaultUDPOptions() udpOptions {
	return udpOptions{
		maxDatagramSize: defaultMaxDatagramSize,
		mcastLoopback:   true,
	}
}

func (o *udpOptions) check() error {
	if o.maxDatagramSize <= 0 {
		return fmt.Errorf("netip: options maxDatagramSize [%d] <= 0",
			o.maxDatagramSize)
	}
	return nil
}

// UDPOption configures a UDP entity.
type UDPOption func(o *udpOptions)

// WithMaxDatagramSize sets the largest datagram the entity will receive.
func WithMaxDatagramSize(n int) UDPOption {
	return func(o *udpOptions) {
		o.maxDatagramSize = n
	}
}

// WithMulticastInterface selects the interface for multicast joins by name.
// Empty means the system default.
func WithMulticastInterface(name string) UDPOption {
	return func(o *udpOptions) {
		o.mcastInterface = name
	}
}

// WithMulticastLoopback controls whether locally sent multicast datagrams
// are looped back to local receivers. Enabled by default.
func WithMulticastLoopback(loop bool) UDPOption {
	return func(o *udpOptions) {
		o.mcastLoopback = loop
	}
}

type startOptions struct {
	shutdownFn ShutdownFunc
}

// StartOption configures one Start of an entity.
type StartOption func(o *startOptions)

// WithShutdownNotify routes the exactly-once terminal notification to fn
// instead of the entity's error callback.
func WithShutdownNotify(fn ShutdownFunc) StartOption {
	return func(o *startOptions) {
		o.shutdownFn = fn
	}
}
