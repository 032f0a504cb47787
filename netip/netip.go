// Package netip is a general-purpose asynchronous IP networking library
// that unifies TCP acceptor, TCP connector, and UDP (unicast and multicast)
// endpoints behind one application-facing abstraction. It defines no wire
// protocol: message framing, dispatch, and lifecycle are configured by the
// application through callbacks.
//
// A NetIP owns the network entities it creates; applications hold weak
// value handles (Entity, IOInterface, IOOutput) that never extend
// lifetimes. Callbacks run on library goroutines; for a given handler no
// callback is invoked concurrently with itself.
package netip

import (
	"log/slog"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

// Option configures a NetIP.
type Option func(o *netOptions)

type netOptions struct {
	clk clock.Clock
}

// WithClock substitutes the clock used for reconnect backoff waits. Tests
// pass a mock.
func WithClock(clk clock.Clock) Option {
	return func(o *netOptions) {
		o.clk = clk
	}
}

// NetIP creates and owns network entities. The zero value is not usable;
// call New.
type NetIP struct {
	logger *slog.Logger
	clk    clock.Clock

	mu       sync.Mutex
	entities map[*entityCell]entityCore
	shutdown bool
}

// New returns an empty facade. A nil logger uses slog.Default.
func New(logger *slog.Logger, opt ...Option) *NetIP {
	if logger == nil {
		logger = slog.Default()
	}
	opts := netOptions{clk: clock.New()}
	for _, o := range opt {
		o(&opts)
	}
	return &NetIP{
		logger:   logger,
		clk:      opts.clk,
		entities: make(map[*entityCell]entityCore),
	}
}

// MakeTCPAcceptor creates a TCP acceptor entity listening on addr once
// started.
func (n *NetIP) MakeTCPAcceptor(addr string, opt ...AcceptorOption) (Entity, error) {
	if addr == "" {
		return Entity{}, errors.New("netip: acceptor addr is empty")
	}
	opts := defaultAcceptorOptions()
	for _, o := range opt {
		o(&opts)
	}
	if err := opts.check(); err != nil {
		return Entity{}, err
	}
	return n.register(newTCPAcceptor(addr, opts, n.logger))
}

// MakeTCPConnector creates a TCP connector entity. addrs are candidate
// remote endpoints tried in order on every connect attempt.
func (n *NetIP) MakeTCPConnector(addrs []string, opt ...ConnectorOption) (Entity, error) {
	if len(addrs) == 0 {
		return Entity{}, errors.New("netip: connector needs at least one remote endpoint")
	}
	opts := defaultConnectorOptions()
	for _, o := range opt {
		o(&opts)
	}
	if err := opts.check(); err != nil {
		return Entity{}, err
	}
	return n.register(newTCPConnector(addrs, opts, n.clk, n.logger))
}

// MakeUDPSender creates an unbound UDP entity. defaultRemote may be empty,
// in which case every send must carry an explicit destination.
func (n *NetIP) MakeUDPSender(defaultRemote string, opt ...UDPOption) (Entity, error) {
	return n.makeUDP("", defaultRemote, "", opt)
}

// MakeUDPUnicast creates a UDP entity bound to local, able to both receive
// and send.
func (n *NetIP) MakeUDPUnicast(local string, opt ...UDPOption) (Entity, error) {
	if local == "" {
		return Entity{}, errors.New("netip: udp unicast local addr is empty")
	}
	return n.makeUDP(local, "", "", opt)
}

// MakeUDPMulticast creates a UDP entity bound to local and joined to the
// IPv4 multicast group (host:port) on start.
func (n *NetIP) MakeUDPMulticast(group, local string, opt ...UDPOption) (Entity, error) {
	if group == "" || local == "" {
		return Entity{}, errors.New("netip: udp multicast group and local addrs are required")
	}
	return n.makeUDP(local, "", group, opt)
}

func (n *NetIP) makeUDP(local, remote, group string, opt []UDPOption) (Entity, error) {
	opts := defaultUDPOptions()
	for _, o := range opt {
		o(&opts)
	}
	if err := opts.check(); err != nil {
		return Entity{}, err
	}
	return n.register(newUDPEntity(local, remote, group, opts, n.logger))
}

func (n *NetIP) register(ent entityCore) (Entity, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.shutdown {
		return Entity{}, errors.New("netip: facade already shut down")
	}
	cell := newEntityCell(ent)
	n.entities[cell] = ent
	return Entity{cell: cell}, nil
}

// Remove stops (if started) and releases one entity. Handles to it expire.
func (n *NetIP) Remove(e Entity) error {
	ent, err := e.cell.resolve()
	if err != nil {
		return err
	}
	n.mu.Lock()
	if _, ok := n.entities[e.cell]; !ok {
		n.mu.Unlock()
		return ErrWeakReferenceExpired
	}
	delete(n.entities, e.cell)
	n.mu.Unlock()

	if err := ent.stop(); err != nil && err != ErrEntityNotStarted {
		n.logger.Warn("netip: remove entity stop", slog.Any("error", err))
	}
	e.cell.release()
	return nil
}

// Shutdown stops and releases every entity. Idempotent; the facade cannot
// be reused afterwards.
func (n *NetIP) Shutdown() {
	n.mu.Lock()
	if n.shutdown {
		n.mu.Unlock()
		return
	}
	n.shutdown = true
	cells := make([]*entityCell, 0, len(n.entities))
	for cell := range n.entities {
		cells = append(cells, cell)
	}
	n.entities = nil
	n.mu.Unlock()

	for _, cell := range cells {
		ent, err := cell.resolve()
		if err != nil {
			continue
		}
		if err := ent.stop(); err != nil && err != ErrEntityNotStarted {
			n.logger.Warn("netip: shutdown entity stop", slog.Any("error", err))
		}
		cell.release()
	}
}
