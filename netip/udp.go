package netip

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"

	"github.com/oxenran/chops-net-ip/netip/internal"
	"github.com/oxenran/chops-net-ip/safe"
)

// udpEntity owns one UDP socket with a single I/O handler; there is no
// multi-handler fan-out. It covers sender-only (unbound), receiver-only,
// and combined unicast or multicast configurations.
type udpEntity struct {
	es     internal.State[IOInterface]
	opts   udpOptions
	name   string
	local  string
	remote string
	group  string
	logger *slog.Logger

	lifecycleMu sync.Mutex

	mu         sync.Mutex
	stopping   bool
	h          *udpHandler
	lastCell   *ioCell
	handlersWG sync.WaitGroup
	stateChg   StateChangeFunc
	errFn      ErrorFunc
}

func newUDPEntity(local, remote, group string, opts udpOptions, logger *slog.Logger) *udpEntity {
	name := local
	if name == "" {
		name = "unbound"
	}
	return &udpEntity{
		opts:   opts,
		name:   fmt.Sprintf("udp_%s", name),
		local:  local,
		remote: remote,
		group:  group,
		logger: logger,
	}
}

func (u *udpEntity) String() string {
	return fmt.Sprintf("[name:%s][local_addr:%s]", u.name, u.local)
}

func (u *udpEntity) isStarted() bool { return u.es.IsStarted() }

func (u *udpEntity) localAddr() net.Addr {
	u.mu.Lock()
	h := u.h
	u.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.localAddr()
}

func (u *udpEntity) start(stateChg StateChangeFunc, errFn ErrorFunc, shutFn ShutdownFunc) error {
	if !u.es.Start(internal.ShutdownFunc[IOInterface](shutFn)) {
		return ErrEntityAlreadyStarted
	}
	u.lifecycleMu.Lock()
	defer u.lifecycleMu.Unlock()

	conn, defaultRemote, err := u.openSocket()
	if err != nil {
		u.es.Stop()
		return err
	}

	u.mu.Lock()
	u.stopping = false
	name := fmt.Sprintf("%s_%d", u.name, internal.NextID())
	h := newUDPHandler(name, conn, u, defaultRemote, u.opts.maxDatagramSize, u.logger)
	u.h = h
	u.lastCell = h.cell
	u.handlersWG.Add(1)
	u.stateChg = stateChg
	u.errFn = errFn
	u.mu.Unlock()

	u.logger.Info("netip: udp entity started", slog.String("entity", u.name),
		slog.String("addr", conn.LocalAddr().String()))
	if stateChg != nil {
		safe.Call(func() { stateChg(h.ioIf(), 1, true) })
	}
	close(h.openedCh)
	return nil
}

// openSocket binds (or leaves unbound) the UDP socket, resolves the default
// remote, and joins the multicast group when one is configured.
func (u *udpEntity) openSocket() (*net.UDPConn, *net.UDPAddr, error) {
	var defaultRemote *net.UDPAddr
	if u.remote != "" {
		addr, err := net.ResolveUDPAddr("udp", u.remote)
		if err != nil {
			return nil, nil, errors.Wrapf(ErrResolverError,
				"netip: udp entity %s resolve %s: %v", u, u.remote, err)
		}
		defaultRemote = addr
	}

	local := u.local
	if local == "" {
		local = ":0"
	}
	lc := net.ListenConfig{}
	if u.group != "" {
		// Multicast receivers share the port.
		lc.Control = reuseAddrControl
	}
	pc, err := lc.ListenPacket(context.Background(), "udp", local)
	if err != nil {
		return nil, nil, errors.Wrapf(classifyNetError(err),
			"netip: udp entity %s bind %s: %v", u, local, err)
	}
	conn := pc.(*net.UDPConn)

	if u.group != "" {
		if err := u.joinGroup(conn); err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
	}
	return conn, defaultRemote, nil
}

func (u *udpEntity) joinGroup(conn *net.UDPConn) error {
	gaddr, err := net.ResolveUDPAddr("udp", u.group)
	if err != nil {
		return errors.Wrapf(ErrResolverError,
			"netip: udp entity %s resolve group %s: %v", u, u.group, err)
	}
	var ifi *net.Interface
	if u.opts.mcastInterface != "" {
		ifi, err = net.InterfaceByName(u.opts.mcastInterface)
		if err != nil {
			return errors.Wrapf(err, "netip: udp entity %s multicast interface %s",
				u, u.opts.mcastInterface)
		}
	}
	p := ipv4.NewPacketConn(conn)
	if err := p.JoinGroup(ifi, &net.UDPAddr{IP: gaddr.IP}); err != nil {
		return errors.Wrapf(classifyNetError(err),
			"netip: udp entity %s join group %s: %v", u, u.group, err)
	}
	if err := p.SetMulticastLoopback(u.opts.mcastLoopback); err != nil {
		u.logger.Warn("netip: udp entity set multicast loopback",
			slog.String("entity", u.name), slog.Any("error", err))
	}
	if ifi != nil {
		if err := p.SetMulticastInterface(ifi); err != nil {
			u.logger.Warn("netip: udp entity set multicast interface",
				slog.String("entity", u.name), slog.Any("error", err))
		}
	}
	return nil
}

// udpHandlerClosed runs on the handler's teardown goroutine. A handler that
// terminated on its own (message handler returned false, socket error)
// takes the whole entity down, since there is nothing left to own.
func (u *udpEntity) udpHandlerClosed(h *udpHandler, err error) {
	<-h.openedCh
	u.mu.Lock()
	u.h = nil
	stateChg := u.stateChg
	u.mu.Unlock()

	if err != nil {
		u.udpHandlerError(h, err)
	}
	if stateChg != nil {
		safe.Call(func() { stateChg(h.ioIf(), 0, false) })
	}
	// Expire the handler's handles before a waiting Stop can return.
	h.cell.release()
	u.handlersWG.Done()

	if cb, ok := u.es.Stop(); ok {
		safe.Go(func() {
			u.lifecycleMu.Lock()
			defer u.lifecycleMu.Unlock()
			u.teardown(cb, err)
		})
	}
}

func (u *udpEntity) udpHandlerError(h *udpHandler, err error) {
	u.mu.Lock()
	errFn := u.errFn
	u.mu.Unlock()
	if errFn != nil {
		safe.Call(func() { errFn(h.ioIf(), err) })
	}
}

func (u *udpEntity) stop() error {
	cb, ok := u.es.Stop()
	if !ok {
		return ErrEntityNotStarted
	}
	u.lifecycleMu.Lock()
	defer u.lifecycleMu.Unlock()
	u.teardown(cb, nil)
	return nil
}

func (u *udpEntity) teardown(cb internal.ShutdownFunc[IOInterface], err error) {
	u.mu.Lock()
	u.stopping = true
	h := u.h
	u.mu.Unlock()

	if h != nil {
		h.close(ErrConnectionClosedLocally)
	}
	u.handlersWG.Wait()

	u.mu.Lock()
	lastCell := u.lastCell
	u.mu.Unlock()
	if cb != nil {
		safe.Call(func() { cb(IOInterface{cell: lastCell}, err, 0) })
	}
	u.logger.Info("netip: udp entity stopped", slog.String("entity", u.name))
}
