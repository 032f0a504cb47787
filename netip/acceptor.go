package netip

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/pkg/errors"

	"github.com/oxenran/chops-net-ip/netip/internal"
	"github.com/oxenran/chops-net-ip/safe"
)

// tcpAcceptor listens on a local endpoint and spawns one TCP I/O handler
// per accepted connection. Lifecycle: Unstarted -> Listening -> Stopping ->
// Stopped; a stopped acceptor can be started again.
type tcpAcceptor struct {
	es     internal.State[IOInterface]
	opts   acceptorOptions
	name   string
	addr   string
	logger *slog.Logger
	brPool *sync.Pool
	bwPool *sync.Pool

	// lifecycleMu serializes a full start against a full stop. The es CAS
	// still decides the winner; the mutex only makes the loser of a
	// start-during-teardown race wait for teardown to finish.
	lifecycleMu sync.Mutex

	lisAddr atomic.Value // net.Addr of the live listener

	mu         sync.Mutex
	stopping   bool
	lis        net.Listener
	handlers   map[*tcpHandler]struct{}
	lastCell   *ioCell
	doneChan   chan struct{}
	tasks      *taskgroup.Group
	handlersWG sync.WaitGroup
	stateChg   StateChangeFunc
	errFn      ErrorFunc
}

func newTCPAcceptor(addr string, opts acceptorOptions, logger *slog.Logger) *tcpAcceptor {
	a := &tcpAcceptor{
		opts:   opts,
		name:   fmt.Sprintf("acceptor_%s", addr),
		addr:   addr,
		logger: logger,
	}
	a.brPool = &sync.Pool{
		New: func() any { return bufio.NewReaderSize(nil, opts.readBufSize) },
	}
	a.bwPool = &sync.Pool{
		New: func() any { return bufio.NewWriterSize(nil, opts.writeBufSize) },
	}
	return a
}

func (a *tcpAcceptor) String() string {
	return fmt.Sprintf("[name:%s][listen_addr:%s]", a.name, a.addr)
}

func (a *tcpAcceptor) isStarted() bool { return a.es.IsStarted() }

func (a *tcpAcceptor) localAddr() net.Addr {
	if !a.es.IsStarted() {
		return nil
	}
	if addr, ok := a.lisAddr.Load().(net.Addr); ok {
		return addr
	}
	return nil
}

func (a *tcpAcceptor) start(stateChg StateChangeFunc, errFn ErrorFunc, shutFn ShutdownFunc) error {
	if !a.es.Start(internal.ShutdownFunc[IOInterface](shutFn)) {
		return ErrEntityAlreadyStarted
	}
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()

	lc := net.ListenConfig{}
	if a.opts.reuseAddr {
		lc.Control = reuseAddrControl
	}
	lis, err := lc.Listen(context.Background(), "tcp", a.addr)
	if err != nil {
		a.es.Stop()
		return errors.Wrapf(classifyNetError(err), "netip: acceptor %s listen: %v", a, err)
	}

	a.lisAddr.Store(lis.Addr())
	a.mu.Lock()
	a.stopping = false
	a.lis = lis
	a.handlers = make(map[*tcpHandler]struct{})
	a.lastCell = nil
	a.doneChan = make(chan struct{})
	a.tasks = taskgroup.New(nil)
	a.stateChg = stateChg
	a.errFn = errFn
	done := a.doneChan
	a.mu.Unlock()

	a.logger.Info("netip: acceptor listening", slog.String("acceptor", a.name),
		slog.String("addr", lis.Addr().String()))
	a.tasks.Go(func() error {
		a.acceptLoop(lis, done)
		return nil
	})
	return nil
}

// acceptLoop retries temporary accept errors with an exponential delay and
// treats any other error as fatal for the listen socket.
func (a *tcpAcceptor) acceptLoop(lis net.Listener, done chan struct{}) {
	var tempDelay time.Duration
	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				a.reportError(IOInterface{}, errors.Wrapf(err,
					"netip: acceptor %s accept retry", a))
				timer := time.NewTimer(tempDelay)
				select {
				case <-timer.C:
				case <-done:
					timer.Stop()
					return
				}
				continue
			}
			a.fatal(errors.Wrapf(classifyNetError(err),
				"netip: acceptor %s accept: %v", a, err))
			return
		}
		tempDelay = 0
		a.handleConn(conn.(*net.TCPConn))
	}
}

func (a *tcpAcceptor) handleConn(conn *net.TCPConn) {
	a.mu.Lock()
	if a.stopping {
		a.mu.Unlock()
		_ = conn.Close()
		return
	}
	if a.opts.maxConns > 0 && len(a.handlers) >= a.opts.maxConns {
		a.mu.Unlock()
		_ = conn.Close()
		a.reportError(IOInterface{}, errors.Errorf(
			"netip: acceptor %s over max conns %d", a, a.opts.maxConns))
		return
	}
	if err := setConnOptions(conn, a.opts.keepAlivePeriod); err != nil {
		a.mu.Unlock()
		_ = conn.Close()
		a.reportError(IOInterface{}, err)
		return
	}
	name := fmt.Sprintf("%s_%d", a.name, internal.NextID())
	h := newTCPHandler(name, conn, a, a.opts.ioOptions, a.brPool, a.bwPool, a.logger)
	a.handlers[h] = struct{}{}
	a.lastCell = h.cell
	a.handlersWG.Add(1)
	total := len(a.handlers)
	stateChg := a.stateChg
	a.mu.Unlock()

	if stateChg != nil {
		safe.Call(func() { stateChg(h.ioIf(), total, true) })
	}
	close(h.openedCh)
}

// tcpHandlerClosed runs on the handler's teardown goroutine: remove it from
// the owned set, report the terminal error, then deliver the close state
// change. Waiting on openedCh keeps the close strictly after the open.
func (a *tcpAcceptor) tcpHandlerClosed(h *tcpHandler, err error) {
	<-h.openedCh
	a.mu.Lock()
	delete(a.handlers, h)
	total := len(a.handlers)
	stateChg := a.stateChg
	a.mu.Unlock()

	if err != nil {
		a.reportError(h.ioIf(), err)
	}
	if stateChg != nil {
		safe.Call(func() { stateChg(h.ioIf(), total, false) })
	}
	a.handlersWG.Done()
}

func (a *tcpAcceptor) reportError(io IOInterface, err error) {
	a.mu.Lock()
	errFn := a.errFn
	a.mu.Unlock()
	if errFn != nil {
		safe.Call(func() { errFn(io, err) })
	}
}

// fatal handles a terminal accept error: the acceptor stops itself unless a
// concurrent Stop already won the transition.
func (a *tcpAcceptor) fatal(err error) {
	cb, ok := a.es.Stop()
	if !ok {
		return
	}
	a.reportError(IOInterface{}, err)
	safe.Go(func() {
		a.lifecycleMu.Lock()
		defer a.lifecycleMu.Unlock()
		a.teardown(cb, err)
	})
}

func (a *tcpAcceptor) stop() error {
	cb, ok := a.es.Stop()
	if !ok {
		return ErrEntityNotStarted
	}
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()
	a.teardown(cb, nil)
	return nil
}

// teardown stops accepting, broadcasts stop to every owned handler, waits
// for all close state changes, then delivers the exactly-once shutdown
// notification.
func (a *tcpAcceptor) teardown(cb internal.ShutdownFunc[IOInterface], err error) {
	a.mu.Lock()
	a.stopping = true
	lis := a.lis
	done := a.doneChan
	hs := make([]*tcpHandler, 0, len(a.handlers))
	for h := range a.handlers {
		hs = append(hs, h)
	}
	tasks := a.tasks
	a.lis = nil
	a.mu.Unlock()

	if done != nil {
		close(done)
	}
	if lis != nil {
		_ = lis.Close()
	}
	for _, h := range hs {
		h.close(ErrConnectionClosedLocally)
	}
	a.handlersWG.Wait()
	if tasks != nil {
		_ = tasks.Wait()
	}

	a.mu.Lock()
	lastCell := a.lastCell
	a.mu.Unlock()
	if cb != nil {
		safe.Call(func() { cb(IOInterface{cell: lastCell}, err, 0) })
	}
	a.logger.Info("netip: acceptor stopped", slog.String("acceptor", a.name))
}

func setConnOptions(conn *net.TCPConn, keepAlivePeriod time.Duration) error {
	if keepAlivePeriod == 0 {
		if err := conn.SetKeepAlive(false); err != nil {
			return errors.Wrapf(err, "netip: disable conn keep alive, conn %+v", conn)
		}
	}
	if keepAlivePeriod > 0 {
		if err := conn.SetKeepAlive(true); err != nil {
			return errors.Wrapf(err, "netip: set conn keep alive, conn %+v", conn)
		}
		if err := conn.SetKeepAlivePeriod(keepAlivePeriod); err != nil {
			return errors.Wrapf(err, "netip: set conn keep alive period, conn %+v", conn)
		}
	}
	return nil
}
