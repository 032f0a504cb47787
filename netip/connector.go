package netip

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/creachadair/taskgroup"
	"github.com/pkg/errors"

	"github.com/oxenran/chops-net-ip/netip/internal"
	"github.com/oxenran/chops-net-ip/safe"
)

// tcpConnector maintains at most one connection to one of a list of
// candidate remote endpoints, tried in order on every attempt. Lifecycle:
// Unstarted -> Connecting -> Connected -> Stopping -> Stopped, with a
// Backoff wait between attempts when reconnect is enabled.
type tcpConnector struct {
	es     internal.State[IOInterface]
	opts   connectorOptions
	name   string
	addrs  []string
	clk    clock.Clock
	logger *slog.Logger
	brPool *sync.Pool
	bwPool *sync.Pool

	lifecycleMu sync.Mutex

	mu         sync.Mutex
	stopping   bool
	h          *tcpHandler
	lastCell   *ioCell
	lastErr    error
	closedCh   chan struct{}
	cancel     context.CancelFunc
	tasks      *taskgroup.Group
	handlersWG sync.WaitGroup
	stateChg   StateChangeFunc
	errFn      ErrorFunc
}

func newTCPConnector(addrs []string, opts connectorOptions, clk clock.Clock,
	logger *slog.Logger) *tcpConnector {

	c := &tcpConnector{
		opts:   opts,
		name:   fmt.Sprintf("connector_%s", strings.Join(addrs, ",")),
		addrs:  addrs,
		clk:    clk,
		logger: logger,
	}
	c.brPool = &sync.Pool{
		New: func() any { return bufio.NewReaderSize(nil, opts.readBufSize) },
	}
	c.bwPool = &sync.Pool{
		New: func() any { return bufio.NewWriterSize(nil, opts.writeBufSize) },
	}
	return c
}

func (c *tcpConnector) String() string {
	return fmt.Sprintf("[name:%s]", c.name)
}

func (c *tcpConnector) isStarted() bool { return c.es.IsStarted() }

func (c *tcpConnector) localAddr() net.Addr {
	c.mu.Lock()
	h := c.h
	c.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.localAddr()
}

func (c *tcpConnector) start(stateChg StateChangeFunc, errFn ErrorFunc, shutFn ShutdownFunc) error {
	if !c.es.Start(internal.ShutdownFunc[IOInterface](shutFn)) {
		return ErrEntityAlreadyStarted
	}
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.stopping = false
	c.h = nil
	c.lastCell = nil
	c.lastErr = nil
	c.cancel = cancel
	c.tasks = taskgroup.New(nil)
	c.stateChg = stateChg
	c.errFn = errFn
	tasks := c.tasks
	c.mu.Unlock()

	c.logger.Info("netip: connector starting", slog.String("connector", c.name))
	tasks.Go(func() error {
		c.run(ctx)
		return nil
	})
	return nil
}

func (c *tcpConnector) run(ctx context.Context) {
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.reportError(IOInterface{}, err)
			if !c.opts.reconnect {
				c.fatal(err)
				return
			}
			if !c.backoffWait(ctx) {
				return
			}
			continue
		}

		closedCh, ok := c.admit(conn)
		if !ok {
			_ = conn.Close()
			return
		}
		<-closedCh

		if ctx.Err() != nil {
			return
		}
		if !c.opts.reconnect {
			c.mu.Lock()
			err := c.lastErr
			c.mu.Unlock()
			c.fatal(err)
			return
		}
		if !c.backoffWait(ctx) {
			return
		}
	}
}

// admit installs a handler for an established connection and delivers the
// open state change. It fails only when a concurrent stop won.
func (c *tcpConnector) admit(conn *net.TCPConn) (chan struct{}, bool) {
	c.mu.Lock()
	if c.stopping {
		c.mu.Unlock()
		return nil, false
	}
	name := fmt.Sprintf("%s_%d", c.name, internal.NextID())
	h := newTCPHandler(name, conn, c, c.opts.ioOptions, c.brPool, c.bwPool, c.logger)
	c.h = h
	c.lastCell = h.cell
	closedCh := make(chan struct{})
	c.closedCh = closedCh
	c.handlersWG.Add(1)
	stateChg := c.stateChg
	c.mu.Unlock()

	if stateChg != nil {
		safe.Call(func() { stateChg(h.ioIf(), 1, true) })
	}
	close(h.openedCh)
	return closedCh, true
}

func (c *tcpConnector) dial(ctx context.Context) (*net.TCPConn, error) {
	var firstErr error
	for _, addr := range c.addrs {
		dctx, cancel := context.WithTimeout(ctx, c.opts.dialTimeout)
		var d net.Dialer
		conn, err := d.DialContext(dctx, "tcp", addr)
		cancel()
		if err == nil {
			tc := conn.(*net.TCPConn)
			if err := setConnOptions(tc, c.opts.keepAlivePeriod); err != nil {
				_ = tc.Close()
				return nil, err
			}
			return tc, nil
		}
		if firstErr == nil {
			firstErr = errors.Wrapf(classifyNetError(err),
				"netip: connector %s dial %s: %v", c, addr, err)
		}
	}
	return nil, firstErr
}

// backoffWait sleeps the configured backoff on the library clock. It
// returns false if the connector was stopped while waiting.
func (c *tcpConnector) backoffWait(ctx context.Context) bool {
	t := c.clk.Timer(c.opts.backoff)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *tcpConnector) tcpHandlerClosed(h *tcpHandler, err error) {
	<-h.openedCh
	c.mu.Lock()
	c.h = nil
	c.lastErr = err
	stateChg := c.stateChg
	closedCh := c.closedCh
	c.mu.Unlock()

	if err != nil {
		c.reportError(h.ioIf(), err)
	}
	if stateChg != nil {
		safe.Call(func() { stateChg(h.ioIf(), 0, false) })
	}
	c.handlersWG.Done()
	close(closedCh)
}

func (c *tcpConnector) reportError(io IOInterface, err error) {
	c.mu.Lock()
	errFn := c.errFn
	c.mu.Unlock()
	if errFn != nil {
		safe.Call(func() { errFn(io, err) })
	}
}

// fatal handles a terminal condition discovered by the run loop: connection
// lost with reconnect disabled, or an unrecoverable dial failure.
func (c *tcpConnector) fatal(err error) {
	cb, ok := c.es.Stop()
	if !ok {
		return
	}
	safe.Go(func() {
		c.lifecycleMu.Lock()
		defer c.lifecycleMu.Unlock()
		c.teardown(cb, err)
	})
}

func (c *tcpConnector) stop() error {
	cb, ok := c.es.Stop()
	if !ok {
		return ErrEntityNotStarted
	}
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	c.teardown(cb, nil)
	return nil
}

func (c *tcpConnector) teardown(cb internal.ShutdownFunc[IOInterface], err error) {
	c.mu.Lock()
	c.stopping = true
	h := c.h
	cancel := c.cancel
	tasks := c.tasks
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if h != nil {
		h.close(ErrConnectionClosedLocally)
	}
	c.handlersWG.Wait()
	if tasks != nil {
		_ = tasks.Wait()
	}

	c.mu.Lock()
	lastCell := c.lastCell
	c.mu.Unlock()
	if cb != nil {
		safe.Call(func() { cb(IOInterface{cell: lastCell}, err, 0) })
	}
	c.logger.Info("netip: connector stopped", slog.String("connector", c.name))
}
