package netip

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/oxenran/chops-net-ip/netip/internal"
	"github.com/oxenran/chops-net-ip/pool/bytespool"
	"github.com/oxenran/chops-net-ip/safe"
)

type udpHandlerOwner interface {
	udpHandlerClosed(h *udpHandler, err error)
	udpHandlerError(h *udpHandler, err error)
}

// udpHandler runs the datagram read and write loops for one UDP socket.
// There is no framing: each received datagram is one message, and each
// queued element may carry its own destination endpoint.
type udpHandler struct {
	iob           internal.IOBase
	name          string
	conn          *net.UDPConn
	owner         udpHandlerOwner
	cell          *ioCell
	defaultRemote *net.UDPAddr
	maxSize       int
	shutdownWrite time.Duration
	logger        *slog.Logger
	writeCh       chan internal.OutElement
	doneChan      chan struct{}
	openedCh      chan struct{}

	mu       sync.Mutex
	closing  bool
	closeErr error
	msgHdlr  MsgHandlerFunc
	recvSize int

	closeOnce sync.Once
	wg        sync.WaitGroup
	nRead     atomic.Uint64
	nWritten  atomic.Uint64
}

func newUDPHandler(name string, conn *net.UDPConn, owner udpHandlerOwner,
	defaultRemote *net.UDPAddr, maxSize int, logger *slog.Logger) *udpHandler {

	h := &udpHandler{
		name:          name,
		conn:          conn,
		owner:         owner,
		defaultRemote: defaultRemote,
		maxSize:       maxSize,
		shutdownWrite: defaultShutdownWritePeriod,
		logger:        logger,
		writeCh:       make(chan internal.OutElement, 1),
		doneChan:      make(chan struct{}),
		openedCh:      make(chan struct{}),
	}
	h.cell = newIOCell(h)
	return h
}

func (h *udpHandler) String() string {
	return fmt.Sprintf("[name:%s][local_addr:%s]", h.name, h.conn.LocalAddr())
}

func (h *udpHandler) ioIf() IOInterface { return IOInterface{cell: h.cell} }

// startIO arms the handler. A nil message handler configures a send-only
// socket: no read loop is started and every queued element needs a
// destination (explicit or the default remote). readSize overrides the
// entity's maximum datagram size; zero keeps it. frame must be nil.
func (h *udpHandler) startIO(readSize int, frame FrameFunc, handler MsgHandlerFunc) error {
	if frame != nil {
		return errors.Errorf("netip: udp handler %s start io with framer", h)
	}
	if readSize < 0 {
		return errors.Errorf("netip: udp handler %s start io read size %d < 0", h, readSize)
	}
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		return ErrConnectionClosedLocally
	}
	if !h.iob.SetIOStarted() {
		h.mu.Unlock()
		return ErrIOHandlerAlreadyStarted
	}
	h.msgHdlr = handler
	h.recvSize = h.maxSize
	if readSize > 0 {
		h.recvSize = readSize
	}
	h.wg.Add(1)
	if handler != nil {
		h.wg.Add(1)
	}
	h.mu.Unlock()
	safe.Go(h.writeLoop)
	if handler != nil {
		safe.Go(h.readLoop)
	}
	return nil
}

func (h *udpHandler) stopIO() error {
	if !h.iob.IsIOStarted() {
		return ErrIOHandlerNotStarted
	}
	h.close(ErrConnectionClosedLocally)
	return nil
}

func (h *udpHandler) send(buf []byte, dest net.Addr) error {
	if !h.iob.IsIOStarted() {
		return ErrIOHandlerNotStarted
	}
	if len(buf) == 0 {
		return nil
	}
	if dest == nil && h.defaultRemote == nil {
		return errors.Wrapf(ErrUnexpectedNetworkError,
			"netip: udp handler %s send with no destination", h)
	}
	if h.iob.StartWriteSetup(buf, dest) {
		select {
		case h.writeCh <- internal.OutElement{Buf: buf, Dest: dest}:
		case <-h.doneChan:
		}
	}
	return nil
}

func (h *udpHandler) isIOStarted() bool            { return h.iob.IsIOStarted() }
func (h *udpHandler) outputQueueStats() QueueStats { return h.iob.OutputQueueStats() }
func (h *udpHandler) localAddr() net.Addr          { return h.conn.LocalAddr() }
func (h *udpHandler) remoteAddr() net.Addr {
	if h.defaultRemote != nil {
		return h.defaultRemote
	}
	return h.conn.RemoteAddr()
}
func (h *udpHandler) readBytes() uint64    { return h.nRead.Load() }
func (h *udpHandler) writtenBytes() uint64 { return h.nWritten.Load() }

func (h *udpHandler) isDone() bool {
	select {
	case <-h.doneChan:
		return true
	default:
		return false
	}
}

// readLoop posts one receive of the configured maximum size per message.
// A datagram that had to be truncated is dropped and reported as
// recoverable rather than delivered corrupt.
func (h *udpHandler) readLoop() {
	defer h.wg.Done()
	buf := bytespool.Get(h.recvSize + 1)
	defer bytespool.Put(buf)
	out := h.ioIf().output()
	for {
		n, from, err := h.conn.ReadFromUDP(buf)
		if err != nil {
			if !h.isDone() {
				h.close(classifyNetError(err))
			}
			return
		}
		if n > h.recvSize {
			h.logger.Warn("udp handler datagram exceeds max size",
				slog.String("handler", h.name), slog.Int("max", h.recvSize))
			h.owner.udpHandlerError(h, errors.Wrapf(ErrUDPMaxBufSizeExceeded,
				"netip: udp handler %s datagram from %s", h, from))
			continue
		}
		h.nRead.Add(uint64(n))
		msg := make([]byte, n)
		copy(msg, buf[:n])
		if !h.msgHdlr(msg, out, from) {
			h.close(ErrMessageHandlerTerminated)
			return
		}
	}
}

func (h *udpHandler) writeLoop() {
	defer h.wg.Done()
	for {
		select {
		case <-h.doneChan:
			return
		case elem := <-h.writeCh:
			for {
				if err := h.writeElem(elem); err != nil {
					if !h.isDone() {
						h.logger.Warn("udp handler write",
							slog.String("handler", h.name), slog.Any("error", err))
						h.close(classifyNetError(err))
					}
					return
				}
				if h.isDone() {
					return
				}
				next, ok := h.iob.GetNextElement()
				if !ok {
					break
				}
				elem = next
			}
		}
	}
}

func (h *udpHandler) writeElem(e internal.OutElement) error {
	dest := e.Dest
	if dest == nil && h.defaultRemote != nil {
		dest = h.defaultRemote
	}
	var (
		n   int
		err error
	)
	if dest != nil {
		n, err = h.conn.WriteTo(e.Buf, dest)
	} else {
		n, err = h.conn.Write(e.Buf)
	}
	h.nWritten.Add(uint64(n))
	return errors.WithStack(err)
}

func (h *udpHandler) close(err error) {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closing = true
		h.closeErr = err
		h.mu.Unlock()
		h.iob.SetIOStopped()
		close(h.doneChan)
		_ = h.conn.SetWriteDeadline(time.Now().Add(h.shutdownWrite))
		_ = h.conn.SetReadDeadline(time.Now())
		safe.Go(h.teardown)
	})
}

func (h *udpHandler) teardown() {
	h.wg.Wait()
	if err := h.conn.Close(); err != nil {
		h.logger.Debug("udp handler close",
			slog.String("handler", h.name), slog.Any("error", err))
	}
	h.owner.udpHandlerClosed(h, h.closeErr)
	h.cell.release()
}
