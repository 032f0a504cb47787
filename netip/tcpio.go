package netip

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	gbufio "github.com/oxenran/chops-net-ip/bufio"
	"github.com/oxenran/chops-net-ip/netip/internal"
	"github.com/oxenran/chops-net-ip/pool/bytespool"
	"github.com/oxenran/chops-net-ip/safe"
)

// tcpHandlerOwner is the weak back-reference a TCP I/O handler keeps to its
// entity, used solely to report teardown.
type tcpHandlerOwner interface {
	tcpHandlerClosed(h *tcpHandler, err error)
}

// tcpHandler runs the read and write loops for one TCP connection. Reads
// are exact-size, driven by the application framer; writes drain the
// output queue under the single-writer invariant of internal.IOBase.
type tcpHandler struct {
	iob      internal.IOBase
	name     string
	conn     *net.TCPConn
	owner    tcpHandlerOwner
	cell     *ioCell
	opts     ioOptions
	brPool   *sync.Pool
	bwPool   *sync.Pool
	br       *bufio.Reader
	bw       *bufio.Writer
	logger   *slog.Logger
	writeCh  chan internal.OutElement
	doneChan chan struct{}
	// openedCh is closed by the owning entity once the open state-change
	// has been delivered; teardown waits on it so the close state-change
	// strictly follows.
	openedCh chan struct{}

	mu       sync.Mutex
	closing  bool
	closeErr error
	frame    FrameFunc
	msgHdlr  MsgHandlerFunc
	readSize int

	closeOnce sync.Once
	wg        sync.WaitGroup
	nRead     atomic.Uint64
	nWritten  atomic.Uint64
}

func newTCPHandler(name string, conn *net.TCPConn, owner tcpHandlerOwner,
	opts ioOptions, brPool, bwPool *sync.Pool, logger *slog.Logger) *tcpHandler {

	br := brPool.Get().(*bufio.Reader)
	bw := bwPool.Get().(*bufio.Writer)
	br.Reset(conn)
	bw.Reset(conn)
	h := &tcpHandler{
		name:     name,
		conn:     conn,
		owner:    owner,
		opts:     opts,
		brPool:   brPool,
		bwPool:   bwPool,
		br:       br,
		bw:       bw,
		logger:   logger,
		writeCh:  make(chan internal.OutElement, 1),
		doneChan: make(chan struct{}),
		openedCh: make(chan struct{}),
	}
	h.cell = newIOCell(h)
	return h
}

func (h *tcpHandler) String() string {
	return fmt.Sprintf("[name:%s][local_addr:%s][remote_addr:%s]",
		h.name, h.conn.LocalAddr(), h.conn.RemoteAddr())
}

func (h *tcpHandler) ioIf() IOInterface { return IOInterface{cell: h.cell} }

func (h *tcpHandler) startIO(readSize int, frame FrameFunc, handler MsgHandlerFunc) error {
	if handler == nil {
		return errors.Errorf("netip: tcp handler %s start io with nil message handler", h)
	}
	if readSize <= 0 || readSize > h.opts.maxMsgSize {
		return errors.Errorf("netip: tcp handler %s start io read size %d out of range (max %d)",
			h, readSize, h.opts.maxMsgSize)
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
	h.frame = frame
	h.msgHdlr = handler
	h.readSize = readSize
	h.wg.Add(2)
	h.mu.Unlock()
	safe.Go(h.readLoop)
	safe.Go(h.writeLoop)
	return nil
}

func (h *tcpHandler) stopIO() error {
	if !h.iob.IsIOStarted() {
		return ErrIOHandlerNotStarted
	}
	h.close(ErrConnectionClosedLocally)
	return nil
}

func (h *tcpHandler) send(buf []byte, dest net.Addr) error {
	if dest != nil {
		return errors.Errorf("netip: tcp handler %s send with explicit endpoint", h)
	}
	if !h.iob.IsIOStarted() {
		return ErrIOHandlerNotStarted
	}
	if len(buf) == 0 {
		return nil
	}
	if h.iob.StartWriteSetup(buf, nil) {
		select {
		case h.writeCh <- internal.OutElement{Buf: buf}:
		case <-h.doneChan:
		}
	}
	return nil
}

func (h *tcpHandler) isIOStarted() bool            { return h.iob.IsIOStarted() }
func (h *tcpHandler) outputQueueStats() QueueStats { return h.iob.OutputQueueStats() }
func (h *tcpHandler) localAddr() net.Addr          { return h.conn.LocalAddr() }
func (h *tcpHandler) remoteAddr() net.Addr         { return h.conn.RemoteAddr() }
func (h *tcpHandler) readBytes() uint64            { return h.nRead.Load() }
func (h *tcpHandler) writtenBytes() uint64         { return h.nWritten.Load() }

func (h *tcpHandler) isDone() bool {
	select {
	case <-h.doneChan:
		return true
	default:
		return false
	}
}

// readLoop accumulates exact reads and consults the framer after each one.
// A zero framer return delivers the accumulated bytes as one message.
func (h *tcpHandler) readLoop() {
	defer h.wg.Done()
	accum := bytespool.Get(h.opts.maxMsgSize)
	defer bytespool.Put(accum)
	used, need := 0, h.readSize
	out := h.ioIf().output()
	for {
		if need <= 0 || used+need > h.opts.maxMsgSize {
			h.close(ErrTCPFramerError)
			return
		}
		if err := gbufio.PopReaderInto(h.br, accum[used:used+need]); err != nil {
			if !h.isDone() {
				h.close(classifyNetError(err))
			}
			return
		}
		used += need
		h.nRead.Add(uint64(need))
		n := 0
		if h.frame != nil {
			n = h.frame(accum[:used])
		}
		if n < 0 {
			h.close(ErrTCPFramerError)
			return
		}
		if n > 0 {
			need = n
			continue
		}
		msg := make([]byte, used)
		copy(msg, accum[:used])
		if !h.msgHdlr(msg, out, h.conn.RemoteAddr()) {
			h.close(ErrMessageHandlerTerminated)
			return
		}
		used, need = 0, h.readSize
	}
}

// writeLoop owns the socket write side. Each element handed over through
// writeCh is the head of a drain: the loop keeps pulling queued elements
// until GetNextElement clears the write-in-progress flag, then flushes and
// idles. After close, elements already handed over or queued are still
// written before the loop exits.
func (h *tcpHandler) writeLoop() {
	defer h.wg.Done()
	for {
		var elem internal.OutElement
		select {
		case <-h.doneChan:
			select {
			case elem = <-h.writeCh:
			default:
				h.flush()
				return
			}
		case elem = <-h.writeCh:
		}
		for {
			if err := h.writeElem(elem); err != nil {
				if !h.isDone() {
					h.logger.Warn("tcp handler write",
						slog.String("handler", h.name), slog.Any("error", err))
					h.close(classifyNetError(err))
				}
				return
			}
			next, ok := h.iob.GetNextElement()
			if !ok {
				if err := h.flush(); err != nil {
					if !h.isDone() {
						h.close(classifyNetError(err))
					}
					return
				}
				break
			}
			elem = next
		}
	}
}

func (h *tcpHandler) writeElem(e internal.OutElement) error {
	n, err := h.bw.Write(e.Buf)
	h.nWritten.Add(uint64(n))
	return errors.WithStack(err)
}

func (h *tcpHandler) flush() error {
	return errors.WithStack(h.bw.Flush())
}

// close initiates graceful teardown exactly once: reads are cancelled, the
// in-flight write and the writes queued behind it are bounded by the
// shutdown write deadline, then the socket is closed and the owning entity
// is notified.
func (h *tcpHandler) close(err error) {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closing = true
		h.closeErr = err
		h.mu.Unlock()
		h.iob.SetIOStopped()
		close(h.doneChan)
		_ = h.conn.SetWriteDeadline(time.Now().Add(h.opts.shutdownWritePeriod))
		_ = h.conn.CloseRead()
		safe.Go(h.teardown)
	})
}

func (h *tcpHandler) teardown() {
	h.wg.Wait()
	if err := h.conn.Close(); err != nil {
		h.logger.Debug("tcp handler close",
			slog.String("handler", h.name), slog.Any("error", err))
	}
	h.clear()
	h.owner.tcpHandlerClosed(h, h.closeErr)
	h.cell.release()
}

func (h *tcpHandler) clear() {
	h.br.Reset(nil)
	h.bw.Reset(nil)
	h.brPool.Put(h.br)
	h.bwPool.Put(h.bw)
	h.br = nil
	h.bw = nil
}
