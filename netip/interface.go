package netip

import (
	"net"
	"sync"
)

// ioCore is the contract the TCP and UDP I/O handlers present to their
// handles.
type ioCore interface {
	startIO(readSize int, frame FrameFunc, handler MsgHandlerFunc) error
	stopIO() error
	send(buf []byte, dest net.Addr) error
	isIOStarted() bool
	outputQueueStats() QueueStats
	localAddr() net.Addr
	remoteAddr() net.Addr
	readBytes() uint64
	writtenBytes() uint64
}

// ioCell is the shared ref cell behind IOInterface and IOOutput handles,
// nil'd by the handler at terminal teardown.
type ioCell struct {
	mu sync.RWMutex
	h  ioCore
}

func newIOCell(h ioCore) *ioCell {
	return &ioCell{h: h}
}

func (c *ioCell) resolve() (ioCore, error) {
	if c == nil {
		return nil, ErrWeakReferenceExpired
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.h == nil {
		return nil, ErrWeakReferenceExpired
	}
	return c.h, nil
}

func (c *ioCell) release() {
	c.mu.Lock()
	c.h = nil
	c.mu.Unlock()
}

// IOInterface is the application's handle to one active connection or
// socket. Like Entity it is a weak value type: operations on an expired
// handle fail with ErrWeakReferenceExpired and have no side effects.
type IOInterface struct {
	cell *ioCell
}

// StartIO begins message delivery. For TCP, readSize is the initial read
// size (typically the header length) and frame decides message boundaries;
// a nil frame delivers fixed-size messages of readSize bytes. For UDP,
// frame must be nil, readSize overrides the maximum datagram size (0 keeps
// the entity's configured size), and each datagram is one message. StartIO
// returns ErrIOHandlerAlreadyStarted on a second call.
func (i IOInterface) StartIO(readSize int, frame FrameFunc, handler MsgHandlerFunc) error {
	h, err := i.cell.resolve()
	if err != nil {
		return err
	}
	return h.startIO(readSize, frame, handler)
}

// StopIO gracefully stops the handler: reads are cancelled, the in-flight
// write (if any) is allowed to finish, then the socket is closed and the
// close state-change is delivered.
func (i IOInterface) StopIO() error {
	h, err := i.cell.resolve()
	if err != nil {
		return err
	}
	return h.stopIO()
}

// Send queues buf for delivery. Writes are delivered to the socket in Send
// order. The buffer must not be modified until the handler closes.
func (i IOInterface) Send(buf []byte) error {
	h, err := i.cell.resolve()
	if err != nil {
		return err
	}
	return h.send(buf, nil)
}

// SendTo queues buf for delivery to an explicit destination endpoint (UDP
// only).
func (i IOInterface) SendTo(buf []byte, dest net.Addr) error {
	h, err := i.cell.resolve()
	if err != nil {
		return err
	}
	return h.send(buf, dest)
}

func (i IOInterface) IsIOStarted() (bool, error) {
	h, err := i.cell.resolve()
	if err != nil {
		return false, err
	}
	return h.isIOStarted(), nil
}

// OutputQueueStats reports the element and byte counts currently queued
// behind the outstanding write, for backpressure visibility.
func (i IOInterface) OutputQueueStats() (QueueStats, error) {
	h, err := i.cell.resolve()
	if err != nil {
		return QueueStats{}, err
	}
	return h.outputQueueStats(), nil
}

func (i IOInterface) LocalAddr() (net.Addr, error) {
	h, err := i.cell.resolve()
	if err != nil {
		return nil, err
	}
	return h.localAddr(), nil
}

func (i IOInterface) RemoteAddr() (net.Addr, error) {
	h, err := i.cell.resolve()
	if err != nil {
		return nil, err
	}
	return h.remoteAddr(), nil
}

func (i IOInterface) ReadBytes() (uint64, error) {
	h, err := i.cell.resolve()
	if err != nil {
		return 0, err
	}
	return h.readBytes(), nil
}

func (i IOInterface) WrittenBytes() (uint64, error) {
	h, err := i.cell.resolve()
	if err != nil {
		return 0, err
	}
	return h.writtenBytes(), nil
}

// output returns the restricted reply handle sharing this interface's ref
// cell.
func (i IOInterface) output() IOOutput {
	return IOOutput{cell: i.cell}
}

// IOOutput is the restricted view handed to message handlers so they can
// reply without holding the full interface.
type IOOutput struct {
	cell *ioCell
}

// Send queues buf for delivery.
func (o IOOutput) Send(buf []byte) error {
	h, err := o.cell.resolve()
	if err != nil {
		return err
	}
	return h.send(buf, nil)
}

// SendTo queues buf for delivery to an explicit destination endpoint (UDP
// only).
func (o IOOutput) SendTo(buf []byte, dest net.Addr) error {
	h, err := o.cell.resolve()
	if err != nil {
		return err
	}
	return h.send(buf, dest)
}
