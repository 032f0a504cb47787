package internal

import (
	"net"
	"sync"
	"sync/atomic"
)

// IOBase is the state shared by the TCP and UDP I/O handlers: the io-started
// flag, the write-in-progress flag, and the output queue. The write flag and
// the queue are guarded by one mutex, which is what guarantees the single
// outstanding write per handler: at any moment exactly one of the enqueue
// path and the write-completion path can observe an empty queue with no
// write in progress.
type IOBase struct {
	ioStarted       atomic.Bool
	mu              sync.Mutex
	writeInProgress bool
	outQueue        OutQueue
}

// SetIOStarted transitions the handler to started. It returns false if the
// handler was already started.
func (b *IOBase) SetIOStarted() bool {
	return b.ioStarted.CompareAndSwap(false, true)
}

// SetIOStopped transitions the handler to stopped. It returns false if the
// handler was not started.
func (b *IOBase) SetIOStopped() bool {
	return b.ioStarted.CompareAndSwap(true, false)
}

func (b *IOBase) IsIOStarted() bool {
	return b.ioStarted.Load()
}

func (b *IOBase) IsWriteInProgress() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writeInProgress
}

// StartWriteSetup registers intent to write buf. If no write is outstanding
// it marks one in progress and returns true: the caller now owns starting
// the write, and the buffer is not queued. Otherwise the element is queued
// behind the outstanding write and false is returned. False is also
// returned, with nothing queued, when the handler is not started.
func (b *IOBase) StartWriteSetup(buf []byte, dest net.Addr) bool {
	if !b.IsIOStarted() {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.writeInProgress {
		b.writeInProgress = true
		return true
	}
	b.outQueue.Push(OutElement{Buf: buf, Dest: dest})
	return false
}

// GetNextElement is called when a write completes. If more elements are
// queued it dequeues the head, leaving the write-in-progress flag set, and
// the caller must start the next write. Otherwise it clears the flag and
// returns false.
func (b *IOBase) GetNextElement() (OutElement, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.outQueue.Pop()
	if !ok {
		b.writeInProgress = false
		return OutElement{}, false
	}
	return e, true
}

func (b *IOBase) OutputQueueStats() QueueStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.outQueue.Stats()
}
