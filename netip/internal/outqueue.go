// Package internal holds the shared state machines factored out of the TCP
// acceptor, TCP connector, and UDP entity handlers.
package internal

import (
	"net"

	"github.com/eapache/queue"
)

// OutElement is one queued write: a buffer and, for UDP with per-datagram
// destinations, an explicit endpoint. Dest is nil for TCP.
type OutElement struct {
	Buf  []byte
	Dest net.Addr
}

// QueueStats is a snapshot of an output queue.
type QueueStats struct {
	Size  int
	Bytes uint64
}

// OutQueue is a FIFO of pending writes with O(1) size and byte counters.
// It is not safe for concurrent use; IOBase serializes access.
type OutQueue struct {
	items *queue.Queue
	bytes uint64
}

func (q *OutQueue) Push(e OutElement) {
	if q.items == nil {
		q.items = queue.New()
	}
	q.items.Add(e)
	q.bytes += uint64(len(e.Buf))
}

func (q *OutQueue) Pop() (OutElement, bool) {
	if q.items == nil || q.items.Length() == 0 {
		return OutElement{}, false
	}
	e := q.items.Remove().(OutElement)
	q.bytes -= uint64(len(e.Buf))
	return e, true
}

func (q *OutQueue) Len() int {
	if q.items == nil {
		return 0
	}
	return q.items.Length()
}

func (q *OutQueue) Stats() QueueStats {
	return QueueStats{Size: q.Len(), Bytes: q.bytes}
}
