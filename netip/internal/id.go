package internal

import "sync/atomic"

var id uint64

// NextID returns a process-wide handler sequence number, used for handler
// naming in logs.
func NextID() uint64 {
	return atomic.AddUint64(&id, 1)
}
