package netip

import (
	"net"

	"github.com/oxenran/chops-net-ip/netip/internal"
)

// StateChangeFunc is invoked when a connection or socket becomes ready
// (opened true) and again when it goes away (opened false). total is the
// entity's handler count after the change. The open call for a handler
// strictly precedes its first message delivery; the close call strictly
// follows its last.
type StateChangeFunc func(io IOInterface, total int, opened bool)

// ErrorFunc receives every error associated with an entity, transient and
// terminal. Unless a dedicated shutdown notification is installed with
// WithShutdownNotify, the terminal error is also delivered here.
type ErrorFunc func(io IOInterface, err error)

// ShutdownFunc is the exactly-once terminal notification for an entity: the
// last handler's handle, the terminal error (nil for a clean local stop),
// and the remaining handler count.
type ShutdownFunc func(io IOInterface, err error, remaining int)

// FrameFunc decides message boundaries on a TCP stream. It is called with
// all bytes accumulated for the current message and returns 0 when the
// message is complete, or the number of additional bytes to read. A
// negative return is treated as malformed input.
type FrameFunc func(accum []byte) int

// MsgHandlerFunc is invoked with one complete message, a restricted output
// handle for replies, and the message source. Returning false requests a
// graceful stop of this handler. For a given handler it is never invoked
// concurrently with itself, and successive invocations observe bytes in
// receive order.
type MsgHandlerFunc func(msg []byte, out IOOutput, from net.Addr) bool

// QueueStats is a snapshot of a handler's output queue.
type QueueStats = internal.QueueStats
