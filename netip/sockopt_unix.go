//go:build unix

package netip

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseAddrControl is a net.ListenConfig control setting SO_REUSEADDR
// before bind.
func reuseAddrControl(network, address string, c syscall.RawConn) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return serr
}
