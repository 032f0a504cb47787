//go:build !unix

package netip

import "syscall"

func reuseAddrControl(network, address string, c syscall.RawConn) error {
	return nil
}
