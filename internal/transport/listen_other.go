//go:build !linux

package transport

import (
	"fmt"
	"net"
)

// listen binds 0.0.0.0:port. The backlog is left to the OS.
func listen(port, _ int) (net.Listener, error) {
	return net.Listen("tcp4", fmt.Sprintf("0.0.0.0:%d", port))
}

func bound(ln net.Listener) bool {
	tl, ok := ln.(*net.TCPListener)
	if !ok {
		return false
	}
	raw, err := tl.SyscallConn()
	if err != nil {
		return false
	}
	if err := raw.Control(func(uintptr) {}); err != nil {
		return false
	}
	addr, ok := tl.Addr().(*net.TCPAddr)
	return ok && addr.Port != 0
}
