//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package artnet

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// control lets several processes share the Art-Net port and allows
// broadcast sends.
func control(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		for _, opt := range []int{unix.SO_REUSEADDR, unix.SO_REUSEPORT, unix.SO_BROADCAST} {
			if sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, opt, 1); sockErr != nil {
				return
			}
		}
	})
	if err != nil {
		return err
	}
	return sockErr
}
