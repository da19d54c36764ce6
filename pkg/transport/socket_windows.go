//go:build windows

package transport

import (
	"syscall"

	"golang.org/x/sys/windows"
)

func socketControl(bufferSize int) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		if bufferSize <= 0 {
			return nil
		}
		var sockErr error
		err := c.Control(func(fd uintptr) {
			h := windows.Handle(fd)
			if sockErr = windows.SetsockoptInt(h, windows.SOL_SOCKET, windows.SO_RCVBUF, bufferSize); sockErr != nil {
				return
			}
			sockErr = windows.SetsockoptInt(h, windows.SOL_SOCKET, windows.SO_SNDBUF, bufferSize)
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}
