//go:build windows

package utils

import (
	"syscall"
)

func setSocketOptions(fd uintptr) {
	h := syscall.Handle(fd)
	syscall.SetsockoptInt(h, syscall.IPPROTO_TCP, syscall.TCP_NODELAY, 1) // no Nagle
	syscall.SetsockoptInt(h, syscall.SOL_SOCKET, syscall.SO_RCVBUF, DefaultBufferSize)
	syscall.SetsockoptInt(h, syscall.SOL_SOCKET, syscall.SO_SNDBUF, DefaultBufferSize)
}
