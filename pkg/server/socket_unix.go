//go:build unix

package server

import (
	"syscall"
)

// setSocketOptions sets SO_REUSEADDR so a restarted server can rebind while
// old connections sit in TIME_WAIT
func setSocketOptions(fd uintptr) error {
	return syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
}

// errnoConnReset is the errno a peer reset surfaces as on accept
const errnoConnReset = syscall.ECONNRESET

// transientAcceptErrnos come from a peer going away mid-accept
var transientAcceptErrnos = []syscall.Errno{
	syscall.ECONNABORTED,
	syscall.ECONNREFUSED,
	errnoConnReset,
	syscall.EINTR,
	syscall.EPIPE,
	syscall.ETIMEDOUT,
}
