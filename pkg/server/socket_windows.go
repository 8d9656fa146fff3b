//go:build windows

package server

import (
	"syscall"
)

// setSocketOptions sets SO_REUSEADDR; fd is a syscall.Handle on Windows
func setSocketOptions(fd uintptr) error {
	return syscall.SetsockoptInt(syscall.Handle(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
}

// Winsock codes; the syscall package's ECONNRESET and friends are invented
// values on Windows and never come back from accept
const (
	errorNetnameDeleted syscall.Errno = 64

	wsaEINTR        syscall.Errno = 10004
	wsaECONNABORTED syscall.Errno = 10053
	wsaECONNRESET   syscall.Errno = 10054
	wsaETIMEDOUT    syscall.Errno = 10060
	wsaECONNREFUSED syscall.Errno = 10061
)

// errnoConnReset is the errno a peer reset surfaces as on accept
const errnoConnReset = wsaECONNRESET

// transientAcceptErrnos come from a peer going away mid-accept. AcceptEx
// reports a reset before accept as ERROR_NETNAME_DELETED.
var transientAcceptErrnos = []syscall.Errno{
	wsaECONNABORTED,
	wsaECONNREFUSED,
	errnoConnReset,
	wsaEINTR,
	wsaETIMEDOUT,
	errorNetnameDeleted,
}
