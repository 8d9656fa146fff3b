//go:build !linux

package server

import (
	"log"

	"github.com/aeolun/tinychat/pkg/cancellation"
)

// logListenBacklog logs the listen address (non-Linux systems)
func logListenBacklog(addr string) {
	log.Printf("TCP server listening on %s", addr)
}

// monitorListenOverflows has nothing to read on non-Linux systems
func monitorListenOverflows(token *cancellation.Token) {
	<-token.Done()
}
