//go:build linux

package server

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseListenOverflows(t *testing.T) {
	netstat := `TcpExt: SyncookiesSent SyncookiesRecv ListenOverflows ListenDrops
TcpExt: 0 0 42 43
IpExt: InNoRoutes InTruncatedPkts
IpExt: 0 0
`
	assert.Equal(t, uint64(42), parseListenOverflows(bufio.NewScanner(strings.NewReader(netstat))))
}

func TestParseListenOverflowsMissing(t *testing.T) {
	netstat := "IpExt: InNoRoutes\nIpExt: 0\n"
	assert.Equal(t, uint64(0), parseListenOverflows(bufio.NewScanner(strings.NewReader(netstat))))
}
