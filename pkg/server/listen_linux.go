//go:build linux

package server

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/aeolun/tinychat/pkg/cancellation"
)

// logListenBacklog logs the bind address and the kernel's listen backlog limit
func logListenBacklog(addr string) {
	var somaxconn int
	if data, err := os.ReadFile("/proc/sys/net/core/somaxconn"); err == nil {
		fmt.Sscanf(string(data), "%d", &somaxconn)
	}

	log.Printf("TCP server listening on %s (kernel listen backlog: %d)", addr, somaxconn)
	if somaxconn > 0 && somaxconn < 128 {
		log.Printf("WARNING: net.core.somaxconn=%d may drop connections while a handshake is in progress", somaxconn)
	}
}

// monitorListenOverflows reports listen queue overflows until token is cancelled.
// The accept loop admits one client at a time, so a burst of slow handshakes
// shows up here first.
func monitorListenOverflows(token *cancellation.Token) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	lastOverflows := getListenOverflows()

	for {
		select {
		case <-ticker.C:
			overflows := getListenOverflows()
			if overflows > lastOverflows {
				log.Printf("WARNING: %d connection(s) rejected due to listen backlog overflow (total: %d)", overflows-lastOverflows, overflows)
			}
			lastOverflows = overflows

		case <-token.Done():
			return
		}
	}
}

// getListenOverflows reads the ListenOverflows counter from /proc/net/netstat
func getListenOverflows() uint64 {
	file, err := os.Open("/proc/net/netstat")
	if err != nil {
		return 0
	}
	defer file.Close()

	return parseListenOverflows(bufio.NewScanner(file))
}

// parseListenOverflows finds ListenOverflows in the TcpExt header/value pair
func parseListenOverflows(scanner *bufio.Scanner) uint64 {
	var headers, values []string
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "TcpExt:") {
			continue
		}
		fields := strings.Fields(line)[1:]
		if headers == nil {
			headers = fields
			continue
		}
		values = fields
		break
	}

	for i, header := range headers {
		if header == "ListenOverflows" && i < len(values) {
			var overflows uint64
			fmt.Sscanf(values[i], "%d", &overflows)
			return overflows
		}
	}
	return 0
}
