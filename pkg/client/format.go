package client

import (
	"fmt"
)

// FormatBytes formats bytes into human-readable form (B, KB, MB, etc.)
func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%dB", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatTraffic renders sent and received byte counts for a status line
func FormatTraffic(sent, received uint64) string {
	return fmt.Sprintf("↑%s ↓%s", FormatBytes(sent), FormatBytes(received))
}
