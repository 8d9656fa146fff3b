package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/aeolun/tinychat/pkg/client"
	"github.com/aeolun/tinychat/pkg/client/ui"
	tea "github.com/charmbracelet/bubbletea"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

func main() {
	configPath := flag.String("config", client.DefaultConfigPath, "Path to config file")
	serverAddr := flag.String("server", "", "Server address: host:port, tcp://host:port or ws://host:port/ws (overrides config)")
	username := flag.String("username", "", "Username to prefill (overrides config)")
	useWebSocket := flag.Bool("ws", false, "Connect over WebSocket")
	debugLog := flag.String("debug-log", "", "Write connection debug log to this file")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("tinychat client %s\n", Version)
		os.Exit(0)
	}

	config, err := client.LoadClientConfig(*configPath)
	if err != nil {
		var cfgErr *client.ConfigError
		if errors.As(err, &cfgErr) {
			log.Fatalf("Invalid config: %v", cfgErr)
		}
		log.Fatalf("Failed to load config: %v", err)
	}

	if *serverAddr != "" {
		config.Connection.Server = *serverAddr
	}
	if *username != "" {
		config.Connection.Username = *username
	}
	if *useWebSocket {
		config.Connection.Transport = client.TransportWebSocket
	}

	conn, err := client.NewConnection(config.Connection.Server, config.UseWebSocket())
	if err != nil {
		log.Fatalf("Invalid server address: %v", err)
	}

	// The TUI owns the terminal, so connection logs only go to a file
	logger := log.New(io.Discard, "", 0)
	if *debugLog != "" {
		f, err := os.OpenFile(*debugLog, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			log.Fatalf("Failed to open debug log: %v", err)
		}
		defer f.Close()
		logger = log.New(f, "", log.Ldate|log.Ltime|log.Lmicroseconds)
	}
	conn.SetLogger(logger)
	defer conn.Close(ui.QuitReason)

	opts := ui.Options{
		Username:       config.Connection.Username,
		ShowTimestamps: config.UI.ShowTimestamps,
	}
	if config.UI.Notifications {
		opts.Notify = ui.DesktopNotifier
	}

	p := tea.NewProgram(ui.NewModel(conn, opts), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Error running program: %v\n", err)
		os.Exit(1)
	}
}
