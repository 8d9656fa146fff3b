package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aeolun/tinychat/pkg/cancellation"
	"github.com/aeolun/tinychat/pkg/console"
	"github.com/aeolun/tinychat/pkg/server"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

func main() {
	// Configure logger with microsecond precision
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	configPath := flag.String("config", "~/.tinychat/server.toml", "Path to config file")
	address := flag.String("address", "", "Address to bind (overrides config)")
	port := flag.Int("port", 0, "TCP port to listen on (overrides config)")
	wsPort := flag.Int("ws-port", 0, "WebSocket port, -1 disables (overrides config)")
	metricsPort := flag.Int("metrics-port", 0, "Metrics port, -1 disables (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	noConsole := flag.Bool("no-console", false, "Do not read commands from stdin")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("tinychat server %s\n", Version)
		os.Exit(0)
	}

	// Load configuration (creates default if not found)
	config, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Command-line flags override config file
	if *address != "" {
		config.Server.Address = *address
	}
	if *port != 0 {
		config.Server.Port = *port
	}
	if *wsPort != 0 {
		config.Server.WebSocketPort = *wsPort
	}
	if *metricsPort != 0 {
		config.Server.MetricsPort = *metricsPort
	}

	serverConfig := config.ToServerConfig()
	if *noConsole {
		serverConfig.ConsoleEnabled = false
	}

	if err := server.InitLoggers(serverConfig.DataDir); err != nil {
		log.Fatalf("Failed to initialize loggers: %v", err)
	}
	if *debug {
		if err := server.EnableDebugLogging(serverConfig.DataDir); err != nil {
			log.Fatalf("Failed to enable debug logging: %v", err)
		}
		log.Printf("Debug logging enabled")
	}

	log.Printf("Config: %s (using defaults if not found)", *configPath)

	// Every loop in the process holds a token from this source
	source := cancellation.NewSource()
	defer source.Close()

	shutdown, err := source.NewToken()
	if err != nil {
		log.Fatalf("Failed to create shutdown token: %v", err)
	}

	srv := server.NewServer(serverConfig, source)
	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	log.Printf("tinychat server %s started successfully", Version)
	log.Printf("Available connection methods:")
	log.Printf("  - Binary Protocol (TCP): %s", srv.Addr())
	if serverConfig.WebSocketPort > 0 {
		log.Printf("  - WebSocket: port %d (ws://server:%d/ws)", serverConfig.WebSocketPort, serverConfig.WebSocketPort)
	}
	if serverConfig.MetricsPort > 0 {
		log.Printf("Metrics: http://%s:%d/metrics", serverConfig.Address, serverConfig.MetricsPort)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received %v", sig)
		cancelAll(source)
	}()

	if serverConfig.ConsoleEnabled {
		startConsole(source, srv)
	}

	<-shutdown.Done()

	log.Println("Shutting down server...")
	if err := srv.Stop(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	log.Println("Server stopped")
}

func startConsole(source *cancellation.Source, srv *server.Server) {
	token, err := source.NewToken()
	if err != nil {
		log.Fatalf("Failed to create console token: %v", err)
	}

	h := console.NewHandler(os.Stdout)
	for _, cmd := range console.ServerCommands(h, source, srv.Registry()) {
		h.Register(cmd)
	}

	log.Printf("Console ready, type \"help\" for commands")
	go func() {
		if err := h.Run(os.Stdin, token); err != nil {
			log.Printf("Console stopped: %v", err)
			// A failed command is as fatal as exit
			cancelAll(source)
			return
		}
		log.Printf("Console closed")
	}()
}

// cancelAll cancels source unless something already did
func cancelAll(source *cancellation.Source) {
	if err := source.Cancel(); err != nil && !errors.Is(err, cancellation.ErrAlreadyCancelled) {
		log.Printf("Cancellation failed: %v", err)
	}
}
