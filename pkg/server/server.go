package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/aeolun/tinychat/pkg/cancellation"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	errorLog = log.New(os.Stderr, "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
)

// ShutdownReason is the End reason sent to every session when the server stops
const ShutdownReason = "Server shutting down"

// ServerConfig holds server configuration
type ServerConfig struct {
	Address          string
	Port             int
	WebSocketPort    int // <= 0 disables
	MetricsPort      int // <= 0 disables
	DataDir          string
	HandshakeTimeout time.Duration
	PollInterval     time.Duration
	ConsoleEnabled   bool
}

// DefaultConfig returns default server configuration
func DefaultConfig() ServerConfig {
	return ServerConfig{
		Address:          "0.0.0.0",
		Port:             6470,
		WebSocketPort:    6471,
		MetricsPort:      9090,
		DataDir:          "~/.tinychat",
		HandshakeTimeout: DefaultHandshakeTimeout,
		PollInterval:     DefaultPollInterval,
		ConsoleEnabled:   true,
	}
}

// Server runs one ClientHandler per transport against a shared registry.
// All handlers mint their tokens from the same source, so cancelling it
// stops the whole server.
type Server struct {
	config       ServerConfig
	source       *cancellation.Source
	registry     *Registry
	metrics      *Metrics
	promRegistry *prometheus.Registry

	handlers    []*ClientHandler
	listeners   []net.Listener
	httpServers []*http.Server
	wg          sync.WaitGroup
	startTime   time.Time
}

// NewServer creates a server whose lifetime is bound to source
func NewServer(config ServerConfig, source *cancellation.Source) *Server {
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := NewMetrics(promRegistry)

	registry := NewRegistry()
	registry.SetMetrics(metrics)

	return &Server{
		config:       config,
		source:       source,
		registry:     registry,
		metrics:      metrics,
		promRegistry: promRegistry,
	}
}

// InitLoggers sets up error and debug loggers. Errors go to stderr and
// errors.log, status lines to stdout and server.log.
func InitLoggers(dataDir string) error {
	dataDir, err := ensureDataDir(dataDir)
	if err != nil {
		return err
	}

	errorFile, err := os.OpenFile(filepath.Join(dataDir, "errors.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return err
	}

	// Startup marker for distinguishing between runs
	startupMsg := fmt.Sprintf("=== Server started at %s ===\n", time.Now().Format(time.RFC3339))
	if _, err := errorFile.WriteString(startupMsg); err != nil {
		return err
	}

	errorLog = log.New(io.MultiWriter(os.Stderr, errorFile), "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)

	// Truncate server.log on startup to avoid confusion from multiple runs
	serverLogFile, err := os.OpenFile(filepath.Join(dataDir, "server.log"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return err
	}
	log.SetOutput(io.MultiWriter(os.Stdout, serverLogFile))

	return nil
}

// EnableDebugLogging enables debug logging to debug.log
func EnableDebugLogging(dataDir string) error {
	dataDir, err := ensureDataDir(dataDir)
	if err != nil {
		return err
	}

	debugLogFile, err := os.OpenFile(filepath.Join(dataDir, "debug.log"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return fmt.Errorf("failed to open debug.log: %w", err)
	}

	debugLog = log.New(debugLogFile, "DEBUG: ", log.LstdFlags)
	debugLog.Println("Debug logging enabled")
	return nil
}

// ensureDataDir expands and creates the data directory
func ensureDataDir(dataDir string) (string, error) {
	dataDir, err := ExpandPath(dataDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dataDir, nil
}

// Registry returns the shared session registry
func (s *Server) Registry() *Registry {
	return s.registry
}

// Addr returns the TCP listen address once started
func (s *Server) Addr() net.Addr {
	if len(s.handlers) == 0 {
		return nil
	}
	return s.handlers[0].Addr()
}

// Start binds the TCP listener and, if configured, the WebSocket and
// metrics HTTP servers
func (s *Server) Start() error {
	s.startTime = time.Now()

	addr := net.JoinHostPort(s.config.Address, strconv.Itoa(s.config.Port))
	listener, err := listenTCP(addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listeners = append(s.listeners, listener)
	logListenBacklog(listener.Addr().String())

	if err := s.startHandler(listener, "tcp"); err != nil {
		s.Stop()
		return err
	}

	// Start listen overflow monitor (Linux only)
	if token, err := s.source.NewToken(); err == nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			monitorListenOverflows(token)
		}()
	}

	if s.config.WebSocketPort > 0 {
		if err := s.startWebSocket(); err != nil {
			s.Stop()
			return err
		}
	}

	if s.config.MetricsPort > 0 {
		if err := s.startMetricsServer(); err != nil {
			s.Stop()
			return err
		}
	}

	return nil
}

// startHandler runs an accept loop on listener. A loop that fails cancels
// the source so every other loop and the console stop too.
func (s *Server) startHandler(listener net.Listener, transport string) error {
	h, err := NewClientHandler(listener,
		WithRegistry(s.registry),
		WithTokenSource(s.source),
		WithMetrics(s.metrics),
		WithTransport(transport),
		WithPollInterval(s.config.PollInterval),
		WithHandshakeTimeout(s.config.HandshakeTimeout),
	)
	if err != nil {
		return fmt.Errorf("failed to start %s client handler: %w", transport, err)
	}
	s.handlers = append(s.handlers, h)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := h.Wait(); err != nil {
			if cerr := s.source.Cancel(); cerr != nil && !errors.Is(cerr, cancellation.ErrAlreadyCancelled) {
				errorLog.Printf("Failed to cancel after %s accept loop failure: %v", transport, cerr)
			}
		}
	}()

	return nil
}

func (s *Server) startWebSocket() error {
	addr := net.JoinHostPort(s.config.Address, strconv.Itoa(s.config.WebSocketPort))
	ln, err := listenTCP(addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	wsListener := NewWebSocketListener(ln.Addr())
	s.listeners = append(s.listeners, wsListener)

	mux := http.NewServeMux()
	mux.Handle("/ws", wsListener)
	s.serveHTTP(ln, mux, "WebSocket")
	log.Printf("WebSocket server listening on %s (/ws)", ln.Addr())

	return s.startHandler(wsListener, "websocket")
}

// startMetricsServer serves metrics (internal only - never expose publicly!)
func (s *Server) startMetricsServer() error {
	addr := net.JoinHostPort(s.config.Address, strconv.Itoa(s.config.MetricsPort))
	ln, err := listenTCP(addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", s.HealthHandler)
	s.serveHTTP(ln, mux, "Metrics")
	log.Printf("Metrics server listening on %s (/metrics, /health) - INTERNAL ONLY", ln.Addr())

	return nil
}

func (s *Server) serveHTTP(ln net.Listener, handler http.Handler, name string) {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServers = append(s.httpServers, srv)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorLog.Printf("%s server error: %v", name, err)
		}
	}()
}

// HealthHandler reports liveness and the current session count
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":         "ok",
		"sessions":       s.registry.Len(),
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}

// Stop stops every accept loop, notifies admitted clients and closes all
// listeners. The first accept loop failure, if any, is returned.
func (s *Server) Stop() error {
	log.Println("Graceful shutdown initiated...")

	var stopErr error
	for _, h := range s.handlers {
		if err := h.Stop(); err != nil && !errors.Is(err, cancellation.ErrAlreadyCancelled) {
			if stopErr == nil {
				stopErr = err
			}
		}
	}

	// Accept loops are gone, so the registry can no longer grow
	s.notifyClientsOfShutdown()

	for _, l := range s.listeners {
		l.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range s.httpServers {
		if err := srv.Shutdown(ctx); err != nil {
			errorLog.Printf("HTTP server shutdown: %v", err)
		}
	}

	s.wg.Wait()
	log.Println("Graceful shutdown complete")
	return stopErr
}

// notifyClientsOfShutdown sends End to all admitted clients and closes them
func (s *Server) notifyClientsOfShutdown() {
	count := s.registry.Len()
	if count == 0 {
		log.Println("No active sessions to notify")
		return
	}

	log.Printf("Sending shutdown notification to %d active sessions...", count)
	sent := s.registry.CloseAll(ShutdownReason)
	log.Printf("Shutdown notification sent to %d/%d sessions", sent, count)
}

// listenTCP binds addr with SO_REUSEADDR for quick restarts
func listenTCP(addr string) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var opErr error
			err := c.Control(func(fd uintptr) {
				opErr = setSocketOptions(fd)
			})
			if err != nil {
				return err
			}
			return opErr
		},
	}
	return lc.Listen(context.Background(), "tcp", addr)
}
