package server

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/aeolun/tinychat/pkg/cancellation"
	"github.com/aeolun/tinychat/pkg/handshake"
	"github.com/aeolun/tinychat/pkg/protocol"
)

const (
	// DefaultPollInterval is how long one accept attempt waits before the
	// loop checks its cancellation token again
	DefaultPollInterval = 250 * time.Millisecond

	// DefaultHandshakeTimeout bounds a single client's handshake
	DefaultHandshakeTimeout = 10 * time.Second
)

// ErrListenerNotPollable is returned by the accept loop when the listener
// cannot take an accept deadline
var ErrListenerNotPollable = errors.New("listener does not support accept deadlines")

// StopError reports why an accept loop ended abnormally
type StopError struct {
	Err   error
	Panic any
}

func (e *StopError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("accept loop panicked: %v", e.Panic)
	}
	return fmt.Sprintf("accept loop failed: %v", e.Err)
}

func (e *StopError) Unwrap() error {
	return e.Err
}

// deadlineListener is a listener whose Accept can be bounded in time.
// *net.TCPListener, *net.UnixListener and *WebSocketListener qualify.
type deadlineListener interface {
	net.Listener
	SetDeadline(t time.Time) error
}

// HandlerOption configures a ClientHandler
type HandlerOption func(*ClientHandler)

// WithRegistry shares a registry between handlers
func WithRegistry(registry *Registry) HandlerOption {
	return func(h *ClientHandler) {
		h.registry = registry
	}
}

// WithTokenSource mints the accept loop token from an existing source, so
// that cancelling it elsewhere stops this handler
func WithTokenSource(source *cancellation.Source) HandlerOption {
	return func(h *ClientHandler) {
		h.source = source
	}
}

// WithMetrics attaches metrics
func WithMetrics(metrics *Metrics) HandlerOption {
	return func(h *ClientHandler) {
		h.metrics = metrics
	}
}

// WithTransport names the transport in logs, metrics and session records
func WithTransport(name string) HandlerOption {
	return func(h *ClientHandler) {
		h.transport = name
	}
}

// WithPollInterval overrides DefaultPollInterval
func WithPollInterval(d time.Duration) HandlerOption {
	return func(h *ClientHandler) {
		if d > 0 {
			h.pollInterval = d
		}
	}
}

// WithHandshakeTimeout overrides DefaultHandshakeTimeout. Zero disables the
// deadline.
func WithHandshakeTimeout(d time.Duration) HandlerOption {
	return func(h *ClientHandler) {
		h.handshakeTimeout = d
	}
}

// ClientHandler owns a listener and a background accept loop that admits
// sessions into a registry until its cancellation token fires
type ClientHandler struct {
	listener         net.Listener
	registry         *Registry
	source           *cancellation.Source
	token            *cancellation.Token
	metrics          *Metrics
	transport        string
	pollInterval     time.Duration
	handshakeTimeout time.Duration

	done chan struct{}
	err  error // Written once before done is closed
}

// NewClientHandler starts accepting on listener. It fails if a token cannot
// be minted from the source.
func NewClientHandler(listener net.Listener, opts ...HandlerOption) (*ClientHandler, error) {
	h := &ClientHandler{
		listener:         listener,
		transport:        "tcp",
		pollInterval:     DefaultPollInterval,
		handshakeTimeout: DefaultHandshakeTimeout,
		done:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}

	if h.registry == nil {
		h.registry = NewRegistry()
	}
	if h.source == nil {
		h.source = cancellation.NewSource()
	}

	token, err := h.source.NewToken()
	if err != nil {
		return nil, fmt.Errorf("failed to create accept loop token: %w", err)
	}
	h.token = token

	go h.run()
	return h, nil
}

// Registry returns the registry sessions are admitted into
func (h *ClientHandler) Registry() *Registry {
	return h.registry
}

// Addr returns the listener's address
func (h *ClientHandler) Addr() net.Addr {
	return h.listener.Addr()
}

// Cancel asks the accept loop to stop without waiting for it
func (h *ClientHandler) Cancel() error {
	return h.source.Cancel()
}

// IsCancelled reports whether the handler's source has been cancelled
func (h *ClientHandler) IsCancelled() (bool, error) {
	return h.source.IsCancelled()
}

// Wait blocks until the accept loop has exited and returns its error
func (h *ClientHandler) Wait() error {
	<-h.done
	return h.err
}

// Stop cancels the source and waits for the accept loop to exit.
//
// If the source was already cancelled the loop is still joined, and
// cancellation.ErrAlreadyCancelled is returned so the caller can treat it as
// benign. A loop failure or panic is returned as *StopError. A poisoned
// source is returned as *StopError without joining.
func (h *ClientHandler) Stop() error {
	cancelErr := h.source.Cancel()

	var poisoned *cancellation.PoisonedError
	if errors.As(cancelErr, &poisoned) {
		return &StopError{Err: cancelErr}
	}

	if err := h.Wait(); err != nil {
		return err
	}
	return cancelErr
}

func (h *ClientHandler) run() {
	defer close(h.done)
	defer func() {
		if r := recover(); r != nil {
			errorLog.Printf("%s accept loop panicked: %v", h.transport, r)
			h.err = &StopError{Panic: r}
		}
	}()

	if err := h.acceptLoop(); err != nil {
		errorLog.Printf("%s accept loop stopped: %v", h.transport, err)
		h.err = &StopError{Err: err}
	}
}

// acceptLoop accepts and admits connections until the token is cancelled
func (h *ClientHandler) acceptLoop() error {
	listener, ok := h.listener.(deadlineListener)
	if !ok {
		return ErrListenerNotPollable
	}

	for {
		cancelled, err := h.token.IsCancelled()
		if err != nil {
			return err
		}
		if cancelled {
			debugLog.Printf("%s accept loop cancelled", h.transport)
			return nil
		}

		if err := listener.SetDeadline(time.Now().Add(h.pollInterval)); err != nil {
			return fmt.Errorf("failed to set accept deadline: %w", err)
		}

		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				// No connection yet
				continue
			}
			if isTransientAcceptError(err) {
				h.metrics.RecordAcceptError("transient")
				log.Printf("Accept error on %s (continuing): %v", h.transport, err)
				continue
			}
			h.metrics.RecordAcceptError("fatal")
			return fmt.Errorf("accept: %w", err)
		}

		h.metrics.RecordConnectionAccepted(h.transport)
		h.admit(conn)
	}
}

// admit runs the server handshake on a new connection and registers the
// session. The registry lock is never held during the handshake.
func (h *ClientHandler) admit(conn net.Conn) {
	// Disable Nagle's algorithm for immediate sends
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	addr := conn.RemoteAddr()
	stream := protocol.NewMessageStream(conn)
	taken := h.registry.TakenUsernames()

	start := time.Now()
	result, err := handshake.Server(stream, taken, handshake.WithTimeout(h.handshakeTimeout))
	if err != nil {
		h.metrics.RecordHandshake(handshakeOutcome(err), time.Since(start))
		if errors.Is(err, handshake.ErrAuthenticationFailed) {
			log.Printf("Rejected %s (%s): %v", addr, h.transport, err)
		} else {
			log.Printf("Handshake with %s (%s) failed: %v", addr, h.transport, err)
		}
		stream.Close()
		return
	}

	client := NewClientHandle(stream, *result, h.transport)
	if err := h.registry.Add(client); err != nil {
		// Another transport admitted the same username after our snapshot.
		// This client has already seen Authenticated, so End follows it.
		h.metrics.RecordHandshake(outcomeRejected, time.Since(start))
		log.Printf("Rejected %s (%s): %s", addr, h.transport, handshake.ReasonUsernameTaken)
		_ = stream.SetDeadline(time.Now().Add(closeWriteTimeout))
		_ = stream.WriteMessage(&protocol.ServerEnd{Reason: handshake.ReasonUsernameTaken})
		stream.Close()
		return
	}

	h.metrics.RecordHandshake(outcomeAuthenticated, time.Since(start))
	log.Printf("Client %s authenticated as %q over %s (session %s)", addr, client.Username(), h.transport, client.ID)
}

// isTransientAcceptError reports whether an accept error comes from a peer
// going away mid-accept and should not end the loop
func isTransientAcceptError(err error) bool {
	for _, errno := range transientAcceptErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
