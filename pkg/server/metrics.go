package server

import (
	"errors"
	"net"
	"time"

	"github.com/aeolun/tinychat/pkg/handshake"
	"github.com/aeolun/tinychat/pkg/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the server.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Accept loop metrics
	connectionsAccepted *prometheus.CounterVec // by transport
	acceptErrors        *prometheus.CounterVec // by class

	// Handshake metrics
	handshakes        *prometheus.CounterVec // by outcome
	handshakeDuration prometheus.Histogram

	// Session metrics
	activeSessions prometheus.Gauge
}

// NewMetrics registers the server metrics with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		connectionsAccepted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tinychat_connections_accepted_total",
				Help: "Total number of connections accepted by transport",
			},
			[]string{"transport"},
		),
		acceptErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tinychat_accept_errors_total",
				Help: "Total number of accept errors by class",
			},
			[]string{"class"}, // "transient" or "fatal"
		),
		handshakes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tinychat_handshakes_total",
				Help: "Total number of server handshakes by outcome",
			},
			[]string{"outcome"},
		),
		handshakeDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tinychat_handshake_duration_seconds",
				Help:    "Time from accept until the handshake verdict was sent",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
			},
		),
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tinychat_active_sessions",
				Help: "Current number of admitted sessions",
			},
		),
	}
}

// RecordConnectionAccepted increments the accepted connection counter
func (m *Metrics) RecordConnectionAccepted(transport string) {
	if m == nil {
		return
	}
	m.connectionsAccepted.WithLabelValues(transport).Inc()
}

// RecordAcceptError increments the accept error counter for a class
func (m *Metrics) RecordAcceptError(class string) {
	if m == nil {
		return
	}
	m.acceptErrors.WithLabelValues(class).Inc()
}

// RecordHandshake counts a finished handshake and how long it took
func (m *Metrics) RecordHandshake(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues(outcome).Inc()
	m.handshakeDuration.Observe(duration.Seconds())
}

// RecordActiveSessions updates the active session count
func (m *Metrics) RecordActiveSessions(count int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(count))
}

// Handshake outcome labels
const (
	outcomeAuthenticated     = "authenticated"
	outcomeRejected          = "rejected"
	outcomeUnexpectedMessage = "unexpected_message"
	outcomeParseError        = "parse_error"
	outcomeTimeout           = "timeout"
	outcomeTransportError    = "transport_error"
)

// handshakeOutcome classifies a handshake error for metrics and logs
func handshakeOutcome(err error) string {
	var parseErr *protocol.ParseError
	var netErr net.Error

	switch {
	case err == nil:
		return outcomeAuthenticated
	case errors.Is(err, handshake.ErrAuthenticationFailed):
		return outcomeRejected
	case errors.Is(err, handshake.ErrUnexpectedMessage):
		return outcomeUnexpectedMessage
	case errors.As(err, &parseErr):
		return outcomeParseError
	case errors.As(err, &netErr) && netErr.Timeout():
		return outcomeTimeout
	default:
		return outcomeTransportError
	}
}
