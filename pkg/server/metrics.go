package server

import (
	"github.com/fior4neee/Message-Broadcasting/pkg/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the server.
// All Record methods are safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Connection and session metrics
	openConnections      prometheus.Gauge
	connectionsAccepted  prometheus.Counter
	activeSessions       prometheus.Gauge
	sessionsDisconnected prometheus.Counter
	logins               *prometheus.CounterVec // by result

	// Message type metrics
	messagesReceived *prometheus.CounterVec // by message type
	messagesSent     *prometheus.CounterVec // by message type
	errorsSent       *prometheus.CounterVec // by error code
	protocolErrors   prometheus.Counter

	// Broadcast metrics
	broadcastFanout   *prometheus.HistogramVec
	broadcastDuration *prometheus.HistogramVec
	broadcastFailures prometheus.Counter
}

// NewMetrics creates a new metrics instance registered on reg.
// A nil reg gets a fresh registry with the Go and process collectors.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		openConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "chat_open_connections",
				Help: "Current number of open client connections, logged in or not",
			},
		),
		connectionsAccepted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chat_connections_accepted_total",
				Help: "Total number of accepted client connections",
			},
		),
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "chat_active_sessions",
				Help: "Current number of logged in sessions",
			},
		),
		sessionsDisconnected: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chat_sessions_disconnected_total",
				Help: "Total number of logged in sessions removed",
			},
		),
		logins: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_logins_total",
				Help: "Login attempts by result",
			},
			[]string{"result"},
		),
		messagesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_messages_received_total",
				Help: "Total number of frames received from clients by type",
			},
			[]string{"type"},
		),
		messagesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_messages_sent_total",
				Help: "Total number of frames sent to clients by type",
			},
			[]string{"type"},
		),
		errorsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_errors_sent_total",
				Help: "Total number of ERROR frames sent by error code",
			},
			[]string{"code"},
		),
		protocolErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chat_protocol_errors_total",
				Help: "Connections closed because of a malformed frame",
			},
		),
		broadcastFanout: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chat_broadcast_fanout",
				Help:    "Number of clients that received each broadcast message",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
			[]string{"type"},
		),
		broadcastDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chat_broadcast_duration_seconds",
				Help:    "Time taken to broadcast a message to all sessions",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		broadcastFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chat_broadcast_failures_total",
				Help: "Broadcast sends that failed and caused a session removal",
			},
		),
	}
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordConnectionOpened counts an accepted connection
func (m *Metrics) RecordConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsAccepted.Inc()
	m.openConnections.Inc()
}

// RecordConnectionClosed decrements the open connection gauge
func (m *Metrics) RecordConnectionClosed() {
	if m == nil {
		return
	}
	m.openConnections.Dec()
}

// RecordActiveSessions updates the logged in session count
func (m *Metrics) RecordActiveSessions(count int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(count))
}

// RecordSessionDisconnected increments the session removal counter
func (m *Metrics) RecordSessionDisconnected() {
	if m == nil {
		return
	}
	m.sessionsDisconnected.Inc()
}

// RecordLogin counts a login attempt ("ok", "blank", "taken", "too_long", "duplicate_login")
func (m *Metrics) RecordLogin(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

// RecordMessageReceived increments the message received counter for a type
func (m *Metrics) RecordMessageReceived(msgType uint8) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(protocol.TypeName(msgType)).Inc()
}

// RecordMessageSent increments the message sent counter for a type
func (m *Metrics) RecordMessageSent(msgType uint8, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.messagesSent.WithLabelValues(protocol.TypeName(msgType)).Add(float64(count))
}

// RecordErrorSent counts an ERROR frame by code
func (m *Metrics) RecordErrorSent(code int) {
	if m == nil {
		return
	}
	m.errorsSent.WithLabelValues(errorCodeLabel(code)).Inc()
}

// RecordProtocolError counts a connection dropped for a malformed frame
func (m *Metrics) RecordProtocolError() {
	if m == nil {
		return
	}
	m.protocolErrors.Inc()
}

// RecordBroadcast records fan-out size, duration and failed sends for one broadcast
func (m *Metrics) RecordBroadcast(msgType uint8, delivered, failed int, durationSeconds float64) {
	if m == nil {
		return
	}
	name := protocol.TypeName(msgType)
	m.broadcastFanout.WithLabelValues(name).Observe(float64(delivered))
	m.broadcastDuration.WithLabelValues(name).Observe(durationSeconds)
	if failed > 0 {
		m.broadcastFailures.Add(float64(failed))
	}
	m.RecordMessageSent(msgType, delivered)
}

func errorCodeLabel(code int) string {
	switch code {
	case protocol.ErrCodeBadRequest:
		return "400"
	case protocol.ErrCodeUnauthorized:
		return "401"
	case protocol.ErrCodeNicknameExists:
		return "409"
	case protocol.ErrCodeServerError:
		return "500"
	default:
		return "other"
	}
}
