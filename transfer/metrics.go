package transfer

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Reasons a session ended, used as the close_reason metric label.
const (
	endClient      = "client_close"
	endStreamEnded = "stream_ended"
	endTimeout     = "heartbeat_timeout"
	endProbeFailed = "probe_failed"
	endViolation   = "protocol_violation"
	endIOFailure   = "io_failure"
	endShutdown    = "shutdown"
	endPanic       = "panic"
)

// Metrics for upload sessions. A nil *Metrics records nothing.
type Metrics struct {
	reg            prometheus.Registerer
	activeSessions prometheus.Gauge
	filesCompleted prometheus.Counter
	bytesReceived  prometheus.Counter
	sessionEnds    *prometheus.CounterVec
	numMessages    *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reg: reg,
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wsdrop",
			Subsystem: "transfer",
			Name:      "active_sessions",
			Help:      "Number of open upload sessions",
		}),
		filesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wsdrop",
			Subsystem: "transfer",
			Name:      "files_completed",
			Help:      "Number of files received in full",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wsdrop",
			Subsystem: "transfer",
			Name:      "bytes_received",
			Help:      "Payload bytes written to workspaces",
		}),
		sessionEnds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wsdrop",
			Subsystem: "transfer",
			Name:      "session_closes",
			Help:      "Number of sessions ended, by reason",
		}, []string{"close_reason"}),
		numMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wsdrop",
			Subsystem: "transfer",
			Name:      "num_messages",
			Help:      "Number of control messages sent to clients",
		}, []string{"message_type"}),
	}
	reg.MustRegister(m.activeSessions, m.filesCompleted, m.bytesReceived, m.sessionEnds, m.numMessages)
	return m
}

func (m *Metrics) Unregister() {
	if m == nil {
		return
	}
	m.reg.Unregister(m.activeSessions)
	m.reg.Unregister(m.filesCompleted)
	m.reg.Unregister(m.bytesReceived)
	m.reg.Unregister(m.sessionEnds)
	m.reg.Unregister(m.numMessages)
}

func (m *Metrics) sessionStarted() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Metrics) sessionEnded(reason string) {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
	m.sessionEnds.WithLabelValues(reason).Inc()
}

func (m *Metrics) received(n int) {
	if m == nil {
		return
	}
	m.bytesReceived.Add(float64(n))
}

func (m *Metrics) fileCompleted() {
	if m == nil {
		return
	}
	m.filesCompleted.Inc()
}

func (m *Metrics) messageSent(t MessageType) {
	if m == nil {
		return
	}
	m.numMessages.WithLabelValues(string(t)).Inc()
}
