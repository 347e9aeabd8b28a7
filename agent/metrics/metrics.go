// Package metrics holds the Prometheus collectors the agent exports about its
// management connections. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "edge_agent"

type Metrics struct {
	status        *prometheus.GaugeVec
	framesDropped *prometheus.CounterVec
	sent          *prometheus.CounterVec
	reconnects    *prometheus.CounterVec
	queueDepth    *prometheus.GaugeVec
}

func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_status",
			Help:      "1 for the current management connection status, 0 for the others.",
		}, []string{"status"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_frames_dropped_total",
			Help:      "Inbound frames dropped before reaching a handler.",
		}, []string{"target", "reason"}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Outbound messages by target and result.",
		}, []string{"target", "result"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Connection attempts by target and result.",
		}, []string{"target", "result"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Messages waiting in each relay queue.",
		}, []string{"queue"}),
	}

	registerer.MustRegister(m.status, m.framesDropped, m.sent, m.reconnects, m.queueDepth)
	return m
}

// SetStatus marks current as the only active status
func (m *Metrics) SetStatus(current string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		value := 0.0
		if s == current {
			value = 1
		}
		m.status.WithLabelValues(s).Set(value)
	}
}

func (m *Metrics) FrameDropped(target string, reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(target, reason).Inc()
}

func (m *Metrics) MessageSent(target string, result string) {
	if m == nil {
		return
	}
	m.sent.WithLabelValues(target, result).Inc()
}

func (m *Metrics) ConnectAttempt(target string, result string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(target, result).Inc()
}

func (m *Metrics) QueueDepth(queue string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(queue).Set(float64(depth))
}
