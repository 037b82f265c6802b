package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// ActiveConnections is 1 while the relay connection is up.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "predict_session_relay_active_connections",
		Help: "Number of active counter-signature relay connections",
	})

	// ReconnectAttemptsTotal tracks reconnection attempts.
	ReconnectAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "predict_session_relay_reconnect_attempts_total",
		Help: "Total number of relay reconnection attempts",
	})

	// ReconnectFailuresTotal tracks reconnection failures.
	ReconnectFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "predict_session_relay_reconnect_failures_total",
		Help: "Total number of relay reconnection failures",
	})

	// MessagesReceivedTotal tracks relay messages by type.
	MessagesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predict_session_relay_messages_received_total",
			Help: "Total number of relay messages received",
		},
		[]string{"type"},
	)

	// SignRequestsTotal tracks counter-signature requests by signer and result.
	SignRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predict_session_sign_requests_total",
			Help: "Total number of counter-signature requests",
		},
		[]string{"signer", "result"},
	)

	// SignLatencySeconds tracks the round trip of a counter-signature request.
	SignLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "predict_session_sign_latency_seconds",
			Help:    "Counter-signature request latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"signer"},
	)
)
