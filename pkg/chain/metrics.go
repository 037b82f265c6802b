package chain

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// ConfirmationsTotal counts finished waits by result.
	ConfirmationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predict_session_chain_confirmations_total",
		Help: "Custody transaction waits by result (confirmed, reverted, timeout, canceled)",
	}, []string{"result"})

	// ConfirmationDuration tracks time to a final receipt.
	ConfirmationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "predict_session_chain_confirmation_duration_seconds",
		Help:    "Time from first poll to a final receipt",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)
