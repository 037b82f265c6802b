package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// IntentsTotal counts submitted intents by kind and result code.
	IntentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predict_session_intents_total",
			Help: "Submitted intents by kind and result",
		},
		[]string{"kind", "result"},
	)

	// ApplyDuration tracks submit latency, including confirmation and signing.
	ApplyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "predict_session_apply_duration_seconds",
			Help:    "Time from intent submission to commit or rejection",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"kind"},
	)

	// StaleRejectionsTotal counts optimistic-concurrency conflicts.
	StaleRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "predict_session_stale_rejections_total",
		Help: "Intents rejected for a stale base version",
	})

	// HaltedSessionsTotal counts sessions halted by an invariant violation.
	HaltedSessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "predict_session_halted_sessions_total",
		Help: "Sessions halted by an invariant violation",
	})

	// OpenSessions is the number of sessions not yet closed.
	OpenSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "predict_session_open_sessions",
		Help: "Number of market sessions currently open",
	})

	// MarketsCreatedTotal counts created markets.
	MarketsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "predict_session_markets_created_total",
		Help: "Markets created",
	})

	// TradesTotal counts committed trades by side.
	TradesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predict_session_trades_total",
			Help: "Committed OPERATE intents by side",
		},
		[]string{"side"},
	)

	// SettlementsTotal counts finalized markets by outcome.
	SettlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predict_session_settlements_total",
			Help: "Finalized markets by outcome",
		},
		[]string{"outcome"},
	)

	// SignatureRoundsTotal counts signature rounds by result.
	SignatureRoundsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predict_session_signature_rounds_total",
			Help: "Counter-signature rounds by result (ok, timeout)",
		},
		[]string{"result"},
	)

	// SignatureRoundDuration tracks how long a quorum takes to collect.
	SignatureRoundDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "predict_session_signature_round_duration_seconds",
		Help:    "Time to collect a counter-signature quorum",
		Buckets: prometheus.DefBuckets,
	})

	// InvalidSignaturesTotal counts dropped counter-signatures.
	InvalidSignaturesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "predict_session_invalid_signatures_total",
		Help: "Counter-signatures dropped for a bad signature or non-participant signer",
	})
)
