package ws

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "voice_gateway",
		Subsystem: "ws",
		Name:      "connections_active",
		Help:      "Open WebSocket connections.",
	})

	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voice_gateway",
		Subsystem: "ws",
		Name:      "turns_total",
		Help:      "Completed turns by input source and outcome.",
	}, []string{"source", "outcome"})

	turnDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "voice_gateway",
		Subsystem: "ws",
		Name:      "turn_duration_seconds",
		Help:      "End-to-end turn latency by input source.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"source"})

	phaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "voice_gateway",
		Subsystem: "ws",
		Name:      "turn_phase_duration_seconds",
		Help:      "Latency of each pipeline phase.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"phase"})

	backpressureCloses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "voice_gateway",
		Subsystem: "ws",
		Name:      "backpressure_closes_total",
		Help:      "Connections closed because the peer stopped reading.",
	})

	assistantPersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "voice_gateway",
		Subsystem: "ws",
		Name:      "assistant_persist_failures_total",
		Help:      "Assistant messages that failed to persist after the user already got the reply.",
	})
)
