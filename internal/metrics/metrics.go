package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_messages_received_total",
			Help: "Total number of inbound updates by kind",
		},
		[]string{"kind"},
	)

	SearchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_search_requests_total",
			Help: "Search lookups by outcome",
		},
		[]string{"outcome"},
	)

	Generations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_generations_total",
			Help: "Generation calls by outcome",
		},
		[]string{"outcome"},
	)

	GenerationLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatrelay_generation_latency_seconds",
			Help:    "Generation latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatrelay_active_sessions",
			Help: "Number of chats with a session",
		},
	)

	PollErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_poll_errors_total",
			Help: "Total number of failed update polls",
		},
	)
)

// Message kinds.
const (
	KindText      = "text"
	KindCommand   = "command"
	KindSelection = "selection"
	KindIgnored   = "ignored"
)

// Outcomes shared by search and generation.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
	OutcomeSkipped = "skipped"
	OutcomeEmpty   = "empty"
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
