package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LookupsTotal counts answered searches by the stage that produced them.
	LookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "goposter",
			Subsystem: "search",
			Name:      "lookups_total",
			Help:      "Answered searches by result source",
		},
		[]string{"source"},
	)

	// UpstreamCallsTotal counts Custom Search calls by classified outcome.
	UpstreamCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "goposter",
			Subsystem: "search",
			Name:      "upstream_calls_total",
			Help:      "Custom Search API calls by outcome",
		},
		[]string{"outcome"},
	)

	UpstreamDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "goposter",
			Subsystem: "search",
			Name:      "upstream_duration_seconds",
			Help:      "Custom Search API call duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	// KeyTransitionsTotal counts api_keys status changes by target status.
	KeyTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "goposter",
			Subsystem: "keypool",
			Name:      "transitions_total",
			Help:      "API key status transitions by target status",
		},
		[]string{"status"},
	)

	KeysRestoredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "goposter",
			Subsystem: "keypool",
			Name:      "restored_total",
			Help:      "Exhausted keys moved back into rotation",
		},
	)

	UsableKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "goposter",
			Subsystem: "keypool",
			Name:      "usable_keys",
			Help:      "Keys neither exhausted nor blocked at the last candidate load",
		},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "goposter",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"method", "route", "status"},
	)
)
