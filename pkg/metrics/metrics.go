// Package metrics provides Prometheus metrics for clover.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "clover"

var (
	// PhaseTransitionsTotal counts project phase transitions
	PhaseTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "statemachine",
			Name:      "phase_transitions_total",
			Help:      "Total number of project phase transitions",
		},
		[]string{"from", "to"},
	)

	// OperationDuration tracks the duration of state machine operations
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "statemachine",
			Name:      "operation_duration_seconds",
			Help:      "Duration of project state machine operations in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"operation"},
	)

	// PairsReplacedTotal counts pair versions retired by the lifecycle manager
	PairsReplacedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "pairs_replaced_total",
			Help:      "Total number of record pair versions replaced",
		},
		[]string{"operation"},
	)

	// UncertainLinksTotal counts pairs selected for escalation
	UncertainLinksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "selection",
			Name:      "uncertain_links_total",
			Help:      "Total number of record pairs selected as uncertain links",
		},
		[]string{"strategy"},
	)

	// PairsReportedTotal counts pairs reported to a parent layer
	PairsReportedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "pairs_reported_total",
			Help:      "Total number of record pairs reported to the parent layer",
		},
		[]string{"delivery"},
	)

	// PairsFetchedTotal counts pairs fetched from a parent layer
	PairsFetchedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "pairs_fetched_total",
			Help:      "Total number of record pairs fetched from the parent layer",
		},
	)

	// WishesCreatedTotal counts encoding wishes created
	WishesCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "wishes_created_total",
			Help:      "Total number of encoding wishes created",
		},
		[]string{"method"},
	)

	// RetrainingUpdatesTotal counts classifier updates by strategy and outcome
	RetrainingUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retraining",
			Name:      "updates_total",
			Help:      "Total number of classifier updates",
		},
		[]string{"strategy", "outcome"},
	)

	// HTTPRequestsTotal tracks outbound HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http_client",
			Name:      "requests_total",
			Help:      "Total number of outbound HTTP requests",
		},
		[]string{"method", "status_code"},
	)

	// HTTPRequestDuration tracks outbound HTTP request duration
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http_client",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound HTTP requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)
)
