// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IntentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_intents_created_total",
			Help: "Payment intents created, by currency",
		},
		[]string{"currency"},
	)

	IntentEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_intent_events_total",
			Help: "Payment intent lifecycle events, by type",
		},
		[]string{"type"},
	)

	JobOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_job_outcomes_total",
			Help: "Execution job results, by outcome and error kind",
		},
		[]string{"outcome", "kind"},
	)

	JobRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_job_retries_total",
			Help: "Execution job attempts scheduled after a retryable error",
		},
	)

	JobsExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_jobs_exhausted_total",
			Help: "Execution jobs that ran out of attempts",
		},
	)

	WorkerTransferDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "settlement_worker_transfer_duration_seconds",
			Help:    "Latency of settlement worker transfer calls",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"worker", "result"},
	)

	ConsistencyViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_consistency_violations_total",
			Help: "Paths that could not guarantee fund conservation",
		},
		[]string{"path"},
	)

	StuckIntentsRequeued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_stuck_intents_requeued_total",
			Help: "Executing intents with an expired lease sent back to the queue",
		},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_http_requests_total",
			Help: "HTTP requests, by route pattern and status code",
		},
		[]string{"route", "code"},
	)
)
