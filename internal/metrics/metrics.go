package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DealTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_deal_transitions_total",
		Help: "Applied deal status transitions, labeled by operation and target status",
	}, []string{"op", "to"})

	RejectedOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_deal_rejected_operations_total",
		Help: "Deal operations rejected by the state machine, labeled by reason",
	}, []string{"op", "reason"})

	DepositChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_deposit_checks_total",
		Help: "Completed deposit verification checks, labeled by outcome",
	}, []string{"outcome"})

	PendingVerifications = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "escrow_deposit_checks_pending",
		Help: "Deposit verification checks currently scheduled",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "escrow_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "route"})
)

// Check outcomes
const (
	OutcomeObserved = "observed"
	OutcomeMissing  = "missing"
	OutcomeStale    = "stale"
	OutcomeError    = "error"
)
