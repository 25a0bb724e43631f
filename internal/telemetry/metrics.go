package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsExpanded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_jobs_expanded_total",
			Help: "Total number of dispatch jobs created from due schedules",
		},
	)

	JobsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_jobs_sent_total",
			Help: "Total number of dispatch jobs accepted by the gateway",
		},
	)

	JobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_jobs_failed_total",
			Help: "Total number of failed dispatch attempts",
		},
		[]string{"reason"},
	)

	Acks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_acks_total",
			Help: "Delivery and read confirmations applied to jobs",
		},
		[]string{"source", "kind"},
	)

	GatewayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_gateway_request_duration_seconds",
			Help:    "Duration of messaging gateway requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)
