package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "computequeue_jobs_submitted_total",
		Help: "Total number of jobs submitted",
	})

	JobsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "computequeue_jobs_completed_total",
		Help: "Total number of jobs that reached completed",
	})

	JobsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "computequeue_jobs_failed_total",
		Help: "Total number of jobs marked failed at job level",
	})

	JobProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "computequeue_job_processing_duration_seconds",
		Help:    "Time taken to run a job pipeline in seconds",
		Buckets: prometheus.DefBuckets,
	})

	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "computequeue_operations_total",
		Help: "Operations finished, by kind and terminal status",
	}, []string{"operation", "status"})

	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "computequeue_operation_duration_seconds",
		Help:    "Time taken by one operation pipeline in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	InFlightJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "computequeue_inflight_jobs",
		Help: "Jobs currently being processed by this dispatcher",
	})

	PendingJobsFound = promauto.NewCounter(prometheus.CounterOpts{
		Name: "computequeue_pending_jobs_found_total",
		Help: "Pending jobs returned by poll ticks",
	})

	PollErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "computequeue_poll_errors_total",
		Help: "Poll ticks skipped because the store query failed",
	})

	BroadcastTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "computequeue_broadcast_total",
		Help: "Notification events by delivery path and result",
	}, []string{"path", "result"})

	BrokerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "computequeue_broker_state",
		Help: "Broker publish state: 0 disabled, 1 reconnecting, 2 connected",
	})

	GatewayClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "computequeue_gateway_clients",
		Help: "Connected notification gateway clients",
	})

	ComputeTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "computequeue_compute_tokens_total",
		Help: "Tokens consumed by the compute provider",
	}, []string{"provider"})

	ComputeCostTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "computequeue_compute_cost_total",
		Help: "Estimated compute provider spend",
	}, []string{"provider"})

	ComputeFallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "computequeue_compute_fallback_total",
		Help: "Operations computed locally after the provider failed",
	}, []string{"operation"})
)
