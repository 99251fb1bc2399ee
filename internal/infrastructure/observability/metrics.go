package observability

import (
	"strconv"
	"time"

	"github.com/cassiomorais/txops/internal/domain/job"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all application metrics
type Metrics struct {
	// Job metrics
	JobTransitions    *prometheus.CounterVec
	ApplyFailures     *prometheus.CounterVec
	LockWaitDuration  prometheus.Histogram
	LockTimeoutsTotal prometheus.Counter

	// Gateway metrics
	GatewayRequests     *prometheus.CounterVec
	GatewayDuration     *prometheus.HistogramVec
	GatewayErrors       *prometheus.CounterVec
	CircuitBreakerState *prometheus.GaugeVec

	// Reaper metrics
	SweepsTotal   *prometheus.CounterVec
	SweepJobs     *prometheus.CounterVec
	SweepDuration prometheus.Histogram

	// Webhook metrics
	WebhooksTotal *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Worker metrics
	WorkerMessagesProcessed  *prometheus.CounterVec
	WorkerProcessingDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics against the given registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := prometheus.WrapRegistererWith(nil, reg)

	m := &Metrics{
		JobTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_transitions_total",
				Help:      "Total number of job state transitions by kind and target state",
			},
			[]string{"kind", "state"},
		),
		ApplyFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refund_apply_failures_total",
				Help:      "Total number of failed refund apply attempts",
			},
			[]string{"terminal"},
		),
		LockWaitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transaction_lock_wait_seconds",
				Help:      "Time spent waiting for the transaction lock",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
		),
		LockTimeoutsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transaction_lock_timeouts_total",
				Help:      "Total number of transaction lock timeouts",
			},
		),
		GatewayRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_requests_total",
				Help:      "Total number of gateway requests by operation and result",
			},
			[]string{"operation", "result"},
		),
		GatewayDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "gateway_request_duration_seconds",
				Help:      "Gateway request duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
			},
			[]string{"operation"},
		),
		GatewayErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_errors_total",
				Help:      "Total number of failed gateway calls made by job engines",
			},
			[]string{"kind", "operation", "class"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
		SweepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reaper_sweeps_total",
				Help:      "Total number of reaper sweeps by outcome",
			},
			[]string{"outcome"},
		),
		SweepJobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reaper_jobs_total",
				Help:      "Total number of jobs advanced by the reaper",
			},
			[]string{"result"},
		),
		SweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reaper_sweep_duration_seconds",
				Help:      "Reaper sweep duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
		),
		WebhooksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhooks_total",
				Help:      "Total number of processed webhook notifications",
			},
			[]string{"entity", "result"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		WorkerMessagesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_messages_processed_total",
				Help:      "Total number of worker messages processed",
			},
			[]string{"stream", "status"},
		),
		WorkerProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "worker_processing_duration_seconds",
				Help:      "Worker message processing duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"stream"},
		),
	}

	factory.MustRegister(
		m.JobTransitions,
		m.ApplyFailures,
		m.LockWaitDuration,
		m.LockTimeoutsTotal,
		m.GatewayRequests,
		m.GatewayDuration,
		m.GatewayErrors,
		m.CircuitBreakerState,
		m.SweepsTotal,
		m.SweepJobs,
		m.SweepDuration,
		m.WebhooksTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.WorkerMessagesProcessed,
		m.WorkerProcessingDuration,
	)

	return m
}

// JobStateChanged counts a persisted job transition.
func (m *Metrics) JobStateChanged(kind job.Kind, state job.State) {
	m.JobTransitions.WithLabelValues(string(kind), string(state)).Inc()
}

// GatewayCallFailed counts a failed gateway call of a job engine.
func (m *Metrics) GatewayCallFailed(kind job.Kind, operation string, classified bool) {
	class := "transient"
	if classified {
		class = "client"
	}
	m.GatewayErrors.WithLabelValues(string(kind), operation, class).Inc()
}

func (m *Metrics) ApplyAttemptFailed(terminal bool) {
	m.ApplyFailures.WithLabelValues(strconv.FormatBool(terminal)).Inc()
}

func (m *Metrics) WebhookHandled(entity, result string) {
	m.WebhooksTotal.WithLabelValues(entity, result).Inc()
}

// ObserveSweep records the outcome of one reaper sweep.
func (m *Metrics) ObserveSweep(processed, failed int, interrupted bool, took time.Duration, err error) {
	outcome := "completed"
	switch {
	case err != nil:
		outcome = "error"
	case interrupted:
		outcome = "interrupted"
	}
	m.SweepsTotal.WithLabelValues(outcome).Inc()
	m.SweepJobs.WithLabelValues("ok").Add(float64(processed - failed))
	m.SweepJobs.WithLabelValues("failed").Add(float64(failed))
	m.SweepDuration.Observe(took.Seconds())
}

// ObserveLockWait records how long a caller waited for a transaction lock.
func (m *Metrics) ObserveLockWait(waited time.Duration, timedOut bool) {
	m.LockWaitDuration.Observe(waited.Seconds())
	if timedOut {
		m.LockTimeoutsTotal.Inc()
	}
}

// ObserveGatewayCall records one gateway HTTP call.
func (m *Metrics) ObserveGatewayCall(operation, result string, took time.Duration) {
	m.GatewayRequests.WithLabelValues(operation, result).Inc()
	m.GatewayDuration.WithLabelValues(operation).Observe(took.Seconds())
}

// ObserveBreakerState records a circuit breaker state change.
func (m *Metrics) ObserveBreakerState(name string, state int) {
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}
