package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TasksDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_tasks_dispatched_total",
			Help: "Total number of send tasks dispatched per tenant",
		},
		[]string{"tenant"},
	)

	TasksCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_tasks_completed_total",
			Help: "Total number of send tasks settled per tenant and outcome",
		},
		[]string{"tenant", "outcome"},
	)

	QueuePending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "broadcast_queue_pending",
			Help: "Tasks waiting or in flight per tenant queue",
		},
		[]string{"tenant"},
	)

	QueueInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "broadcast_queue_in_flight",
			Help: "Tasks currently running per tenant queue",
		},
		[]string{"tenant"},
	)

	RateGateDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_rate_gate_denials_total",
			Help: "Dispatch attempts deferred by the per-tenant rate gate",
		},
		[]string{"tenant"},
	)

	BroadcastJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_jobs_total",
			Help: "Broadcast jobs per tenant and lifecycle state",
		},
		[]string{"tenant", "state"},
	)

	ProviderRequests = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broadcast_provider_request_seconds",
			Help:    "Latency of messaging provider send calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Current RabbitMQ broadcast request queue depth per tenant",
		},
		[]string{"tenant"},
	)
)

var initOnce sync.Once

// Init registers metrics with Prometheus
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			TasksDispatched,
			TasksCompleted,
			QueuePending,
			QueueInFlight,
			RateGateDenials,
			BroadcastJobs,
			ProviderRequests,
			QueueDepth,
		)
	})
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
