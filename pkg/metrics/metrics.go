package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pipeline state
	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trainyard_tasks_total",
			Help: "Total number of tasks by status",
		},
		[]string{"status"},
	)

	AssetsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trainyard_assets_total",
			Help: "Total number of assets offering a capability",
		},
		[]string{"capability"},
	)

	AssetReservations = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trainyard_asset_reservations",
			Help: "Reserved slots per asset and capability",
		},
		[]string{"asset", "capability"},
	)

	FreeSlots = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trainyard_free_slots",
			Help: "Unreserved slots across enabled assets, per capability",
		},
		[]string{"capability"},
	)

	// Scheduler metrics
	SchedulerTickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trainyard_scheduler_tick_duration_seconds",
			Help:    "Duration of one scheduling cycle",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"capability"},
	)

	AllocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainyard_allocations_total",
			Help: "Allocation attempts by capability and outcome",
		},
		[]string{"capability", "outcome"},
	)

	JobsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainyard_jobs_submitted_total",
			Help: "Remote jobs submitted",
		},
		[]string{"capability"},
	)

	JobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainyard_jobs_finished_total",
			Help: "Remote jobs finished by outcome",
		},
		[]string{"capability", "outcome"},
	)

	// Monitor metrics
	MonitorsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trainyard_monitors_active",
			Help: "Status monitors currently watching a job",
		},
		[]string{"capability"},
	)

	PollErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainyard_poll_errors_total",
			Help: "Failed status polls",
		},
		[]string{"capability"},
	)

	// Rollback and recovery
	RollbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainyard_rollbacks_total",
			Help: "Rollbacks by target status",
		},
		[]string{"target"},
	)

	RecoveryActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainyard_recovery_actions_total",
			Help: "Startup recovery decisions by action",
		},
		[]string{"action"},
	)

	CounterCorrections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trainyard_counter_corrections_total",
			Help: "Asset counters corrected by the audit",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainyard_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trainyard_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(AssetsTotal)
	prometheus.MustRegister(AssetReservations)
	prometheus.MustRegister(FreeSlots)
	prometheus.MustRegister(SchedulerTickDuration)
	prometheus.MustRegister(AllocationsTotal)
	prometheus.MustRegister(JobsSubmitted)
	prometheus.MustRegister(JobsFinished)
	prometheus.MustRegister(MonitorsActive)
	prometheus.MustRegister(PollErrors)
	prometheus.MustRegister(RollbacksTotal)
	prometheus.MustRegister(RecoveryActions)
	prometheus.MustRegister(CounterCorrections)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
