/*
Package metrics exposes trainyard's Prometheus metrics and process health.

Metrics are registered with the default registry at init and served by
Handler. The state gauges (tasks per status, assets per capability,
reservations per asset) are refreshed by a Collector every 15 seconds; the
counters and histograms are updated in place by the scheduler, monitor,
rollback and reconciler.

Timer wraps the common "measure and observe" pattern:

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.SchedulerTickDuration, "labeling")

HealthChecker aggregates component health for the /health and /ready
endpoints. The process is ready once storage, scheduler and api have
reported healthy.
*/
package metrics
