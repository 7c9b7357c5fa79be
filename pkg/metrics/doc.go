/*
Package metrics exposes burrow's Prometheus metrics and component health.

All collectors are package-level variables registered with the default
registry in init(), so any package can record into them without plumbing.
Handler serves them on /metrics; HealthHandler and ReadyHandler serve /health
and /ready from the component health registry.

# Metrics Catalog

Lifecycle:

	burrow_containers_total{state}              gauge, refreshed by Collector
	burrow_state_transitions_total{from,to}     counter
	burrow_operation_duration_seconds{operation} histogram
	burrow_operation_errors_total{operation}    counter
	burrow_crash_restarts_total                 counter
	burrow_runtime_exits_total{outcome}         counter (stopped, failed)

Plugins:

	burrow_hook_duration_seconds{plugin,stage}  histogram
	burrow_hook_failures_total{plugin,stage}    counter

Work queue:

	burrow_workqueue_depth                      gauge
	burrow_workqueue_wait_seconds               histogram

Network:

	burrow_addresses_allocated                  gauge
	burrow_rule_sets_applied                    gauge

# Health

Components report themselves with UpdateComponent. /health is unhealthy when
any registered component is; /ready waits for the critical set (runtime,
network and workqueue by default, see SetCritical).

# Usage

	timer := metrics.NewTimer()
	err := m.CreateAndStart(ctx, id, bundle, cfg)
	timer.ObserveDurationVec(metrics.OperationDuration, "create")
	if err != nil {
		metrics.OperationErrors.WithLabelValues("create").Inc()
	}
*/
package metrics
