/*
Package metrics provides Prometheus instrumentation for panda runs.

Metrics are defined as package-level collectors and registered with the
default registry at init. A run is a batch job rather than a long-lived
server, so the registry is exported as a textfile (node exporter textfile
collector format). Handler serves the same registry for scraping while a
long command runs (panda --metrics-addr).

# Metrics

Task Tracker:
  - panda_task_wait_seconds{operation}: histogram of task wait time
  - panda_tasks_total{operation,status}: validated tasks by final status
  - panda_task_polls_total: task status requests

Sequencer:
  - panda_step_duration_seconds{step}: histogram of step duration
  - panda_steps_total{step,result}: completed, skipped or failed steps

Upgrade and diagnostics:
  - panda_upgrade_index: index of the latest blue/green upgrade
  - panda_support_bundles_total{result}: bundle collection outcomes

# Usage

Timing an operation:

	timer := metrics.NewTimer()
	err := step(ctx)
	timer.ObserveDurationVec(metrics.StepDuration, "create-cluster")

Flushing during a run:

	c := metrics.NewCollector(filepath.Join(logDir, "metrics.prom"), time.Minute)
	c.Start()
	defer c.Stop()

Stop writes one last snapshot, so the file always reflects the end state.
*/
package metrics
