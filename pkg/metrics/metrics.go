package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Task metrics
	TaskWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "panda_task_wait_seconds",
			Help:    "Time spent waiting for OMS tasks to reach a terminal status",
			Buckets: []float64{30, 60, 120, 300, 600, 1200, 1800, 3600, 5400},
		},
		[]string{"operation"},
	)

	TasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panda_tasks_total",
			Help: "Total number of validated OMS tasks by operation and final status",
		},
		[]string{"operation", "status"},
	)

	TaskPollsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "panda_task_polls_total",
			Help: "Total number of task status requests",
		},
	)

	// Sequencer metrics
	StepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "panda_step_duration_seconds",
			Help:    "Deployment step duration in seconds",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
		},
		[]string{"step"},
	)

	StepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panda_steps_total",
			Help: "Total number of deployment steps by result (completed, skipped, failed)",
		},
		[]string{"step", "result"},
	)

	// Upgrade metrics
	UpgradeIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "panda_upgrade_index",
			Help: "Index of the most recent blue/green upgrade",
		},
	)

	// Diagnostics metrics
	SupportBundlesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panda_support_bundles_total",
			Help: "Total number of support bundle collections by result",
		},
		[]string{"result"},
	)
)

// Step results
const (
	ResultCompleted = "completed"
	ResultSkipped   = "skipped"
	ResultFailed    = "failed"
)

func init() {
	prometheus.MustRegister(TaskWaitDuration)
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(TaskPollsTotal)
	prometheus.MustRegister(StepDuration)
	prometheus.MustRegister(StepsTotal)
	prometheus.MustRegister(UpgradeIndex)
	prometheus.MustRegister(SupportBundlesTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// WriteTextfile writes a snapshot of every registered metric to path in the
// text exposition format, for pickup by a node exporter textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
