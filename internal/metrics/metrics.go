// Package metrics exposes the scheduler's Prometheus collectors, grouped by
// event family: poll ticks, task runs, persistence, and scheduler lifecycle.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Poll-level metrics

	PollsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cronsched",
		Name:      "polls_total",
		Help:      "Total number of poll ticks that actually ran (not skipped for re-entrancy).",
	})

	PollSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cronsched",
		Name:      "poll_skipped_total",
		Help:      "Total poll ticks skipped, by reason.",
	}, []string{"reason"})

	PollDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cronsched",
		Name:      "poll_duration_seconds",
		Help:      "Wall time of one poll tick, from snapshot until every task it dispatched has finished.",
		Buckets:   prometheus.DefBuckets,
	})

	TasksDueTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cronsched",
		Name:      "tasks_due_total",
		Help:      "Total tasks found due in a poll, by mode (cron, retry).",
	}, []string{"mode"})

	TasksSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cronsched",
		Name:      "tasks_skipped_total",
		Help:      "Total tasks skipped in a poll, by reason.",
	}, []string{"reason"})

	// Task-run metrics

	TaskRunDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cronsched",
		Name:      "task_run_duration_seconds",
		Help:      "Duration of a single task callback invocation.",
		Buckets:   []float64{.005, .01, .05, .1, .5, 1, 5, 10, 30, 60, 300},
	}, []string{"name", "mode"})

	TaskRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cronsched",
		Name:      "task_runs_total",
		Help:      "Total task run attempts, by outcome (success, failure).",
	}, []string{"name", "outcome"})

	TasksRunningGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cronsched",
		Name:      "tasks_running",
		Help:      "Number of task callbacks currently executing.",
	})

	// Persistence metrics

	StateWriteFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cronsched",
		Name:      "state_write_failures_total",
		Help:      "Total persistence write failures (non-fatal; scheduler continues with in-memory state).",
	})

	StateMigrationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cronsched",
		Name:      "state_migrations_total",
		Help:      "Total runtime-state schema migrations performed on load.",
	}, []string{"from", "to"})

	// Scheduler lifecycle

	SchedulerStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cronsched",
		Name:      "start_time_seconds",
		Help:      "Unix timestamp when the scheduler started.",
	})

	TasksRegistered = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cronsched",
		Name:      "tasks_registered",
		Help:      "Number of tasks currently registered in the task table.",
	})
)

// Register adds every collector to the default Prometheus registry. Call
// once at process startup.
func Register() {
	prometheus.MustRegister(
		PollsTotal,
		PollSkippedTotal,
		PollDuration,
		TasksDueTotal,
		TasksSkippedTotal,
		TaskRunDuration,
		TaskRunsTotal,
		TasksRunningGauge,
		StateWriteFailuresTotal,
		StateMigrationsTotal,
		SchedulerStartTime,
		TasksRegistered,
	)
}

// NewServer returns an HTTP server exposing /metrics on addr.
func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
