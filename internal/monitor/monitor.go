// Package monitor holds the platform's Prometheus instrumentation and the
// standalone metrics listener.
package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "workbench"

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Current number of session records.",
	})

	containerStartsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "container_starts_total",
		Help:      "Container launches attempted.",
	})

	containerStartErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "container_start_errors_total",
		Help:      "Container launches that failed.",
	})

	containerStartSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "container_start_seconds",
		Help:      "Latency of container launches, image pull included.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	CleanupTasksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cleanup_tasks_total",
		Help:      "Session cleanup tasks processed.",
	})

	CleanupFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cleanup_failures_total",
		Help:      "Session cleanup tasks that returned an error.",
	})

	QuotaRejections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "quota_rejections_total",
		Help:      "Writes rejected by the workspace quota.",
	})

	SignalsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signals_dispatched_total",
		Help:      "Kill signals dispatched into containers.",
	}, []string{"signal"})

	TerminalsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "terminals_active",
		Help:      "Open terminal websockets.",
	})

	OrphansReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orphans_reclaimed_total",
		Help:      "Record-less containers removed by the reaper.",
	})
)

// ObserveContainerStart records one launch attempt.
func ObserveContainerStart(d time.Duration, err error) {
	containerStartsTotal.Inc()
	if err != nil {
		containerStartErrors.Inc()
		return
	}
	containerStartSeconds.Observe(d.Seconds())
}
