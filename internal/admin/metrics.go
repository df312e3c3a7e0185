// Package admin exposes the node's operator-facing surface (spec.md §6.5,
// supplemented): Prometheus metrics and a liveness probe on a side port,
// adapted from the teacher's runtime/metrics/prometheus exporter.
package admin

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "spearlet"

var (
	tasksActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tasks_active",
		Help:      "Number of tasks currently registered and not yet stopped",
	})

	taskLifecycleTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "task_lifecycle_total",
		Help:      "Total task lifecycle transitions",
	}, []string{"event"}) // event: created, started, stopped, failed

	hostcallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "hostcall_duration_seconds",
		Help:      "Duration of hostcall dispatch in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	hostcallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "hostcalls_total",
		Help:      "Total hostcall invocations",
	}, []string{"method", "status"}) // status: ok, error, not_found

	pendingRequestsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_requests_active",
		Help:      "Number of outstanding host->guest requests awaiting a response",
	})

	streamChannelsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stream_channels_active",
		Help:      "Number of open stream channels across all tasks",
	})

	fdHandlesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "fd_handles_active",
		Help:      "Number of open FD handles across all tasks",
	})

	controlHeartbeatsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "control_heartbeats_total",
		Help:      "Total heartbeats sent to SMS",
	}, []string{"status"}) // status: ok, error

	allMetrics = []prometheus.Collector{
		tasksActive,
		taskLifecycleTotal,
		hostcallDuration,
		hostcallsTotal,
		pendingRequestsActive,
		streamChannelsActive,
		fdHandlesActive,
		controlHeartbeatsTotal,
	}
)

// RecordTaskLifecycle records a task lifecycle transition and updates the
// active-task gauge accordingly.
func RecordTaskLifecycle(event string) {
	taskLifecycleTotal.WithLabelValues(event).Inc()
	switch event {
	case "created":
		tasksActive.Inc()
	case "stopped", "failed":
		tasksActive.Dec()
	}
}

// RecordHostcall records a hostcall dispatch outcome.
func RecordHostcall(method, status string, durationSeconds float64) {
	hostcallDuration.WithLabelValues(method).Observe(durationSeconds)
	hostcallsTotal.WithLabelValues(method, status).Inc()
}

// SetPendingRequests reports the current outstanding request count.
func SetPendingRequests(n int) {
	pendingRequestsActive.Set(float64(n))
}

// SetStreamChannelsActive reports the current open-stream count.
func SetStreamChannelsActive(n int) {
	streamChannelsActive.Set(float64(n))
}

// SetFDHandlesActive reports the current open-FD count.
func SetFDHandlesActive(n int) {
	fdHandlesActive.Set(float64(n))
}

// RecordHeartbeat records the outcome of a control-plane heartbeat.
func RecordHeartbeat(status string) {
	controlHeartbeatsTotal.WithLabelValues(status).Inc()
}
