package engine

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agentcore"

var (
	// eventsReceived counts events submitted to the queue, by priority.
	eventsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Total number of events submitted to the engine queue",
		},
		[]string{"priority"},
	)

	// eventsProcessed counts events the loop finished with, by outcome.
	eventsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_processed_total",
			Help:      "Total number of events processed by the engine loop",
		},
		[]string{"status"}, // status: success, error, unmatched
	)

	// workflowExecutions counts executor runs, by workflow and outcome.
	workflowExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_executions_total",
			Help:      "Total number of workflow executor runs",
		},
		[]string{"workflow", "status"}, // status: success, error
	)

	// workflowDuration is a histogram of executor run duration in seconds.
	workflowDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_execution_seconds",
			Help:      "Histogram of workflow executor run duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"workflow"},
	)

	// queueDepth is the number of events currently waiting in the queue.
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Number of events currently waiting in the queue",
		},
	)

	// schedulesActive is the number of schedules with in-memory timers armed.
	schedulesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "schedules_active",
			Help:      "Number of active schedules with armed timers",
		},
	)

	// scheduleFires counts trigger events observed by the engine.
	scheduleFires = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_fires_total",
			Help:      "Total number of schedule trigger events received",
		},
	)
)

// allMetrics lists every collector this package exposes.
var allMetrics = []prometheus.Collector{
	eventsReceived,
	eventsProcessed,
	workflowExecutions,
	workflowDuration,
	queueDepth,
	schedulesActive,
	scheduleFires,
}

// SetSchedulesActive records the current number of armed schedule timers.
// The scheduler does not export metrics itself; the application reports the
// count here.
func SetSchedulesActive(n int) {
	schedulesActive.Set(float64(n))
}

// MetricsHandler returns an http.Handler serving the engine metrics along
// with Go runtime and process collectors.
func MetricsHandler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(allMetrics...)
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
