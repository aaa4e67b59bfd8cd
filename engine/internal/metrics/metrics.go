// Package metrics exposes engine counters to Prometheus and reports the
// engine's own process health.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricPrefix = "hamon_"

var (
	registerOnce sync.Once

	recordsWritten  *prometheus.CounterVec
	evaluations     *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	triggersCreated *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	healthChecks    *prometheus.CounterVec
	healthLatency   prometheus.Histogram
	jobDuration     *prometheus.HistogramVec
	bufferDepth     prometheus.Gauge
	processCPU      prometheus.Gauge
	processRSSBytes prometheus.Gauge
)

// Init registers the engine metrics with the default registry.
func Init() {
	registerOnce.Do(func() {
		recordsWritten = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "metric_records_written_total",
				Help: "Metric records written by telemetry kind",
			},
			[]string{"kind"},
		)
		evaluations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alarm_evaluations_total",
				Help: "Alarm evaluations by family and outcome",
			},
			[]string{"family", "outcome"},
		)
		transitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alarm_state_transitions_total",
				Help: "Alarm state transitions",
			},
			[]string{"from", "to"},
		)
		triggersCreated = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alarm_triggers_total",
				Help: "Alarm triggers written by new state",
			},
			[]string{"state"},
		)
		notifications = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_total",
				Help: "Trigger notifications by result",
			},
			[]string{"result"},
		)
		healthChecks = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "health_checks_total",
				Help: "Installation health checks by result",
			},
			[]string{"healthy"},
		)
		healthLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "health_check_latency_seconds",
				Help:    "Installation frontend response time",
				Buckets: prometheus.DefBuckets,
			},
		)
		jobDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "job_duration_seconds",
				Help:    "Job run duration",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"job"},
		)
		bufferDepth = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "metric_buffer_depth",
			Help: "Metric records waiting in the write buffer",
		})
		processCPU = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "process_cpu_percent",
			Help: "Engine process CPU usage",
		})
		processRSSBytes = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "process_rss_bytes",
			Help: "Engine process resident memory",
		})

		prometheus.MustRegister(
			recordsWritten,
			evaluations,
			transitions,
			triggersCreated,
			notifications,
			healthChecks,
			healthLatency,
			jobDuration,
			bufferDepth,
			processCPU,
			processRSSBytes,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRecords counts metric records written for a telemetry kind.
func ObserveRecords(kind string, n int) {
	if recordsWritten != nil && n > 0 {
		recordsWritten.WithLabelValues(kind).Add(float64(n))
	}
}

// ObserveEvaluation counts one alarm evaluation.
func ObserveEvaluation(family, outcome string) {
	if evaluations != nil {
		evaluations.WithLabelValues(family, outcome).Inc()
	}
}

// ObserveTransition counts one state transition.
func ObserveTransition(from, to string) {
	if transitions != nil {
		transitions.WithLabelValues(from, to).Inc()
	}
}

// ObserveTrigger counts one trigger row written.
func ObserveTrigger(state string) {
	if triggersCreated != nil {
		triggersCreated.WithLabelValues(state).Inc()
	}
}

// ObserveNotification counts one notification attempt.
func ObserveNotification(result string) {
	if result == "" {
		result = "unknown"
	}
	if notifications != nil {
		notifications.WithLabelValues(result).Inc()
	}
}

// ObserveHealthCheck records the outcome of one frontend probe.
func ObserveHealthCheck(healthy bool, responseTime time.Duration) {
	label := "false"
	if healthy {
		label = "true"
	}
	if healthChecks != nil {
		healthChecks.WithLabelValues(label).Inc()
	}
	if healthLatency != nil {
		healthLatency.Observe(responseTime.Seconds())
	}
}

// ObserveJob records the duration of one job run.
func ObserveJob(job string, duration time.Duration) {
	if jobDuration != nil {
		jobDuration.WithLabelValues(job).Observe(duration.Seconds())
	}
}

// SetBufferDepth reports the write buffer length.
func SetBufferDepth(n int64) {
	if bufferDepth != nil {
		bufferDepth.Set(float64(n))
	}
}
