package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "filterwatch_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	workerRuns    *prometheus.CounterVec
	workerLatency *prometheus.HistogramVec

	sessionsClosed   *prometheus.CounterVec
	sessionsRejected prometheus.Counter

	correctionsApplied prometheus.Counter
	discrepancyLast    *prometheus.GaugeVec

	syncAttempts *prometheus.CounterVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		workerRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "worker_runs_total",
				Help: "Total worker runs by worker and result",
			},
			[]string{"worker", "result"},
		)
		workerLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "worker_run_seconds",
				Help:    "Worker run duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"worker", "result"},
		)

		sessionsClosed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sessions_closed_total",
				Help: "Total closed runtime sessions by termination reason",
			},
			[]string{"reason"},
		)
		sessionsRejected = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "sessions_rejected_total",
				Help: "Total sessions dropped by the duration ceiling",
			},
		)

		correctionsApplied = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "runtime_corrections_total",
				Help: "Total daily summaries overwritten from metered runtime",
			},
		)
		discrepancyLast = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "runtime_discrepancy_seconds",
				Help: "Last observed runtime discrepancy per device",
			},
			[]string{"device"},
		)

		syncAttempts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sync_attempts_total",
				Help: "Total outbound sync attempts by result",
			},
			[]string{"result"},
		)

		prometheus.MustRegister(
			workerRuns,
			workerLatency,
			sessionsClosed,
			sessionsRejected,
			correctionsApplied,
			discrepancyLast,
			syncAttempts,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveWorkerRun records one worker pass.
func ObserveWorkerRun(worker, result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if workerRuns != nil {
		workerRuns.WithLabelValues(worker, result).Inc()
	}
	if workerLatency != nil {
		workerLatency.WithLabelValues(worker, result).Observe(duration.Seconds())
	}
}

// IncSessionClosed increments the closed-session counter.
func IncSessionClosed(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if sessionsClosed != nil {
		sessionsClosed.WithLabelValues(reason).Inc()
	}
}

// IncSessionRejected increments the rejected-session counter.
func IncSessionRejected() {
	if sessionsRejected != nil {
		sessionsRejected.Inc()
	}
}

// IncCorrectionApplied increments the correction counter.
func IncCorrectionApplied() {
	if correctionsApplied != nil {
		correctionsApplied.Inc()
	}
}

// SetDiscrepancy records the last observed discrepancy for a device.
func SetDiscrepancy(device string, seconds int64) {
	if device == "" {
		return
	}
	if discrepancyLast != nil {
		discrepancyLast.WithLabelValues(device).Set(float64(seconds))
	}
}

// IncSyncAttempt increments the outbound sync counter.
func IncSyncAttempt(result string) {
	if result == "" {
		result = "unknown"
	}
	if syncAttempts != nil {
		syncAttempts.WithLabelValues(result).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
