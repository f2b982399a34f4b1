package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	TotalRecoveryRunsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odf_mon_recovery_runs_total",
		Help: "ODF Monitor Recovery metric that keeps track of the total number of recovery runs started",
	})
	CompletedRecoveryRunsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odf_mon_recovery_runs_success",
		Help: "ODF Monitor Recovery metric that keeps track of the total number of recovery runs that completed every phase",
	})
	FailedRecoveryRunsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odf_mon_recovery_runs_failed",
		Help: "ODF Monitor Recovery metric that keeps track of the total number of failed recovery runs, including the phase the run failed in",
	}, []string{"phase"})
	PhaseDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odf_mon_recovery_phase_duration_seconds",
		Help:    "ODF Monitor Recovery metric that records how long each recovery phase took to complete",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"phase"})

	metricsList = []prometheus.Collector{
		TotalRecoveryRunsCounter,
		CompletedRecoveryRunsCounter,
		FailedRecoveryRunsCounter,
		PhaseDurationHistogram,
	}
)

// RegisterMetrics drops the existing registry and creates a new empty one. Then it proceeds
// to add the metrics for the recovery tool
func RegisterMetrics() {
	// Remove default metrics
	metrics.Registry = prometheus.NewRegistry()
	for _, metric := range metricsList {
		metrics.Registry.MustRegister(metric)
	}
}

// IncrementFailedRecoveryRuns adds a new metric to the failed runs counter with the phase it failed in
func IncrementFailedRecoveryRuns(phase string) {
	FailedRecoveryRunsCounter.With(prometheus.Labels{"phase": phase}).Inc()
}

// ObservePhaseDuration records the wall-clock duration of a completed phase
func ObservePhaseDuration(phase string, elapsed time.Duration) {
	PhaseDurationHistogram.With(prometheus.Labels{"phase": phase}).Observe(elapsed.Seconds())
}
