package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	profiles *prometheus.CounterVec
	checks   *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddProfileOutcome counts profiles handled by statement runs, by run type and
// outcome (generated, skipped, error).
func (m *Metrics) AddProfileOutcome(runType, outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.profiles.WithLabelValues(runType, outcome).Add(float64(count))
}

// AddCheckResult counts automated checklist verifications by step key and outcome.
func (m *Metrics) AddCheckResult(key, outcome string) {
	if m == nil {
		return
	}
	m.checks.WithLabelValues(key, outcome).Inc()
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arstatement_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arstatement_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arstatement_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	profiles := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arstatement_run_profiles_total",
		Help: "Profiles processed by statement runs grouped by run type and outcome.",
	}, []string{"run_type", "outcome"})
	checks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arstatement_checklist_checks_total",
		Help: "Automated close checklist verifications grouped by step key and outcome.",
	}, []string{"key", "outcome"})
	registerer.MustRegister(runs, failures, duration, profiles, checks)
	return &Metrics{runs: runs, failures: failures, duration: duration, profiles: profiles, checks: checks}
}
