package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cron cycle results.
const (
	CycleRan     = "ran"
	CycleSkipped = "skipped"
)

// CronJobMetrics records maintenance cycles run by the cron worker.
type CronJobMetrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	cycles      *prometheus.CounterVec
}

func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	m := &CronJobMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cron_job_runs_total",
			Help: "Cron job runs by job and outcome.",
		}, []string{"job", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cron_job_duration_seconds",
			Help:    "Duration of cron job runs in seconds.",
			Buckets: []float64{.05, .1, .5, 1, 5, 15, 30, 60, 120},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cron_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run per job.",
		}, []string{"job"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cron_cycles_total",
			Help: "Maintenance cycles by whether this instance held the lock.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.runs, m.duration, m.lastSuccess, m.cycles)
	return m
}

// ObserveRun records one job run. outcome is OutcomeSuccess, OutcomeFailure
// or OutcomePanic.
func (m *CronJobMetrics) ObserveRun(job, outcome string, duration time.Duration) {
	if m == nil || m.runs == nil {
		return
	}
	job = normalizeLabel(job)
	m.runs.WithLabelValues(job, normalizeLabel(outcome)).Inc()
	m.duration.WithLabelValues(job).Observe(duration.Seconds())
	if outcome == OutcomeSuccess {
		m.lastSuccess.WithLabelValues(job).SetToCurrentTime()
	}
}

func (m *CronJobMetrics) IncCycle(result string) {
	if m == nil || m.cycles == nil {
		return
	}
	m.cycles.WithLabelValues(normalizeLabel(result)).Inc()
}
