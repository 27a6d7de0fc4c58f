package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Settlement outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeRetry   = "retry"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
	OutcomePanic   = "panic"
)

// SettlementMetrics records settlement worker activity.
type SettlementMetrics struct {
	duration *prometheus.HistogramVec
	outcomes *prometheus.CounterVec
	stages   *prometheus.CounterVec
	gateway  *prometheus.CounterVec
	inFlight prometheus.Gauge
}

// NewSettlementMetrics registers the settlement metrics on the provided registerer.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_job_duration_seconds",
		Help:    "Duration of settlement job attempts in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_job_outcomes_total",
		Help: "Settlement job attempts by outcome.",
	}, []string{"outcome"})
	stages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_stage_completed_total",
		Help: "Settlement stages completed.",
	}, []string{"stage"})
	gateway := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_requests_total",
		Help: "Payment gateway requests by operation and result.",
	}, []string{"operation", "result"})
	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "settlement_jobs_in_flight",
		Help: "Settlement jobs currently being processed.",
	})
	reg.MustRegister(duration, outcomes, stages, gateway, inFlight)
	return &SettlementMetrics{
		duration: duration,
		outcomes: outcomes,
		stages:   stages,
		gateway:  gateway,
		inFlight: inFlight,
	}
}

// ObserveAttempt records one job attempt and its outcome.
func (m *SettlementMetrics) ObserveAttempt(outcome string, duration time.Duration) {
	if m == nil || m.outcomes == nil {
		return
	}
	outcome = normalizeLabel(outcome)
	m.outcomes.WithLabelValues(outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// IncStage counts a completed stage.
func (m *SettlementMetrics) IncStage(stage string) {
	if m == nil || m.stages == nil {
		return
	}
	m.stages.WithLabelValues(normalizeLabel(stage)).Inc()
}

// IncGatewayRequest counts a gateway call.
func (m *SettlementMetrics) IncGatewayRequest(operation string, ok bool) {
	if m == nil || m.gateway == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.gateway.WithLabelValues(normalizeLabel(operation), result).Inc()
}

// TrackInFlight increments the in-flight gauge and returns its decrement.
func (m *SettlementMetrics) TrackInFlight() func() {
	if m == nil || m.inFlight == nil {
		return func() {}
	}
	m.inFlight.Inc()
	return m.inFlight.Dec
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
