package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics records the outbox publisher's per-event outcomes.
type OutboxMetrics struct {
	events      *prometheus.CounterVec
	deadLetters *prometheus.CounterVec
	batch       prometheus.Histogram
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_events_total",
		Help: "Outbox events handled by event type and outcome.",
	}, []string{"event_type", "outcome"})
	deadLetters := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_dead_letters_total",
		Help: "Outbox events moved to the dead letter table by reason.",
	}, []string{"reason"})
	batch := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "outbox_batch_duration_seconds",
		Help:    "Time to publish and record one outbox batch.",
		Buckets: prometheus.DefBuckets,
	})
	reg.MustRegister(events, deadLetters, batch)
	return &OutboxMetrics{events: events, deadLetters: deadLetters, batch: batch}
}

// ObserveEvent counts one event with OutcomeSuccess, OutcomeRetry or
// OutcomeFailure.
func (m *OutboxMetrics) ObserveEvent(eventType, outcome string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

func (m *OutboxMetrics) IncDeadLetter(reason string) {
	if m == nil || m.deadLetters == nil {
		return
	}
	m.deadLetters.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *OutboxMetrics) ObserveBatch(elapsed time.Duration) {
	if m == nil || m.batch == nil {
		return
	}
	m.batch.Observe(elapsed.Seconds())
}
