package consumer

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Consumed   *prometheus.CounterVec
	Duplicates *prometheus.CounterVec
	Rejections *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		Consumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "funds_events_consumed_total",
				Help: "Total consumed events by topic and result.",
			},
			[]string{"topic", "result"},
		),
		Duplicates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "funds_events_duplicate_total",
				Help: "Total redelivered events skipped by the idempotency guard.",
			},
			[]string{"consumer"},
		),
		Rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "funds_events_rejected_total",
				Help: "Total events handled as business rejections.",
			},
			[]string{"consumer", "reason"},
		),
	}

	registry.MustRegister(m.Consumed, m.Duplicates, m.Rejections)
	return m
}

func (m *Metrics) incConsumed(topic, result string) {
	if m == nil {
		return
	}
	m.Consumed.WithLabelValues(topic, result).Inc()
}

func (m *Metrics) incDuplicate(consumer string) {
	if m == nil {
		return
	}
	m.Duplicates.WithLabelValues(consumer).Inc()
}

func (m *Metrics) incRejection(consumer, reason string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(consumer, reason).Inc()
}
