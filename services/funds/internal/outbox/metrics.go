package outbox

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Published    *prometheus.CounterVec
	Failures     *prometheus.CounterVec
	DeadLettered prometheus.Counter
	Backlog      prometheus.Gauge
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		Published: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "funds_outbox_published_total",
				Help: "Total outbox events published.",
			},
			[]string{"event_type"},
		),
		Failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "funds_outbox_failures_total",
				Help: "Total outbox publish failures.",
			},
			[]string{"event_type"},
		),
		DeadLettered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "funds_outbox_dead_lettered_total",
				Help: "Total outbox events sent to the dead-letter topic.",
			},
		),
		Backlog: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "funds_outbox_backlog",
				Help: "Unpublished outbox events after the last relay pass.",
			},
		),
	}

	registry.MustRegister(m.Published, m.Failures, m.DeadLettered, m.Backlog)
	return m
}

func (m *Metrics) incPublished(eventType string) {
	if m == nil {
		return
	}
	m.Published.WithLabelValues(eventType).Inc()
}

func (m *Metrics) incFailure(eventType string) {
	if m == nil {
		return
	}
	m.Failures.WithLabelValues(eventType).Inc()
}

func (m *Metrics) incDeadLettered() {
	if m == nil {
		return
	}
	m.DeadLettered.Inc()
}

func (m *Metrics) setBacklog(n int64) {
	if m == nil {
		return
	}
	m.Backlog.Set(float64(n))
}
