package sitepacer

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors of a monitor, partitioned by
// category. A nil *Metrics records nothing.
type Metrics struct {
	Latency    *prometheus.HistogramVec
	Delay      *prometheus.GaugeVec
	Decisions  *prometheus.CounterVec
	Calibrated *prometheus.GaugeVec
}

// NewMetrics registers the collectors with reg. Collectors already
// registered by another monitor are shared, so several monitors can export
// to one registry.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sitepacer",
			Name:      "response_latency_seconds",
			Help:      "Observed response latency",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"category"}),

		Delay: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sitepacer",
			Name:      "delay_seconds",
			Help:      "Current inter-request delay before jitter",
		}, []string{"category"}),

		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sitepacer",
			Name:      "decisions_total",
			Help:      "Slow-down and speed-up decisions",
		}, []string{"category", "decision"}),

		Calibrated: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sitepacer",
			Name:      "calibrated",
			Help:      "1 once the category finished burn-in",
		}, []string{"category"}),
	}

	var err error
	if m.Latency, err = register(reg, m.Latency); err != nil {
		return nil, err
	}
	if m.Delay, err = register(reg, m.Delay); err != nil {
		return nil, err
	}
	if m.Decisions, err = register(reg, m.Decisions); err != nil {
		return nil, err
	}
	if m.Calibrated, err = register(reg, m.Calibrated); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, returning the collector registered earlier under
// the same descriptor when there is one.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, err
}

func (m *Metrics) observe(category string, latency float64) {
	if m == nil {
		return
	}
	m.Latency.WithLabelValues(category).Observe(latency)
}

func (m *Metrics) calibrated(category string, delay float64) {
	if m == nil {
		return
	}
	m.Calibrated.WithLabelValues(category).Set(1)
	m.Delay.WithLabelValues(category).Set(delay)
}

func (m *Metrics) decided(category string, d Decision, delay float64) {
	if m == nil {
		return
	}
	if d != DecisionNone {
		m.Decisions.WithLabelValues(category, string(d)).Inc()
	}
	m.Delay.WithLabelValues(category).Set(delay)
}
