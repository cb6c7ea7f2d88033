package middleware

import (
	"time"

	"mscwaf/waf"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Transaction outcomes, used as the outcome label.
const (
	OutcomePassed     = "passed"
	OutcomeIntervened = "intervened"
	OutcomeFailed     = "failed"
)

// Metrics contains Prometheus metrics for the middleware.
type Metrics struct {
	transactions  *prometheus.CounterVec
	interventions *prometheus.CounterVec
	duration      *prometheus.HistogramVec
}

// NewMetrics creates the middleware collectors and registers them with reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		transactions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mscwaf_transactions_total",
				Help: "Total number of request/response cycles inspected, by outcome",
			},
			[]string{"outcome"},
		),

		interventions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mscwaf_interventions_total",
				Help: "Total number of engine interventions, by the phase that raised them",
			},
			[]string{"phase"},
		),

		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mscwaf_transaction_duration_seconds",
				Help:    "Duration of a whole inspected cycle, including the origin handler",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16), // 100µs to 3.2s
			},
			[]string{"outcome"},
		),
	}
}

// RecordTransaction records a finished cycle.
func (m *Metrics) RecordTransaction(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordIntervention records an intervention raised in phase p.
func (m *Metrics) RecordIntervention(p waf.Phase) {
	if m == nil {
		return
	}
	m.interventions.WithLabelValues(p.String()).Inc()
}
