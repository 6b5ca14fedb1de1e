// Package metrics holds the Prometheus instruments of the sale core. All
// methods are safe on a nil *Metrics, so components can run unobserved.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	SalesFinalized   prometheus.Counter
	SalesCancelled   prometheus.Counter
	FinalizeLatency  prometheus.Histogram
	FiscalOutcomes   *prometheus.CounterVec
	FiscalLatency    *prometheus.HistogramVec
	FiscalDeadLetter *prometheus.CounterVec
	BreakerState     *prometheus.GaugeVec
	RetrySweeps      *prometheus.CounterVec
}

// New registers every instrument on reg. Pass prometheus.DefaultRegisterer in
// production and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SalesFinalized: f.NewCounter(prometheus.CounterOpts{
			Name: "pdv_sales_finalized_total",
			Help: "Sales finalized",
		}),
		SalesCancelled: f.NewCounter(prometheus.CounterOpts{
			Name: "pdv_sales_cancelled_total",
			Help: "Sales cancelled",
		}),
		FinalizeLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "pdv_sale_finalize_duration_seconds",
			Help:    "Duration of the finalize transaction",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		FiscalOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pdv_fiscal_outcomes_total",
			Help: "Fiscal transport outcomes by kind, operation and outcome",
		}, []string{"kind", "op", "outcome"}),
		FiscalLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pdv_fiscal_call_duration_seconds",
			Help:    "Duration of fiscal transport calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"kind", "op"}),
		FiscalDeadLetter: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pdv_fiscal_dead_lettered_total",
			Help: "Fiscal documents that exhausted automatic attempts",
		}, []string{"kind"}),
		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pdv_fiscal_breaker_state",
			Help: "Circuit breaker state per transport (0 closed, 1 open, 2 half-open)",
		}, []string{"name"}),
		RetrySweeps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pdv_fiscal_retry_sweeps_total",
			Help: "Retry sweep runs by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) SaleFinalized(d time.Duration) {
	if m != nil {
		m.SalesFinalized.Inc()
		m.FinalizeLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) SaleCancelled() {
	if m != nil {
		m.SalesCancelled.Inc()
	}
}

// FiscalCall records one transport call and its outcome
// ("accepted", "rejected", "transport", "timeout", "unavailable").
func (m *Metrics) FiscalCall(kind, op, outcome string, d time.Duration) {
	if m != nil {
		m.FiscalOutcomes.WithLabelValues(kind, op, outcome).Inc()
		m.FiscalLatency.WithLabelValues(kind, op).Observe(d.Seconds())
	}
}

func (m *Metrics) DeadLettered(kind string) {
	if m != nil {
		m.FiscalDeadLetter.WithLabelValues(kind).Inc()
	}
}

// SetBreakerState takes the numeric CBState.
func (m *Metrics) SetBreakerState(name string, state int) {
	if m != nil {
		m.BreakerState.WithLabelValues(name).Set(float64(state))
	}
}

func (m *Metrics) Sweep(result string) {
	if m != nil {
		m.RetrySweeps.WithLabelValues(result).Inc()
	}
}
