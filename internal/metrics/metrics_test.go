package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SaleFinalized(10 * time.Millisecond)
	m.SaleFinalized(20 * time.Millisecond)
	m.FiscalCall("nfce", "submit", "accepted", time.Second)
	m.DeadLettered("cfe-sat")
	m.SetBreakerState("nfce", 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SalesFinalized))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FiscalOutcomes.WithLabelValues("nfce", "submit", "accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FiscalDeadLetter.WithLabelValues("cfe-sat")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("nfce")))
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SaleFinalized(time.Millisecond)
		m.SaleCancelled()
		m.FiscalCall("nfce", "submit", "accepted", time.Millisecond)
		m.DeadLettered("nfce")
		m.SetBreakerState("nfce", 0)
		m.Sweep("ok")
	})
}
