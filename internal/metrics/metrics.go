// Package metrics exposes sale activity as Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"icosale/internal/sales"
)

// SaleMetrics records operation outcomes and committed sale events.
type SaleMetrics struct {
	operations     *prometheus.CounterVec
	unitsDeposited prometheus.Counter
	unitsSold      prometheus.Counter
	paymentsTotal  prometheus.Counter
}

var (
	_ sales.Emitter  = (*SaleMetrics)(nil)
	_ sales.Observer = (*SaleMetrics)(nil)
)

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *SaleMetrics {
	m := &SaleMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sale_operations_total",
			Help: "Count of sale operations by operation and result.",
		}, []string{"operation", "result"}),
		unitsDeposited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sale_units_deposited_total",
			Help: "Whole units deposited into holding accounts.",
		}),
		unitsSold: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sale_units_sold_total",
			Help: "Whole units transferred to buyers.",
		}),
		paymentsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sale_payments_lamports_total",
			Help: "Native currency paid to campaign admins, in lamports.",
		}),
	}
	reg.MustRegister(m.operations, m.unitsDeposited, m.unitsSold, m.paymentsTotal)
	return m
}

// ObserveOperation counts one operation outcome.
func (m *SaleMetrics) ObserveOperation(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = string(sales.Kind(err))
	}
	m.operations.WithLabelValues(op, result).Inc()
}

// Emit updates the volume counters from a committed event.
func (m *SaleMetrics) Emit(evt sales.Event) {
	if m == nil {
		return
	}
	switch evt.Type {
	case sales.EventTypeInitialized, sales.EventTypeToppedUp:
		m.unitsDeposited.Add(float64(evt.Units))
	case sales.EventTypePurchased:
		m.unitsSold.Add(float64(evt.Units))
		m.paymentsTotal.Add(float64(evt.Payment))
	}
}
