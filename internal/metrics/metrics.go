package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the counters the order flow reports. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	OrdersCreated      *prometheus.CounterVec
	OrdersRejected     *prometheus.CounterVec
	StockLineFailures  *prometheus.CounterVec
	DuplicateInventory prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrdersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_orders_created_total",
			Help: "Orders persisted, by channel.",
		}, []string{"channel"}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_orders_rejected_total",
			Help: "Order placements that failed, by reason.",
		}, []string{"reason"}),
		StockLineFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_stock_line_failures_total",
			Help: "Line items whose reserve/release did not apply.",
		}, []string{"action"}),
		DuplicateInventory: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_inventory_duplicate_rows_total",
			Help: "Lookups that found more than one base-product inventory row.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.OrdersCreated, m.OrdersRejected, m.StockLineFailures, m.DuplicateInventory)
	}
	return m
}

func (m *Metrics) OrderCreated(channel string) {
	if m == nil {
		return
	}
	m.OrdersCreated.WithLabelValues(channel).Inc()
}

func (m *Metrics) OrderRejected(reason string) {
	if m == nil {
		return
	}
	m.OrdersRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) LineFailures(action string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.StockLineFailures.WithLabelValues(action).Add(float64(n))
}

func (m *Metrics) DuplicateRows() {
	if m == nil {
		return
	}
	m.DuplicateInventory.Inc()
}
