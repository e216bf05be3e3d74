package catalog

import "github.com/prometheus/client_golang/prometheus"

// Metrics is optional everywhere; a nil *Metrics records nothing.
type Metrics struct {
	Writes        prometheus.Counter
	WriteFailures prometheus.Counter
	Products      prometheus.Gauge
	Notifications prometheus.Counter
	Refreshes     *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Writes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalog_writes_total",
			Help: "Catalog snapshots written to storage",
		}),
		WriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalog_write_failures_total",
			Help: "Catalog snapshots rejected by storage",
		}),
		Products: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "catalog_products",
			Help: "Products in the last written snapshot",
		}),
		Notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalog_notifications_total",
			Help: "Same-context change notifications sent",
		}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_reader_refreshes_total",
			Help: "Storefront reader refreshes by source and result",
		}, []string{"source", "result"}),
	}

	reg.MustRegister(m.Writes, m.WriteFailures, m.Products, m.Notifications, m.Refreshes)
	return m
}

func (m *Metrics) wrote(n int) {
	if m == nil {
		return
	}
	m.Writes.Inc()
	m.Products.Set(float64(n))
}

func (m *Metrics) writeFailed() {
	if m == nil {
		return
	}
	m.WriteFailures.Inc()
}

func (m *Metrics) notified() {
	if m == nil {
		return
	}
	m.Notifications.Inc()
}

func (m *Metrics) refreshed(source, result string) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(source, result).Inc()
}
