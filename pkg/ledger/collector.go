package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports a ledger as Prometheus metrics
type Collector struct {
	ledger *Ledger

	total         *prometheus.Desc
	byDestination *prometheus.Desc
}

// NewCollector creates a collector for l
func NewCollector(l *Ledger) *Collector {
	return &Collector{
		ledger: l,
		total: prometheus.NewDesc(
			"protoz_ledger_sends_total",
			"Send attempts that reached the transport boundary.",
			nil, nil,
		),
		byDestination: prometheus.NewDesc(
			"protoz_ledger_sends_by_destination",
			"Send attempts per destination address.",
			[]string{"location", "address"}, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.total
	ch <- c.byDestination
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.ledger.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.total, prometheus.CounterValue, float64(snap.Total))
	for _, e := range snap.Entries {
		ch <- prometheus.MustNewConstMetric(
			c.byDestination,
			prometheus.CounterValue,
			float64(e.Count),
			e.Address.Location.String(),
			e.Address.String(),
		)
	}
}
