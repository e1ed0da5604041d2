// Package metrics holds the Prometheus collectors of the escrow service.
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	MonitorCycles      prometheus.Counter
	CycleDuration      prometheus.Histogram
	MonitoredAddresses prometheus.Gauge
	LedgerQueries      *prometheus.CounterVec
	DepositsDetected   *prometheus.CounterVec
	Commands           *prometheus.CounterVec
}

// New builds the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MonitorCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "escrow",
			Subsystem: "monitor",
			Name:      "cycles_total",
			Help:      "Deposit monitor cycles completed.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "escrow",
			Subsystem: "monitor",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one deposit monitor cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		MonitoredAddresses: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "escrow",
			Subsystem: "monitor",
			Name:      "addresses",
			Help:      "Addresses scanned in the last cycle.",
		}),
		LedgerQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Subsystem: "ledger",
			Name:      "queries_total",
			Help:      "Ledger indexer queries by network and result.",
		}, []string{"network", "result"}),
		DepositsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Subsystem: "monitor",
			Name:      "deposits_detected_total",
			Help:      "Deposits announced by network.",
		}, []string{"network"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Subsystem: "dispatcher",
			Name:      "commands_total",
			Help:      "Dispatched commands by kind and outcome.",
		}, []string{"command", "outcome"}),
	}
	reg.MustRegister(
		m.MonitorCycles,
		m.CycleDuration,
		m.MonitoredAddresses,
		m.LedgerQueries,
		m.DepositsDetected,
		m.Commands,
	)
	return m
}

// NewUnregistered is for tests and tools that never expose /metrics.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
