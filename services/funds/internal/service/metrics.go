package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	EntriesAppended  *prometheus.CounterVec
	LockOperations   *prometheus.CounterVec
	LockDuration     *prometheus.HistogramVec
	WalletMutations  *prometheus.CounterVec
	BalanceLookups   *prometheus.CounterVec
	RebuildsTotal    *prometheus.CounterVec
	Transactions     *prometheus.CounterVec
	OperationLatency *prometheus.HistogramVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		EntriesAppended: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "funds_ledger_entries_total",
				Help: "Total ledger entries appended.",
			},
			[]string{"entry_type"},
		),
		LockOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "funds_lock_operations_total",
				Help: "Total funds lock operations by outcome.",
			},
			[]string{"operation", "outcome"},
		),
		LockDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "funds_lock_duration_seconds",
				Help:    "Time a funds lock spent in LOCKED before it closed.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600, 86400},
			},
			[]string{"status"},
		),
		WalletMutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "funds_wallet_mutations_total",
				Help: "Total wallet credits and debits.",
			},
			[]string{"operation", "status"},
		),
		BalanceLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "funds_balance_lookups_total",
				Help: "Total balance summary lookups.",
			},
			[]string{"source"},
		),
		RebuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "funds_wallet_rebuilds_total",
				Help: "Total wallet rebuilds from the ledger.",
			},
			[]string{"result"},
		),
		Transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "funds_transaction_operations_total",
				Help: "Total deposit and withdrawal transaction operations by outcome.",
			},
			[]string{"operation", "outcome"},
		),
		OperationLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "funds_operation_duration_seconds",
				Help:    "Funds operation duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}

	registry.MustRegister(
		m.EntriesAppended,
		m.LockOperations,
		m.LockDuration,
		m.WalletMutations,
		m.BalanceLookups,
		m.RebuildsTotal,
		m.Transactions,
		m.OperationLatency,
	)
	return m
}

func (m *Metrics) IncEntry(entryType string) {
	if m == nil {
		return
	}
	m.EntriesAppended.WithLabelValues(entryType).Inc()
}

func (m *Metrics) IncLockOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.LockOperations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) ObserveLockDuration(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.LockDuration.WithLabelValues(status).Observe(d.Seconds())
}

func (m *Metrics) IncWalletMutation(operation, status string) {
	if m == nil {
		return
	}
	m.WalletMutations.WithLabelValues(operation, status).Inc()
}

func (m *Metrics) IncBalanceLookup(source string) {
	if m == nil {
		return
	}
	m.BalanceLookups.WithLabelValues(source).Inc()
}

func (m *Metrics) IncRebuild(result string) {
	if m == nil {
		return
	}
	m.RebuildsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) IncTransaction(operation, outcome string) {
	if m == nil {
		return
	}
	m.Transactions.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) ObserveOperation(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.OperationLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
