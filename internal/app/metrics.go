package app

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/transfa/crypto-ledger-service/internal/domain"
)

// Metrics holds the Prometheus collectors for submission and reconciliation.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ticks          prometheus.Counter
	tickDuration   prometheus.Histogram
	outcomes       *prometheus.CounterVec
	probeFailures  *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	submissions    *prometheus.CounterVec
	partialFailure prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "crypto_ledger",
				Subsystem: "reconcile",
				Name:      "ticks_total",
				Help:      "Total number of reconciliation ticks run.",
			},
		),
		tickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "crypto_ledger",
				Subsystem: "reconcile",
				Name:      "tick_duration_seconds",
				Help:      "Duration of reconciliation ticks.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "crypto_ledger",
				Subsystem: "reconcile",
				Name:      "transactions_total",
				Help:      "Pending transactions examined, by outcome.",
			},
			[]string{"outcome"},
		),
		probeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "crypto_ledger",
				Subsystem: "reconcile",
				Name:      "probe_failures_total",
				Help:      "Ledger status lookups that failed and were resolved fail-open.",
			},
			[]string{"currency"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "crypto_ledger",
				Subsystem: "reconcile",
				Name:      "transitions_total",
				Help:      "Terminal status transitions persisted by the scheduler.",
			},
			[]string{"currency", "status", "rule"},
		),
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "crypto_ledger",
				Subsystem: "submit",
				Name:      "transactions_total",
				Help:      "Transactions recorded by the submitter, by reference provenance.",
			},
			[]string{"currency", "reference_kind", "status"},
		),
		partialFailure: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "crypto_ledger",
				Subsystem: "submit",
				Name:      "compound_partial_failures_total",
				Help:      "Compound transfers whose second leg failed after the first committed.",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.ticks, m.tickDuration, m.outcomes, m.probeFailures,
			m.transitions, m.submissions, m.partialFailure,
		)
	}
	return m
}

func (m *Metrics) observeTick(d time.Duration) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	m.tickDuration.Observe(d.Seconds())
}

func (m *Metrics) observeOutcome(outcome Outcome) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) observeProbeFailure(currency domain.Currency) {
	if m == nil {
		return
	}
	m.probeFailures.WithLabelValues(string(currency)).Inc()
}

func (m *Metrics) observeTransition(currency domain.Currency, status domain.Status, rule Rule) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(currency), string(status), rule.String()).Inc()
}

func (m *Metrics) observeSubmission(tx *domain.Transaction) {
	if m == nil || tx == nil {
		return
	}
	m.submissions.WithLabelValues(string(tx.Currency), string(tx.Reference.Kind), string(tx.Status)).Inc()
}

func (m *Metrics) observePartialFailure() {
	if m == nil {
		return
	}
	m.partialFailure.Inc()
}
