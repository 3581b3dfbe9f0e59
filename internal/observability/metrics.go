// Package observability exposes Prometheus metrics for ledger and streak operations.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "daisy"

var (
	coinsAwarded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "coins_awarded_total",
		Help:      "Coins credited to balances, by source (base, streak_bonus, lucky_bonus).",
	}, []string{"source"})
	coinsSpent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "coins_spent_total",
		Help:      "Coins debited from balances, by reason.",
	}, []string{"reason"})
	insufficientFunds = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "insufficient_funds_total",
		Help:      "Debits rejected because the balance was too low.",
	})
	streakTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "streak",
		Name:      "transitions_total",
		Help:      "Streak decisions by transition.",
	}, []string{"transition"})
	operationLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "operation_duration_seconds",
		Help:      "Latency of ledger operations by name and outcome.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "outcome"})
	cacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Balance snapshot cache lookups by result (hit, miss, error).",
	}, []string{"result"})
	lastWriteGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "persistence",
		Name:      "last_ledger_write_timestamp_seconds",
		Help:      "Unix timestamp of the most recent committed ledger write.",
	})
)

func init() {
	prometheus.MustRegister(coinsAwarded, coinsSpent, insufficientFunds, streakTransitions, operationLatency, cacheLookups, lastWriteGauge)
}

// RecordCoinsAwarded adds amount to the awarded counter for source. Non-positive amounts are ignored.
func RecordCoinsAwarded(source string, amount int64) {
	if amount <= 0 {
		return
	}
	coinsAwarded.WithLabelValues(source).Add(float64(amount))
}

// RecordCoinsSpent adds amount to the spent counter for reason.
func RecordCoinsSpent(reason string, amount int64) {
	if amount <= 0 {
		return
	}
	coinsSpent.WithLabelValues(reason).Add(float64(amount))
}

// RecordInsufficientFunds counts a rejected debit.
func RecordInsufficientFunds() {
	insufficientFunds.Inc()
}

// RecordStreakTransition counts a streak decision.
func RecordStreakTransition(transition string) {
	streakTransitions.WithLabelValues(transition).Inc()
}

// ObserveOperation records the latency of a ledger operation.
func ObserveOperation(operation string, started time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	operationLatency.WithLabelValues(operation, outcome).Observe(time.Since(started).Seconds())
}

// RecordCacheLookup counts a snapshot cache lookup.
func RecordCacheLookup(result string) {
	cacheLookups.WithLabelValues(result).Inc()
}

// RecordLedgerWrite updates the write watermark gauge.
func RecordLedgerWrite(ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastWriteGauge.Set(float64(ts.Unix()))
}
