package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCoinCounters(t *testing.T) {
	before := testutil.ToFloat64(coinsAwarded.WithLabelValues("base"))
	RecordCoinsAwarded("base", 5)
	RecordCoinsAwarded("base", 0)
	require.Equal(t, before+5, testutil.ToFloat64(coinsAwarded.WithLabelValues("base")))

	before = testutil.ToFloat64(coinsSpent.WithLabelValues("theme_unlock"))
	RecordCoinsSpent("theme_unlock", 50)
	RecordCoinsSpent("theme_unlock", -1)
	require.Equal(t, before+50, testutil.ToFloat64(coinsSpent.WithLabelValues("theme_unlock")))
}

func TestStreakAndFundsCounters(t *testing.T) {
	before := testutil.ToFloat64(streakTransitions.WithLabelValues("extended"))
	RecordStreakTransition("extended")
	require.Equal(t, before+1, testutil.ToFloat64(streakTransitions.WithLabelValues("extended")))

	before = testutil.ToFloat64(insufficientFunds)
	RecordInsufficientFunds()
	require.Equal(t, before+1, testutil.ToFloat64(insufficientFunds))
}

func TestObserveOperationLabelsOutcome(t *testing.T) {
	ObserveOperation("award", time.Now(), nil)
	ObserveOperation("award", time.Now(), errors.New("x"))
	require.Equal(t, 2, testutil.CollectAndCount(operationLatency, "daisy_ledger_operation_duration_seconds"))
}

func TestRecordLedgerWrite(t *testing.T) {
	ts := time.Date(2025, time.January, 2, 3, 4, 5, 0, time.UTC)
	RecordLedgerWrite(time.Time{})
	RecordLedgerWrite(ts)
	require.Equal(t, float64(ts.Unix()), testutil.ToFloat64(lastWriteGauge))
}
