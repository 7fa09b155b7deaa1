package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("ar:statement-run").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("ar:statement-run").End(boom), boom)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("ar:statement-run", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("ar:statement-run")))
}

func TestProfileOutcomesIgnoreEmptyCounts(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddProfileOutcome("FINAL", "generated", 3)
	m.AddProfileOutcome("FINAL", "skipped", 0)
	m.AddCheckResult("no_orphan_payments", "passed")

	require.Equal(t, 3.0, testutil.ToFloat64(m.profiles.WithLabelValues("FINAL", "generated")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.profiles.WithLabelValues("FINAL", "skipped")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.checks.WithLabelValues("no_orphan_payments", "passed")))

	var nilMetrics *Metrics
	nilMetrics.AddProfileOutcome("FINAL", "error", 1)
	require.NoError(t, nilMetrics.Track("x").End(nil))
}
