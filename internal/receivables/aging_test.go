package receivables

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestDaysPastDueUsesCalendarDays(t *testing.T) {
	periodEnd := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	require.Equal(t, -10, DaysPastDue(periodEnd, time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, 0, DaysPastDue(periodEnd, periodEnd))
	require.Equal(t, 1, DaysPastDue(periodEnd, time.Date(2024, 3, 30, 23, 0, 0, 0, time.UTC)))
}

func TestAgingBucketsBoundaries(t *testing.T) {
	cases := []struct {
		days int
		pick func(AgingBuckets) decimal.Decimal
	}{
		{-5, func(b AgingBuckets) decimal.Decimal { return b.Current }},
		{0, func(b AgingBuckets) decimal.Decimal { return b.Current }},
		{1, func(b AgingBuckets) decimal.Decimal { return b.Days1To30 }},
		{30, func(b AgingBuckets) decimal.Decimal { return b.Days1To30 }},
		{31, func(b AgingBuckets) decimal.Decimal { return b.Days31To60 }},
		{60, func(b AgingBuckets) decimal.Decimal { return b.Days31To60 }},
		{61, func(b AgingBuckets) decimal.Decimal { return b.Days61To90 }},
		{90, func(b AgingBuckets) decimal.Decimal { return b.Days61To90 }},
		{91, func(b AgingBuckets) decimal.Decimal { return b.Over90 }},
	}
	for _, tc := range cases {
		var b AgingBuckets
		b.Add(tc.days, decimal.NewFromInt(10))
		require.True(t, tc.pick(b).Equal(decimal.NewFromInt(10)), "days=%d", tc.days)
		require.True(t, b.Total().Equal(decimal.NewFromInt(10)))
	}
}
