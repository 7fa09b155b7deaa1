package receivables

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// AgingBuckets summarises outstanding balances by days past due.
type AgingBuckets struct {
	Current    decimal.Decimal `json:"current"`
	Days1To30  decimal.Decimal `json:"days_1_30"`
	Days31To60 decimal.Decimal `json:"days_31_60"`
	Days61To90 decimal.Decimal `json:"days_61_90"`
	Over90     decimal.Decimal `json:"over_90"`
}

// DaysPastDue returns floor((asOf - due) / 1 day) on calendar dates.
func DaysPastDue(asOf, due time.Time) int {
	a := dateOnly(asOf)
	d := dateOnly(due)
	return int(math.Floor(a.Sub(d).Hours() / 24))
}

// Add places amount in the bucket for the given days past due.
func (b *AgingBuckets) Add(days int, amount decimal.Decimal) {
	switch {
	case days <= 0:
		b.Current = b.Current.Add(amount)
	case days <= 30:
		b.Days1To30 = b.Days1To30.Add(amount)
	case days <= 60:
		b.Days31To60 = b.Days31To60.Add(amount)
	case days <= 90:
		b.Days61To90 = b.Days61To90.Add(amount)
	default:
		b.Over90 = b.Over90.Add(amount)
	}
}

// Merge adds other into b.
func (b *AgingBuckets) Merge(other AgingBuckets) {
	b.Current = b.Current.Add(other.Current)
	b.Days1To30 = b.Days1To30.Add(other.Days1To30)
	b.Days31To60 = b.Days31To60.Add(other.Days31To60)
	b.Days61To90 = b.Days61To90.Add(other.Days61To90)
	b.Over90 = b.Over90.Add(other.Over90)
}

// Total returns the sum across buckets.
func (b AgingBuckets) Total() decimal.Decimal {
	return b.Current.Add(b.Days1To30).Add(b.Days31To60).Add(b.Days61To90).Add(b.Over90)
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
