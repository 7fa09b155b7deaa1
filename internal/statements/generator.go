package statements

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/arstatement/internal/receivables"
)

// GenerateInput carries everything needed to compute one statement.
type GenerateInput struct {
	TenantID       int64
	RunID          int64
	PeriodID       int64
	RunType        RunType
	Profile        receivables.Profile
	PeriodStart    time.Time
	PeriodEnd      time.Time
	CutoffDate     time.Time
	OpeningBalance decimal.Decimal
	Invoices       []receivables.Invoice
	Payments       []receivables.Payment
}

// Generate computes the statement snapshot for one profile. The boolean is false when the
// profile has nothing to report: zero closing balance and no invoice movement in the window.
func Generate(in GenerateInput) (Statement, bool) {
	ledger := buildLedger(in)

	var (
		debits  = decimal.Zero
		credits = decimal.Zero
		aging   receivables.AgingBuckets
		charged bool
	)
	running := in.OpeningBalance
	for i := range ledger {
		entry := &ledger[i]
		switch entry.Kind {
		case EntryKindInvoice:
			charged = true
			debits = debits.Add(entry.Amount)
			running = running.Add(entry.Amount)
			if entry.Invoice.BalanceDue.IsPositive() {
				aging.Add(receivables.DaysPastDue(in.PeriodEnd, entry.Invoice.DueDate), entry.Invoice.BalanceDue)
			}
		case EntryKindPayment:
			credits = credits.Add(entry.Amount)
			running = running.Sub(entry.Amount)
		}
		entry.RunningBalance = running
	}
	closing := in.OpeningBalance.Add(debits).Sub(credits)
	if closing.IsZero() && !charged {
		return Statement{}, false
	}

	p := in.Profile
	return Statement{
		TenantID:       in.TenantID,
		RunID:          in.RunID,
		PeriodID:       in.PeriodID,
		ProfileID:      p.ID,
		AccountID:      p.AccountID,
		PeriodStart:    in.PeriodStart,
		PeriodEnd:      in.PeriodEnd,
		CutoffDate:     in.CutoffDate,
		DueDate:        in.PeriodEnd.AddDate(0, 0, p.PaymentTermsDays),
		OpeningBalance: in.OpeningBalance,
		TotalDebits:    debits,
		TotalCredits:   credits,
		ClosingBalance: closing,
		Aging:          aging,
		Profile: ProfileSnapshot{
			DisplayName:      p.DisplayName,
			AccountNumber:    p.AccountNumber,
			Kind:             p.Kind,
			Email:            p.Email,
			BillingAddress:   p.BillingAddress,
			PaymentTermsDays: p.PaymentTermsDays,
			CreditLimit:      p.CreditLimit,
		},
		Ledger:           ledger,
		TransactionCount: len(ledger),
		Delivery:         NewDelivery(),
	}, true
}

// buildLedger merges in-window movements ordered by date, invoices before payments, then id.
func buildLedger(in GenerateInput) []LedgerEntry {
	type keyed struct {
		entry LedgerEntry
		id    int64
	}
	var items []keyed
	for _, inv := range in.Invoices {
		if outside(inv.InvoiceDate, in.PeriodStart, in.CutoffDate) {
			continue
		}
		items = append(items, keyed{id: inv.ID, entry: LedgerEntry{
			Kind:        EntryKindInvoice,
			Date:        inv.InvoiceDate,
			Description: describe(inv.Description, "Invoice "+inv.Number),
			Amount:      inv.Amount,
			Invoice: &InvoiceMovement{
				InvoiceID:  inv.ID,
				Number:     inv.Number,
				DueDate:    inv.DueDate,
				BalanceDue: inv.BalanceDue,
			},
		}})
	}
	for _, pay := range in.Payments {
		if outside(pay.PaymentDate, in.PeriodStart, in.CutoffDate) {
			continue
		}
		items = append(items, keyed{id: pay.ID, entry: LedgerEntry{
			Kind:        EntryKindPayment,
			Date:        pay.PaymentDate,
			Description: describe("", "Payment "+pay.Reference),
			Amount:      pay.Amount,
			Payment: &PaymentMovement{
				PaymentID: pay.ID,
				Reference: pay.Reference,
				Method:    pay.Method,
			},
		}})
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if !a.entry.Date.Equal(b.entry.Date) {
			return a.entry.Date.Before(b.entry.Date)
		}
		if a.entry.Kind != b.entry.Kind {
			return a.entry.Kind == EntryKindInvoice
		}
		return a.id < b.id
	})
	ledger := make([]LedgerEntry, len(items))
	for i := range items {
		ledger[i] = items[i].entry
	}
	return ledger
}

func outside(d, from, to time.Time) bool {
	return d.Before(from) || d.After(to)
}

func describe(desc, fallback string) string {
	if desc != "" {
		return desc
	}
	return fallback
}
